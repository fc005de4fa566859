// Package status merges per-peer connectivity into a global report.
package status

import (
	"sync"
	"time"

	"peerkeeper/internal/models"
)

// Listener receives every recomputed snapshot. Listeners run while the
// aggregator holds its lock and must not call back into it.
type Listener func(models.Snapshot)

// Aggregator keeps the latest status of every peer and derives a snapshot on
// every report.
type Aggregator struct {
	mu        sync.Mutex
	order     []models.PeerAddress
	statuses  map[models.PeerAddress]models.PeerStatus
	latest    models.Snapshot
	listeners []Listener
}

// NewAggregator creates an aggregator pre-registered with peers.
func NewAggregator(peers ...models.PeerAddress) *Aggregator {
	a := &Aggregator{
		statuses: make(map[models.PeerAddress]models.PeerStatus),
	}
	a.Register(peers...)
	return a
}

// Register seeds peers as disconnected. Already known peers are left untouched.
func (a *Aggregator) Register(peers ...models.PeerAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, peer := range peers {
		if _, ok := a.statuses[peer]; ok {
			continue
		}
		a.order = append(a.order, peer)
		a.statuses[peer] = models.PeerStatus{}
	}
	a.latest = a.computeLocked()
}

// Subscribe registers a listener for future snapshots.
func (a *Aggregator) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Report replaces the status of peer and emits the recomputed snapshot.
func (a *Aggregator) Report(peer models.PeerAddress, status models.PeerStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.statuses[peer]; !ok {
		a.order = append(a.order, peer)
	}
	a.statuses[peer] = copyStatus(status)
	a.latest = a.computeLocked()

	for _, fn := range a.listeners {
		fn(a.latest)
	}
}

// Snapshot returns the most recently computed snapshot.
func (a *Aggregator) Snapshot() models.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// Status returns the latest status reported for peer.
func (a *Aggregator) Status(peer models.PeerAddress) (models.PeerStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.statuses[peer]
	return s, ok
}

func (a *Aggregator) computeLocked() models.Snapshot {
	entries := make([]models.PeerEntry, 0, len(a.order))
	for _, peer := range a.order {
		entries = append(entries, models.PeerEntry{Peer: peer, Status: a.statuses[peer]})
	}
	return Compute(entries)
}

// Compute derives a snapshot from a full set of peer statuses.
func Compute(entries []models.PeerEntry) models.Snapshot {
	snap := models.Snapshot{
		Offline: true,
		Peers:   entries,
	}

	var (
		last    time.Time
		hasLast bool
		total   time.Duration
		count   int
	)
	for _, entry := range entries {
		st := entry.Status
		if st.Connected {
			snap.Offline = false
			if st.Latency != nil {
				total += *st.Latency
				count++
			}
		}
		if st.LastConnectedAt != nil && (!hasLast || st.LastConnectedAt.After(last)) {
			last = *st.LastConnectedAt
			hasLast = true
		}
	}

	if hasLast {
		snap.LastConnectedAt = &last
	}
	if count > 0 {
		avg := total / time.Duration(count)
		snap.AverageLatency = &avg
	}
	return snap
}

func copyStatus(s models.PeerStatus) models.PeerStatus {
	out := models.PeerStatus{Connected: s.Connected}
	if s.LastConnectedAt != nil {
		ts := *s.LastConnectedAt
		out.LastConnectedAt = &ts
	}
	if s.Latency != nil {
		l := *s.Latency
		out.Latency = &l
	}
	return out
}
