package models

import (
	"time"
)

// PeerAddress identifies a remote peer by its multiaddress.
type PeerAddress string

func (a PeerAddress) String() string {
	return string(a)
}

// PeerStatus captures the current connectivity of a single peer.
type PeerStatus struct {
	Connected       bool           `json:"connected"`
	LastConnectedAt *time.Time     `json:"last_connected_at,omitempty"`
	Latency         *time.Duration `json:"latency,omitempty"`
}

// Disconnected returns the status with the connection flag cleared and the
// latency dropped. The last connected time is kept.
func (s PeerStatus) Disconnected() PeerStatus {
	return PeerStatus{
		Connected:       false,
		LastConnectedAt: s.LastConnectedAt,
	}
}

// ConnectedStatus builds a status for a peer that answered a probe at the given time.
func ConnectedStatus(at time.Time, latency time.Duration) PeerStatus {
	ts := at.UTC()
	return PeerStatus{
		Connected:       true,
		LastConnectedAt: &ts,
		Latency:         &latency,
	}
}

// PeerEntry pairs a peer with its latest reported status.
type PeerEntry struct {
	Peer   PeerAddress `json:"peer"`
	Status PeerStatus  `json:"status"`
}

// Snapshot is the aggregated connectivity report across all known peers.
type Snapshot struct {
	Offline         bool           `json:"offline"`
	LastConnectedAt *time.Time     `json:"last_connected_at,omitempty"`
	AverageLatency  *time.Duration `json:"average_latency,omitempty"`
	Peers           []PeerEntry    `json:"peers"`
}

// HistoryEntry stores a snapshot at a moment in time.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
}
