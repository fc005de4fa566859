package monitor

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"peerkeeper/internal/metrics"
	"peerkeeper/internal/models"
)

// DefaultExcludedPrefixes lists loopback addresses skipped on network restarts.
var DefaultExcludedPrefixes = []string{
	"/ip4/127.",
	"/ip6/::1/",
	"/dns4/localhost/",
	"/dns6/localhost/",
	"/dns/localhost/",
}

// NetworkBridge restarts supervisors when the network becomes available.
type NetworkBridge struct {
	registry *Registry
	excluded []string
	log      *logrus.Entry
}

// NewNetworkBridge creates a bridge. A nil excluded list uses DefaultExcludedPrefixes.
func NewNetworkBridge(registry *Registry, excluded []string, logger *logrus.Entry) *NetworkBridge {
	if excluded == nil {
		excluded = DefaultExcludedPrefixes
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &NetworkBridge{
		registry: registry,
		excluded: excluded,
		log:      logger.WithField("component", "network"),
	}
}

// Excluded reports whether peer is never restarted by network signals.
func (b *NetworkBridge) Excluded(peer models.PeerAddress) bool {
	addr := string(peer)
	for _, prefix := range b.excluded {
		if prefix != "" && strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	return false
}

// Online restarts every non-local peer and returns how many were restarted.
func (b *NetworkBridge) Online() int {
	restarted := 0
	for _, peer := range b.registry.Peers() {
		if b.Excluded(peer) {
			continue
		}
		if err := b.registry.Restart(peer); err != nil {
			if !errors.Is(err, ErrNotStarted) {
				b.log.WithError(err).WithField("peer", peer.String()).Warn("restart failed")
			}
			continue
		}
		restarted++
	}
	metrics.NetworkRestarts.Add(float64(restarted))
	b.log.WithField("restarted", restarted).Info("network available")
	return restarted
}

// Watch consumes availability updates (true = online) until ctx is done or
// updates is closed. The first update only sets the baseline; Online runs on
// every later offline to online transition.
func (b *NetworkBridge) Watch(ctx context.Context, updates <-chan bool) {
	known := false
	online := false
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if known && !online && up {
				b.Online()
			} else if !up && (!known || online) {
				b.log.Info("network unavailable")
			}
			online = up
			known = true
		}
	}
}
