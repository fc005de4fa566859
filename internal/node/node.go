// Package node provides the peer-to-peer node used by the connection supervisors.
package node

import (
	"context"
	"errors"
	"time"

	"peerkeeper/internal/models"
)

var (
	ErrUnsupportedAddress = errors.New("unsupported peer address")
	ErrNotConnected       = errors.New("peer not connected")
	ErrClosed             = errors.New("node closed")
	ErrPingTimeout        = errors.New("ping timed out")
)

// Node is the capability the supervisors depend on. Implementations must be
// safe for concurrent use by many peers.
type Node interface {
	// Ping measures round-trip latency to peer, opening a session if needed.
	Ping(ctx context.Context, peer models.PeerAddress) (time.Duration, error)
	// Connect establishes a session, giving up after timeout.
	Connect(ctx context.Context, peer models.PeerAddress, timeout time.Duration) error
	// Disconnect closes the session with peer.
	Disconnect(ctx context.Context, peer models.PeerAddress) error
}
