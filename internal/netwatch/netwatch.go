// Package netwatch reports whether the host has a usable network.
package netwatch

import "context"

// Source emits network availability, true meaning online. The first value is
// the current state; later values are sent only when the state changes. The
// channel is closed once ctx is done.
type Source interface {
	Watch(ctx context.Context) (<-chan bool, error)
}
