package models

import "errors"

var (
	// ErrNoPeers aborts startup when the peer list resolves to nothing.
	ErrNoPeers = errors.New("no peers configured")
	// ErrUnknownPeer is returned for addresses without a supervisor.
	ErrUnknownPeer = errors.New("unknown peer")
)
