package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"peerkeeper/internal/backoff"
	"peerkeeper/internal/models"
	"peerkeeper/internal/node"
)

var (
	ErrAlreadyStarted = errors.New("supervisors already started")
	ErrNotStarted     = errors.New("supervisors not started")
	ErrStopped        = errors.New("supervisors stopped")
)

// RegistryConfig is shared by every supervisor in a registry.
type RegistryConfig struct {
	Peers    []models.PeerAddress
	Node     node.Node
	Policy   backoff.Policy
	Reporter Reporter
	Clock    clock.Clock
	Timing   Timing
	Logger   *logrus.Entry
}

// Registry owns one supervisor per peer.
type Registry struct {
	log         *logrus.Entry
	order       []models.PeerAddress
	supervisors map[models.PeerAddress]*Supervisor

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
}

// NewRegistry creates idle supervisors for the configured peers. Blank and
// duplicate addresses are ignored.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Node == nil {
		return nil, errors.New("registry requires a node")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	r := &Registry{
		log:         logger.WithField("component", "registry"),
		supervisors: make(map[models.PeerAddress]*Supervisor),
		stopCh:      make(chan struct{}),
	}
	for _, peer := range cfg.Peers {
		peer = models.PeerAddress(strings.TrimSpace(string(peer)))
		if peer == "" {
			continue
		}
		if _, ok := r.supervisors[peer]; ok {
			continue
		}
		r.order = append(r.order, peer)
		r.supervisors[peer] = NewSupervisor(SupervisorConfig{
			Peer:     peer,
			Node:     cfg.Node,
			Policy:   cfg.Policy,
			Reporter: cfg.Reporter,
			Clock:    cfg.Clock,
			Timing:   cfg.Timing,
			Logger:   logger.WithField("component", "supervisor"),
		})
	}
	if len(r.order) == 0 {
		return nil, models.ErrNoPeers
	}
	return r, nil
}

// Peers returns the supervised addresses in configuration order.
func (r *Registry) Peers() []models.PeerAddress {
	out := make([]models.PeerAddress, len(r.order))
	copy(out, r.order)
	return out
}

// Supervisor returns the supervisor of peer.
func (r *Registry) Supervisor(peer models.PeerAddress) (*Supervisor, bool) {
	s, ok := r.supervisors[peer]
	return s, ok
}

// PeerState describes one supervisor for display.
type PeerState struct {
	Peer        models.PeerAddress `json:"peer"`
	State       string             `json:"state"`
	RetryNumber int                `json:"retry_number"`
}

// States returns the cycle state of every supervisor in configuration order.
func (r *Registry) States() []PeerState {
	out := make([]PeerState, 0, len(r.order))
	for _, peer := range r.order {
		sup := r.supervisors[peer]
		out = append(out, PeerState{
			Peer:        sup.Peer(),
			State:       sup.State().String(),
			RetryNumber: sup.Backoff().RetryNumber,
		})
	}
	return out
}

// Start launches a connection attempt for every peer. The supervisors are
// stopped when ctx is done or Stop is called.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	r.log.WithField("peers", len(r.order)).Info("starting supervisors")
	for _, peer := range r.order {
		go r.supervisors[peer].TryConnect()
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.stopCh:
		}
	}()
	return nil
}

// Started reports whether Start has been called.
func (r *Registry) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

// Restart begins a fresh connection attempt for peer.
func (r *Registry) Restart(peer models.PeerAddress) error {
	sup, ok := r.supervisors[peer]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownPeer, peer)
	}
	if !r.Started() {
		return ErrNotStarted
	}
	go sup.TryConnect()
	return nil
}

// Stop halts every supervisor and waits for in-flight attempts.
func (r *Registry) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sup := range r.supervisors {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Stop()
		}(sup)
	}
	wg.Wait()
	r.log.Info("supervisors stopped")
}
