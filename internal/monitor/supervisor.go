package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"peerkeeper/internal/backoff"
	"peerkeeper/internal/metrics"
	"peerkeeper/internal/models"
	"peerkeeper/internal/node"
)

// State is the position of a supervisor in its keep-alive cycle.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateConnected
	StateReconnecting
	StateGivenUp
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateGivenUp:
		return "given_up"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Handle identifies the most recently started cycle of a supervisor.
// Continuations holding an older handle discard themselves.
type Handle uint64

// Reporter receives every status transition of a peer.
type Reporter interface {
	Report(peer models.PeerAddress, status models.PeerStatus)
}

// Timing holds the fixed intervals of the keep-alive cycle.
type Timing struct {
	KeepAliveInterval time.Duration
	ConnectTimeout    time.Duration
	PingTimeout       time.Duration
}

// DefaultTiming returns a one minute keep-alive with a one second connect timeout.
func DefaultTiming() Timing {
	return Timing{
		KeepAliveInterval: time.Minute,
		ConnectTimeout:    time.Second,
		PingTimeout:       10 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = def.KeepAliveInterval
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = def.ConnectTimeout
	}
	if t.PingTimeout <= 0 {
		t.PingTimeout = def.PingTimeout
	}
	return t
}

// SupervisorConfig wires the collaborators of a single supervisor.
type SupervisorConfig struct {
	Peer     models.PeerAddress
	Node     node.Node
	Policy   backoff.Policy
	Reporter Reporter
	Clock    clock.Clock
	Timing   Timing
	Logger   *logrus.Entry
}

// Supervisor keeps the connection to one peer alive. It races a liveness
// probe against a reconnect timer and backs off between failed attempts.
type Supervisor struct {
	peer     models.PeerAddress
	node     node.Node
	policy   backoff.Policy
	reporter Reporter
	clock    clock.Clock
	timing   Timing
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	state          State
	latest         Handle
	backoff        backoff.State
	status         models.PeerStatus
	reconnectTimer *clock.Timer
	keepAliveTimer *clock.Timer
	stopped        bool
	announced      bool
	wasConnected   bool
}

// NewSupervisor creates an idle supervisor. Call TryConnect to start it.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = backoff.Bounded{InitialBackoff: backoff.DefaultInitial, MaxRetries: backoff.DefaultMaxRetries}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		peer:     cfg.Peer,
		node:     cfg.Node,
		policy:   policy,
		reporter: cfg.Reporter,
		clock:    clk,
		timing:   cfg.Timing.withDefaults(),
		log:      logger.WithField("peer", cfg.Peer.String()),
		ctx:      ctx,
		cancel:   cancel,
		backoff:  policy.Initial(),
	}
}

// Peer returns the supervised address.
func (s *Supervisor) Peer() models.PeerAddress {
	return s.peer
}

// State returns the current cycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the last reported peer status.
func (s *Supervisor) Status() models.PeerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Backoff returns the backoff of the current cycle.
func (s *Supervisor) Backoff() backoff.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// Handle returns the latest recorded handle.
func (s *Supervisor) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// TryConnect probes the peer and connects on success. It blocks for at most
// one ping and one connect. Any older cycle still in flight becomes stale.
func (s *Supervisor) TryConnect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	h := s.advanceLocked()
	s.state = StateProbing
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	latency, err := s.ping()
	if err == nil {
		err = s.connect()
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || h != s.latest {
		s.log.Debug("connection attempt superseded")
		return
	}
	if err != nil {
		s.log.WithError(err).Debug("connection attempt failed")
		s.status = models.PeerStatus{}
		s.state = StateReconnecting
		s.reportLocked()
		s.keepAliveLocked(s.policy.Initial())
		return
	}

	s.backoff = s.policy.Initial()
	s.status = models.ConnectedStatus(now, latency)
	s.state = StateConnected
	s.reportLocked()
	s.scheduleKeepAliveLocked(h)
}

// Stop cancels in-flight node calls and pending timers and waits for
// running attempts to return. A stopped supervisor cannot be restarted.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.state = StateStopped
		s.advanceLocked()
		if s.reconnectTimer != nil {
			s.reconnectTimer.Stop()
		}
		if s.keepAliveTimer != nil {
			s.keepAliveTimer.Stop()
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// keepAliveLocked starts one race: a reconnect timer after the current
// backoff against an immediate probe.
func (s *Supervisor) keepAliveLocked(b backoff.State) {
	if s.policy.Exhausted(b) {
		s.giveUpLocked()
		return
	}

	h := s.advanceLocked()
	s.backoff = b
	s.state = StateProbing
	timer := s.clock.AfterFunc(b.CurrentBackoff, func() {
		s.reconnect(h, b)
	})
	s.reconnectTimer = timer

	s.wg.Add(1)
	go s.probe(h, timer)
}

func (s *Supervisor) probe(h Handle, timer *clock.Timer) {
	defer s.wg.Done()

	latency, err := s.ping()
	if err != nil {
		// The pending reconnect timer drives the cycle forward.
		metrics.ProbeFailures.WithLabelValues(s.peer.String()).Inc()
		s.log.WithError(err).Debug("keep-alive probe failed")
		return
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !timer.Stop() {
		return
	}

	s.status = models.ConnectedStatus(now, latency)
	if h != s.latest {
		s.reportLocked()
		s.log.Debug("probe won a superseded race")
		return
	}
	s.backoff = s.policy.Initial()
	s.state = StateConnected
	s.reportLocked()
	s.scheduleKeepAliveLocked(h)
}

func (s *Supervisor) reconnect(h Handle, b backoff.State) {
	s.mu.Lock()
	if s.stopped || h != s.latest {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.status = s.status.Disconnected()
	s.reportLocked()
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	metrics.Reconnects.WithLabelValues(s.peer.String()).Inc()
	s.log.WithFields(logrus.Fields{
		"retry":   b.RetryNumber,
		"backoff": b.CurrentBackoff,
	}).Debug("reconnecting")

	if err := s.disconnect(); err != nil {
		s.log.WithError(err).Debug("disconnect failed")
	}
	if err := s.connect(); err != nil {
		s.log.WithError(err).Debug("reconnect failed")
	}

	next := s.policy.Next(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || h != s.latest {
		return
	}
	s.keepAliveLocked(next)
}

func (s *Supervisor) giveUpLocked() {
	s.advanceLocked()
	s.state = StateGivenUp
	s.status = s.status.Disconnected()
	s.reportLocked()
	metrics.GiveUps.WithLabelValues(s.peer.String()).Inc()
	s.log.WithField("retries", s.backoff.RetryNumber).Warn("giving up on peer until the network comes back")
}

func (s *Supervisor) scheduleKeepAliveLocked(h Handle) {
	s.keepAliveTimer = s.clock.AfterFunc(s.timing.KeepAliveInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || h != s.latest {
			return
		}
		s.keepAliveLocked(s.policy.Initial())
	})
}

func (s *Supervisor) advanceLocked() Handle {
	s.latest++
	return s.latest
}

func (s *Supervisor) reportLocked() {
	if s.reporter != nil {
		s.reporter.Report(s.peer, s.status)
	}
	entry := s.log.WithField("connected", s.status.Connected)
	if s.status.Latency != nil {
		entry = entry.WithField("latency", *s.status.Latency)
	}
	if s.announced && s.wasConnected == s.status.Connected {
		entry.Debug("status reported")
		return
	}
	s.announced = true
	s.wasConnected = s.status.Connected
	if s.status.Connected {
		entry.Info("peer connected")
	} else {
		entry.Info("peer disconnected")
	}
}

func (s *Supervisor) ping() (time.Duration, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timing.PingTimeout)
	defer cancel()
	return s.node.Ping(ctx, s.peer)
}

func (s *Supervisor) connect() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timing.ConnectTimeout)
	defer cancel()
	return s.node.Connect(ctx, s.peer, s.timing.ConnectTimeout)
}

func (s *Supervisor) disconnect() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timing.ConnectTimeout)
	defer cancel()
	return s.node.Disconnect(ctx, s.peer)
}
