// Package backoff computes Fibonacci reconnect delays for peer supervisors.
//
// Two policies are provided. Bounded gives up after a fixed number of retries,
// Capped keeps retrying forever once the delay reaches a ceiling. A deployment
// picks exactly one of them.
package backoff

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultInitial is the first reconnect delay.
	DefaultInitial = time.Second
	// DefaultMaxRetries bounds reconnect cycles before a peer is given up.
	DefaultMaxRetries = 17
	// DefaultMaxInterval caps the reconnect delay of the Capped policy.
	DefaultMaxInterval = 5 * time.Minute

	VariantBounded = "bounded"
	VariantCapped  = "capped"
)

var ErrUnknownVariant = errors.New("unknown backoff variant")

// State is the backoff position of one connection attempt cycle.
type State struct {
	RetryNumber    int           `json:"retry_number"`
	LastBackoff    time.Duration `json:"last_backoff"`
	CurrentBackoff time.Duration `json:"current_backoff"`
}

// Policy advances backoff state. Implementations are pure.
type Policy interface {
	// Initial returns the state used after a successful probe or a fresh attempt.
	Initial() State
	// Next returns the state following s.
	Next(s State) State
	// Exhausted reports whether no further reconnect should be scheduled.
	Exhausted(s State) bool
}

func fibonacci(s State) State {
	return State{
		RetryNumber:    s.RetryNumber + 1,
		LastBackoff:    s.CurrentBackoff,
		CurrentBackoff: s.LastBackoff + s.CurrentBackoff,
	}
}

// Bounded stops reconnecting once RetryNumber exceeds MaxRetries.
type Bounded struct {
	InitialBackoff time.Duration
	MaxRetries     int
}

// Initial returns the zero-retry state waiting InitialBackoff, or
// DefaultInitial when it is unset.
func (b Bounded) Initial() State {
	return State{CurrentBackoff: normalizeInitial(b.InitialBackoff)}
}

// Next advances s by one Fibonacci step.
func (b Bounded) Next(s State) State {
	return fibonacci(s)
}

// Exhausted reports whether s has used more than MaxRetries retries.
func (b Bounded) Exhausted(s State) bool {
	return s.RetryNumber > b.MaxRetries
}

// Capped retries forever, never waiting longer than Ceiling.
type Capped struct {
	InitialBackoff time.Duration
	Ceiling        time.Duration
}

// Initial returns the zero-retry state, clamped to Ceiling.
func (c Capped) Initial() State {
	initial := normalizeInitial(c.InitialBackoff)
	if c.Ceiling > 0 && initial > c.Ceiling {
		initial = c.Ceiling
	}
	return State{CurrentBackoff: initial}
}

// Next advances s by one Fibonacci step and clamps the delay to Ceiling.
func (c Capped) Next(s State) State {
	next := fibonacci(s)
	if c.Ceiling > 0 && next.CurrentBackoff > c.Ceiling {
		next.CurrentBackoff = c.Ceiling
	}
	return next
}

// Exhausted is always false.
func (c Capped) Exhausted(State) bool {
	return false
}

// Config selects and parameterises a policy.
type Config struct {
	Variant     string        `yaml:"variant" toml:"variant" json:"variant"`
	Initial     time.Duration `yaml:"initial" toml:"initial" json:"initial"`
	MaxRetries  int           `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	MaxInterval time.Duration `yaml:"max_interval" toml:"max_interval" json:"max_interval"`
}

// DefaultConfig returns the bounded policy with its documented defaults.
func DefaultConfig() Config {
	return Config{
		Variant:     VariantBounded,
		Initial:     DefaultInitial,
		MaxRetries:  DefaultMaxRetries,
		MaxInterval: DefaultMaxInterval,
	}
}

// FromConfig builds the policy named by cfg.Variant.
func FromConfig(cfg Config) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Variant)) {
	case "", VariantBounded:
		if cfg.MaxRetries < 0 {
			return nil, fmt.Errorf("max_retries must not be negative, got %d", cfg.MaxRetries)
		}
		return Bounded{InitialBackoff: cfg.Initial, MaxRetries: cfg.MaxRetries}, nil
	case VariantCapped:
		if cfg.MaxInterval <= 0 {
			return nil, errors.New("max_interval must be positive for the capped variant")
		}
		return Capped{InitialBackoff: cfg.Initial, Ceiling: cfg.MaxInterval}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, cfg.Variant)
	}
}

func normalizeInitial(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInitial
	}
	return d
}
