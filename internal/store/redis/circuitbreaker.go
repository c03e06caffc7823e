package redis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // requests pass through
	StateOpen     State = 1 // requests rejected immediately
	StateHalfOpen State = 2 // one probe request allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" default:"5" validate:"gte=1"`
	ResetTimeout time.Duration `yaml:"reset_timeout" default:"10s"`
}

// CircuitBreaker opens after MaxFailures consecutive failures and rejects
// calls for ResetTimeout. It then lets a single probe through: success
// closes it, failure reopens it. A cancelled caller context is not counted
// as a backend failure.
type CircuitBreaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
	now         func() time.Time

	// OnStateChange is called on every transition, with the lock held.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Execute runs fn unless the breaker rejects it with ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	cb.probing = false

	if errors.Is(err, context.Canceled) {
		// Inconclusive; a half-open breaker lets the next call probe again.
		return
	}

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if wasProbe || cb.failures >= cb.cfg.MaxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	if wasProbe {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

// CurrentState returns the current circuit breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
