// Package resilience holds the fault-tolerance wrappers used around the grid
// store and the service's outbound calls: a circuit breaker, a backoff retry
// and a timeout helper.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// CircuitBreakerConfig controls when a breaker trips and how it recovers.
// Zero values take the defaults of NewCircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int

	// IsFailure decides whether an error counts against the breaker. By
	// default cancellations by the caller do not.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker counts consecutive failures, opens at the threshold and lets
// a limited number of probes through once ResetTimeout has elapsed.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig
	now  func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probesInUse int

	logger *slog.Logger
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "breaker", name),
	}
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the breaker is open and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// GetState returns the current state. An open breaker whose reset timeout has
// passed still reports open until the next call probes it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			cb.mu.Unlock()
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		from := cb.transitionLocked(StateHalfOpen)
		cb.probesInUse = 1
		cb.mu.Unlock()
		cb.notify(from, StateHalfOpen)
		return nil
	case StateHalfOpen:
		defer cb.mu.Unlock()
		if cb.probesInUse >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.probesInUse++
		return nil
	default:
		cb.mu.Unlock()
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	if err != nil && !cb.cfg.IsFailure(err) {
		// Neither outcome; free the probe slot.
		if cb.state == StateHalfOpen && cb.probesInUse > 0 {
			cb.probesInUse--
		}
		cb.mu.Unlock()
		return
	}
	from, to := cb.state, cb.state
	if err != nil {
		cb.failures++
		switch {
		case cb.state == StateHalfOpen:
			to = StateOpen
		case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
			to = StateOpen
		}
		if to == StateOpen {
			cb.openedAt = cb.now()
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			to = StateClosed
		}
	}
	if to != from {
		cb.transitionLocked(to)
	}
	failures := cb.failures
	cb.mu.Unlock()

	if to != from {
		if to == StateOpen {
			cb.logger.Warn("circuit opened", "from", from.String(), "consecutive_failures", failures, "error", err)
		} else {
			cb.logger.Info("circuit closed", "from", from.String())
		}
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) State {
	from := cb.state
	cb.state = to
	cb.probesInUse = 0
	return from
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// Reset closes the breaker and clears its failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	if from != StateClosed {
		cb.logger.Info("circuit reset", "from", from.String())
		cb.notify(from, StateClosed)
	}
}
