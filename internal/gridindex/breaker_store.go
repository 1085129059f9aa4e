package gridindex

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/proximity-matcher/pkg/resilience"
)

const breakerName = "grid-store"

// BreakerStore fails fast while the underlying store keeps failing.
// Transitions are exported on the circuit breaker state gauge when m is set.
type BreakerStore struct {
	next    Store
	breaker *resilience.CircuitBreaker
}

func NewBreakerStore(next Store, cfg resilience.CircuitBreakerConfig, m *metrics.Metrics) *BreakerStore {
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(breakerName).Set(float64(resilience.StateClosed))
		hook := cfg.OnStateChange
		cfg.OnStateChange = func(name string, from, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if hook != nil {
				hook(name, from, to)
			}
		}
	}
	return &BreakerStore{
		next:    next,
		breaker: resilience.NewCircuitBreaker(breakerName, cfg),
	}
}

func (s *BreakerStore) Add(ctx context.Context, keys []string, member string) error {
	return s.run(func() error { return s.next.Add(ctx, keys, member) })
}

func (s *BreakerStore) Remove(ctx context.Context, keys []string, member string) error {
	return s.run(func() error { return s.next.Remove(ctx, keys, member) })
}

func (s *BreakerStore) Members(ctx context.Context, keys []string) (map[string][]string, error) {
	var out map[string][]string
	err := s.run(func() error {
		var err error
		out, err = s.next.Members(ctx, keys)
		return err
	})
	return out, err
}

func (s *BreakerStore) Union(ctx context.Context, keys []string) ([]string, error) {
	var out []string
	err := s.run(func() error {
		var err error
		out, err = s.next.Union(ctx, keys)
		return err
	})
	return out, err
}

// State exposes the breaker state for health checks.
func (s *BreakerStore) State() resilience.State {
	return s.breaker.GetState()
}

// run reports an open breaker as ErrUnavailable so callers answer 503.
func (s *BreakerStore) run(fn func() error) error {
	err := s.breaker.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	return err
}
