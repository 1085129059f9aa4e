package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig is an exponential backoff policy with jitter. Zero fields take
// the defaults below.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64

	// Retryable reports whether a failed attempt may be repeated. Open
	// breakers and context errors are never retried.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 50 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

func (c RetryConfig) retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return c.Retryable == nil || c.Retryable(err)
}

// Retry calls fn until it succeeds, the error is not retryable, attempts run
// out or ctx is done. The last error is wrapped in the returned error.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				slog.Debug("retry succeeded", "operation", name, "attempt", attempt)
			}
			return nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.retryable(err) {
			break
		}
		delay := backoff(attempt, cfg)
		slog.Warn("retrying after failure",
			"operation", name,
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: retry aborted: %w", name, errors.Join(ctx.Err(), err))
		}
	}
	if cfg.MaxAttempts == 1 {
		return err
	}
	return fmt.Errorf("%s failed: %w", name, err)
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	return time.Duration(math.Max(float64(cfg.InitialDelay), math.Min(d, float64(cfg.MaxDelay))))
}
