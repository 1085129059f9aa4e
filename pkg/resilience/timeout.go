package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds fn to timeout. It returns as soon as the deadline
// passes even if fn ignores its context, so fn must be safe to abandon.
// A non-positive timeout runs fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w after %v", name, context.Cause(ctx), timeout)
	}
}
