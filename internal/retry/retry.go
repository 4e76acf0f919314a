// Package retry provides a bounded fixed-delay retry helper for fetches whose
// failure is routine (quote gaps, broker throttling).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop. Attempts counts every call including the first.
type Policy struct {
	Attempts int
	Delay    time.Duration

	// Retryable decides whether err warrants another attempt. Nil retries
	// every error.
	Retryable func(err error) bool

	// OnRetry is invoked after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Do calls fn until it succeeds, the policy's attempts are used up, fn returns
// a non-retryable error, or ctx is done. Sleeps between attempts are
// interrupted by ctx cancellation.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := Sleep(ctx, p.Delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
