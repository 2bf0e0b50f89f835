package workflow

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy is the retry budget of one step.
type RetryPolicy struct {
	// Attempts is the total number of attempts (minimum 1).
	Attempts int
	// BaseDelay is the backoff before the second attempt; it doubles for
	// every attempt after that.
	BaseDelay time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout time.Duration
}

// Backoff returns the delay before attempt n (1-based). The first attempt
// has no delay.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	return time.Duration(1<<uint(n-2)) * p.BaseDelay
}

// Do runs op until it succeeds, fails permanently or the attempts are used
// up. onRetry, if set, is called after each failed attempt that will be
// retried. It returns the number of attempts made and the last error.
// Cancellation of ctx stops the loop with ctx's error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error)) (int, error) {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return i - 1, fmt.Errorf("context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if d := p.Backoff(i); d > 0 {
			select {
			case <-ctx.Done():
				return i - 1, fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(d):
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		lastErr = op(attemptCtx)
		cancel()

		if lastErr == nil {
			return i, nil
		}
		if IsPermanent(lastErr) || ctx.Err() != nil {
			return i, lastErr
		}
		if i < attempts && onRetry != nil {
			onRetry(i, lastErr)
		}
	}
	return attempts, lastErr
}
