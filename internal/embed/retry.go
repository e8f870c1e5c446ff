package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxRealtimeRetries is the per-sub-batch retry budget for 5xx/429 errors.
const MaxRealtimeRetries = 10

// RetryableError wraps a transient provider failure (429 or 5xx). Any
// other error is treated as terminal for the sub-batch that produced it.
type RetryableError struct {
	Status int
	Cause  error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("embed: retryable provider error (status %d): %v", e.Status, e.Cause)
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// retryDelay implements the (11 - retriesLeft) * 2s schedule, capped at
// 20s: attempt 0 waits 2s and each later attempt 2s more. realtimeBackOff
// stops after nine retries (attempts 0-8), so the longest wait used is 18s.
func retryDelay(attempt int) time.Duration {
	retriesLeft := MaxRealtimeRetries - attempt
	d := time.Duration(11-retriesLeft) * 2 * time.Second
	if d > 20*time.Second {
		d = 20 * time.Second
	}
	if d < 0 {
		d = 0
	}
	return d
}

// realtimeBackOff drives cenkalti/backoff/v4's retry loop on the fixed
// (11-retriesLeft)*2s schedule above instead of the package's usual
// exponential curve, and stops after MaxRealtimeRetries attempts.
type realtimeBackOff struct {
	attempt int
}

func (b *realtimeBackOff) NextBackOff() time.Duration {
	if b.attempt >= MaxRealtimeRetries-1 {
		return backoff.Stop
	}
	d := retryDelay(b.attempt)
	b.attempt++
	return d
}

func (b *realtimeBackOff) Reset() { b.attempt = 0 }

// withRetry calls fn up to MaxRealtimeRetries times over backoff.Retry,
// retrying only on *RetryableError on the realtimeBackOff schedule; any
// other error is wrapped in backoff.Permanent and returned immediately.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero, result T
	var lastErr, permanentErr error

	operation := func() error {
		r, err := fn()
		if err == nil {
			result = r
			return nil
		}

		var retryable *RetryableError
		if !errors.As(err, &retryable) {
			permanentErr = err
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(&realtimeBackOff{}, ctx))
	if err == nil {
		return result, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return zero, err
	}

	// backoff.Retry unwraps a PermanentError before returning it, so the
	// non-retryable error is taken from the operation itself.
	if permanentErr != nil {
		return zero, permanentErr
	}

	return zero, fmt.Errorf("embed: exhausted retries: %w", lastErr)
}
