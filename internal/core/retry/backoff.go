package retry

import (
	"context"
	"time"

	"github.com/swapgate/swapgate/internal/core"
)

// Backoff runs the configured attempt loop. onRetry may be nil.
type Backoff[T any] func(ctx context.Context, onRetry func(attempt int, err error)) (T, error)

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// BackoffOption configures RetryWithBackoff.
type BackoffOption func(*backoffSettings)

type backoffSettings struct {
	sleep Sleeper
}

// WithSleeper replaces the wait between attempts. Tests use it to observe delays without waiting.
func WithSleeper(sleep Sleeper) BackoffOption {
	return func(s *backoffSettings) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// RetryWithBackoff builds a Backoff that calls factory up to maxAttempts times, each attempt
// bounded by timeout when it is positive. Attempt n is followed by a wait of baseDelay * 2^(n-1).
// Cancelled contexts and errors reporting Retryable() == false end the loop immediately.
func RetryWithBackoff[T any](factory Operation[T], name string, maxAttempts int, baseDelay, timeout time.Duration, opts ...BackoffOption) Backoff[T] {
	settings := backoffSettings{sleep: Sleep}
	for _, opt := range opts {
		opt(&settings)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return func(ctx context.Context, onRetry func(attempt int, err error)) (T, error) {
		var zero T
		if ctx == nil {
			ctx = context.Background()
		}

		for attempt := 1; ; attempt++ {
			if err := ctx.Err(); err != nil {
				return zero, &core.CancelledError{Operation: name, Cause: err}
			}

			var (
				value T
				err   error
			)
			if timeout > 0 {
				value, err = WithTimeout(ctx, factory, name, timeout)
			} else {
				value, err = factory(ctx)
			}
			if err == nil {
				return value, nil
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, &core.CancelledError{Operation: name, Cause: ctxErr}
			}
			if !core.IsRetryable(err) || attempt >= maxAttempts {
				return zero, err
			}

			if onRetry != nil {
				onRetry(attempt, err)
			}
			if err := settings.sleep(ctx, Delay(baseDelay, attempt)); err != nil {
				return zero, &core.CancelledError{Operation: name, Cause: err}
			}
		}
	}
}

// Delay is the wait after the given 1-based attempt.
func Delay(baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseDelay * time.Duration(1<<(attempt-1))
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
