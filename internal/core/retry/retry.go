// Package retry gives network operations a deadline and an exponential-backoff attempt loop.
package retry

import (
	"context"
	"time"

	"github.com/swapgate/swapgate/internal/core"
)

// Operation is a unit of work that honours ctx.
type Operation[T any] func(ctx context.Context) (T, error)

// TimeoutOption configures WithTimeout.
type TimeoutOption func(*timeoutSettings)

type timeoutSettings struct {
	onTimeout    func()
	nonRetryable bool
}

// OnTimeout registers fn to run once when the deadline fires.
func OnTimeout(fn func()) TimeoutOption {
	return func(s *timeoutSettings) {
		s.onTimeout = fn
	}
}

// NonRetryable marks the resulting TimeoutError as not retryable.
func NonRetryable() TimeoutOption {
	return func(s *timeoutSettings) {
		s.nonRetryable = true
	}
}

// WithTimeout runs op and fails with *core.TimeoutError if it has not finished within d.
// If ctx ends first the result is a *core.CancelledError. A non-positive d disables the deadline.
func WithTimeout[T any](ctx context.Context, op Operation[T], name string, d time.Duration, opts ...TimeoutOption) (T, error) {
	var zero T
	settings := timeoutSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	if err := ctx.Err(); err != nil {
		return zero, &core.CancelledError{Operation: name, Cause: err}
	}
	if d <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op(opCtx)
		done <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, &core.CancelledError{Operation: name, Cause: ctx.Err()}
	case <-timer.C:
		cancel()
		if settings.onTimeout != nil {
			settings.onTimeout()
		}
		return zero, &core.TimeoutError{
			Operation:   name,
			Duration:    d,
			IsRetryable: !settings.nonRetryable,
		}
	}
}
