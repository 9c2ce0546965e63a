package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/core"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestWithTimeoutReturnsResult(t *testing.T) {
	value, err := WithTimeout(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	}, "price", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", value)
}

func TestWithTimeoutExpires(t *testing.T) {
	var fired atomic.Bool
	opCancelled := make(chan struct{})

	_, err := WithTimeout(context.Background(), func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(opCancelled)
		return "", ctx.Err()
	}, "quote", 20*time.Millisecond, OnTimeout(func() { fired.Store(true) }))

	var timeout *core.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "quote", timeout.Operation)
	assert.Equal(t, 20*time.Millisecond, timeout.Duration)
	assert.True(t, timeout.Retryable())
	assert.True(t, fired.Load())

	select {
	case <-opCancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was not cancelled")
	}
}

func TestWithTimeoutNonRetryable(t *testing.T) {
	_, err := WithTimeout(context.Background(), func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	}, "signature", 10*time.Millisecond, NonRetryable())

	var timeout *core.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.False(t, core.IsRetryable(err))
}

func TestWithTimeoutCancelledFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var fired atomic.Bool

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WithTimeout(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, "price", time.Minute, OnTimeout(func() { fired.Store(true) }))

	var cancelled *core.CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fired.Load())
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	failure := errors.New("upstream unavailable")

	backoff := RetryWithBackoff(func(ctx context.Context) (int, error) {
		calls++
		return 0, failure
	}, "price", 4, 100*time.Millisecond, 0, WithSleeper(sleeper.sleep))

	var retried []int
	_, err := backoff(context.Background(), func(attempt int, err error) {
		retried = append(retried, attempt)
	})

	require.ErrorIs(t, err, failure)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retried)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, sleeper.delays)
}

func TestRetryStopsAfterSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0

	backoff := RetryWithBackoff(func(ctx context.Context) (string, error) {
		calls++
		if calls == 2 {
			return "quote", nil
		}
		return "", errors.New("transient")
	}, "quote", 3, time.Second, 0, WithSleeper(sleeper.sleep))

	value, err := backoff(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "quote", value)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
}

func TestRetrySkipsNonRetryableErrors(t *testing.T) {
	cases := map[string]error{
		"validation":        &core.ValidationError{Message: "invalid parameters"},
		"rate limit":        &core.RateLimitError{RetryAfter: time.Minute},
		"upstream 400":      &core.UpstreamError{Status: 400},
		"signing timeout":   &core.TimeoutError{Operation: "signature", IsRetryable: false},
		"signature refused": &core.SignatureRejectedError{},
	}

	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			calls := 0
			backoff := RetryWithBackoff(func(ctx context.Context) (int, error) {
				calls++
				return 0, failure
			}, "op", 5, time.Millisecond, 0, WithSleeper(sleeper.sleep))

			_, err := backoff(context.Background(), nil)
			require.ErrorIs(t, err, failure)
			assert.Equal(t, 1, calls)
			assert.Empty(t, sleeper.delays)
		})
	}
}

func TestRetryRetriesUpstreamServerErrors(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	backoff := RetryWithBackoff(func(ctx context.Context) (int, error) {
		calls++
		return 0, &core.UpstreamError{Status: 503}
	}, "price", 3, time.Millisecond, 0, WithSleeper(sleeper.sleep))

	_, err := backoff(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	backoff := RetryWithBackoff(func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	}, "confirmation", 5, time.Millisecond, 0, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := backoff(ctx, nil)
	var cancelled *core.CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.Equal(t, "confirmation", cancelled.Operation)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	backoff := RetryWithBackoff(func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	}, "price", 3, time.Millisecond, 0)

	_, err := backoff(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryAppliesAttemptTimeout(t *testing.T) {
	sleeper := &recordingSleeper{}
	calls := 0
	backoff := RetryWithBackoff(func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	}, "price", 3, 5*time.Millisecond, 10*time.Millisecond, WithSleeper(sleeper.sleep))

	var retryErr error
	value, err := backoff(context.Background(), func(attempt int, err error) {
		retryErr = err
	})
	require.NoError(t, err)
	assert.Equal(t, 7, value)

	var timeout *core.TimeoutError
	require.True(t, errors.As(retryErr, &timeout))
	assert.Equal(t, "price", timeout.Operation)
}

func TestDelay(t *testing.T) {
	assert.Equal(t, time.Second, Delay(time.Second, 1))
	assert.Equal(t, 2*time.Second, Delay(time.Second, 2))
	assert.Equal(t, 8*time.Second, Delay(time.Second, 4))
}
