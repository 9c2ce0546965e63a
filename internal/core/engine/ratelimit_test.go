package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/memstore"
)

type failingStore struct{}

func (failingStore) GetWindow(ctx context.Context, key string) (*core.RateLimitWindow, error) {
	return nil, errors.New("store offline")
}

func (failingStore) SetWindow(ctx context.Context, key string, window *core.RateLimitWindow) error {
	return errors.New("store offline")
}

func (failingStore) SweepWindows(ctx context.Context, now time.Time) (int, error) {
	return 0, errors.New("store offline")
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store:  memstore.New(),
		Limit:  RateLimit{RequestsPerWindow: 3, WindowDuration: time.Minute},
		Policy: "swap",
		Clock:  func() time.Time { return now },
	}

	var allowed []bool
	for i := 0; i < 4; i++ {
		allowed = append(allowed, limiter.Check(context.Background(), "203.0.113.7").Allowed)
	}
	require.Equal(t, []bool{true, true, true, false}, allowed)

	now = now.Add(time.Minute)
	decision := limiter.Check(context.Background(), "203.0.113.7")
	require.True(t, decision.Allowed)
	require.Equal(t, 2, decision.Remaining)
	require.Equal(t, now.Add(time.Minute), decision.ResetAt)
}

func TestRateLimiterDenyDoesNotIncrement(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memstore.New()
	limiter := &RateLimiter{
		Store:  store,
		Limit:  RateLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
		Policy: "swap",
		Clock:  func() time.Time { return now },
	}

	require.True(t, limiter.Check(context.Background(), "a").Allowed)
	for i := 0; i < 5; i++ {
		decision := limiter.Check(context.Background(), "a")
		require.False(t, decision.Allowed)
		require.Equal(t, 0, decision.Remaining)
	}

	window, err := store.GetWindow(context.Background(), "swap:a")
	require.NoError(t, err)
	require.Equal(t, 1, window.Count)
}

func TestRateLimiterClientsAreIndependent(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: memstore.New(),
		Limit: RateLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
		Clock: func() time.Time { return now },
	}

	require.True(t, limiter.Check(context.Background(), "a").Allowed)
	require.False(t, limiter.Check(context.Background(), "a").Allowed)
	require.True(t, limiter.Check(context.Background(), "b").Allowed)
}

func TestRateLimiterRetryAfter(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	limiter := &RateLimiter{
		Store: memstore.New(),
		Limit: RateLimit{RequestsPerWindow: 3, WindowDuration: 15 * time.Minute},
		Clock: func() time.Time { return now },
	}

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Check(context.Background(), "c").Allowed)
	}
	now = start.Add(90*time.Second + 400*time.Millisecond)
	decision := limiter.Check(context.Background(), "c")
	require.False(t, decision.Allowed)
	// 13m29.6s remaining rounds up to 810s
	assert.Equal(t, 810*time.Second, decision.RetryAfter(now))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	limiter := &RateLimiter{
		Store: failingStore{},
		Limit: RateLimit{RequestsPerWindow: 1, WindowDuration: time.Minute},
	}

	for i := 0; i < 3; i++ {
		decision := limiter.Check(context.Background(), "a")
		require.True(t, decision.Allowed)
		require.Equal(t, 1, decision.Remaining)
	}
}

func TestRateLimiterConcurrentCeiling(t *testing.T) {
	limiter := &RateLimiter{
		Store: memstore.New(),
		Limit: RateLimit{RequestsPerWindow: 50, WindowDuration: time.Hour},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check(context.Background(), "burst").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 50, allowed)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memstore.New()
	limiter := &RateLimiter{
		Store: store,
		Limit: RateLimit{RequestsPerWindow: 5, WindowDuration: time.Minute},
		Clock: func() time.Time { return now },
	}

	limiter.Check(context.Background(), "a")
	limiter.Check(context.Background(), "b")

	removed, err := limiter.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	now = now.Add(2 * time.Minute)
	removed, err = limiter.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}

func TestNewRateLimiterPolicies(t *testing.T) {
	limiter := NewRateLimiter(nil, "Tokens", nil)
	require.Equal(t, "tokens", limiter.Policy)
	require.Equal(t, 1200, limiter.Window().RequestsPerWindow)

	override := NewRateLimiter(nil, "swap", map[string]RateLimit{
		"swap": {RequestsPerWindow: 10, WindowDuration: time.Minute},
	})
	require.Equal(t, 10, override.Window().RequestsPerWindow)

	decision := override.Check(context.Background(), "a")
	require.True(t, decision.Allowed)
	require.Equal(t, 10, decision.Remaining)
}
