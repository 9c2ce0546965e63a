package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/engine"
)

// These tests need a Redis server; set SWAPGATE_TEST_REDIS_ADDR to run them.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("SWAPGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SWAPGATE_TEST_REDIS_ADDR not set")
	}

	store, err := New(context.Background(), addr, "", 0, "swapgate-test-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHitWindowEnforcesCeiling(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	limit := engine.RateLimit{RequestsPerWindow: 3, WindowDuration: time.Minute}
	now := time.Now().UTC()

	var allowed []bool
	for i := 0; i < 4; i++ {
		_, ok, err := store.HitWindow(ctx, "swap:a", limit, now)
		require.NoError(t, err)
		allowed = append(allowed, ok)
	}
	assert.Equal(t, []bool{true, true, true, false}, allowed)

	window, ok, err := store.HitWindow(ctx, "swap:a", limit, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, window.Count)
}

func TestLimiterUsesAtomicPath(t *testing.T) {
	store := openTestStore(t)
	limiter := &engine.RateLimiter{
		Store:  store,
		Limit:  engine.RateLimit{RequestsPerWindow: 2, WindowDuration: time.Minute},
		Policy: "swap",
	}

	assert.True(t, limiter.Check(context.Background(), "b").Allowed)
	decision := limiter.Check(context.Background(), "b")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.False(t, limiter.Check(context.Background(), "b").Allowed)
}

func TestWindowRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	resetAt := time.Now().Add(time.Minute).Truncate(time.Millisecond).UTC()
	require.NoError(t, store.SetWindow(ctx, "k", &core.RateLimitWindow{Count: 5, ResetAt: resetAt}))

	window, err := store.GetWindow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, window.Count)
	assert.True(t, resetAt.Equal(window.ResetAt))

	missing, err := store.GetWindow(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResponseCache(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetResponse(ctx, "price:x", 200, []byte(`{"a":1}`), time.Minute))
	status, body, ok, err := store.GetResponse(ctx, "price:x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"a":1}`, string(body))

	require.NoError(t, store.SetResponse(ctx, "quote:x", 200, []byte(`{}`), 0))
	_, _, ok, err = store.GetResponse(ctx, "quote:x")
	require.NoError(t, err)
	assert.False(t, ok)
}
