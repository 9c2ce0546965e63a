package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/observability"
)

// RateLimiter enforces a fixed-window request ceiling per client.
type RateLimiter struct {
	Store  RateLimitStore
	Limit  RateLimit
	Policy string
	Clock  func() time.Time

	mu sync.Mutex
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RateLimitStore stores per-client windows. Keys are already namespaced by policy.
type RateLimitStore interface {
	GetWindow(ctx context.Context, key string) (*core.RateLimitWindow, error)
	SetWindow(ctx context.Context, key string, window *core.RateLimitWindow) error
	SweepWindows(ctx context.Context, now time.Time) (int, error)
}

// AtomicWindowStore is implemented by stores that can check and increment in one step,
// which keeps the ceiling exact when several processes share the store.
type AtomicWindowStore interface {
	HitWindow(ctx context.Context, key string, limit RateLimit, now time.Time) (*core.RateLimitWindow, bool, error)
}

// DefaultLimits provides the named policies used by the proxy.
var DefaultLimits = map[string]RateLimit{
	"swap":   {RequestsPerWindow: 100, WindowDuration: 15 * time.Minute},
	"tokens": {RequestsPerWindow: 1200, WindowDuration: time.Minute},
}

// NewRateLimiter builds a limiter for a named policy, falling back to DefaultLimits.
func NewRateLimiter(store RateLimitStore, policy string, overrides map[string]RateLimit) *RateLimiter {
	policy = strings.ToLower(strings.TrimSpace(policy))
	limit, ok := overrides[policy]
	if !ok || limit.RequestsPerWindow <= 0 || limit.WindowDuration <= 0 {
		limit = DefaultLimits[policy]
	}
	return &RateLimiter{Store: store, Limit: limit, Policy: policy}
}

// Check records a request from clientID and decides whether it may proceed.
// It never fails: store errors let the request through and are logged.
func (r *RateLimiter) Check(ctx context.Context, clientID string) core.RateLimitDecision {
	now := r.now()
	limit := r.getLimit()

	if r == nil || r.Store == nil {
		return core.RateLimitDecision{
			Allowed:   true,
			Limit:     limit.RequestsPerWindow,
			Remaining: limit.RequestsPerWindow,
			ResetAt:   now.Add(limit.WindowDuration),
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	key := r.key(clientID)

	if atomic, ok := r.Store.(AtomicWindowStore); ok {
		window, allowed, err := atomic.HitWindow(ctx, key, limit, now)
		if err != nil || window == nil {
			return r.failOpen(key, limit, now, err)
		}
		return decision(allowed, limit, window)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	window, err := r.Store.GetWindow(ctx, key)
	if err != nil {
		return r.failOpen(key, limit, now, err)
	}
	if window.Expired(now) {
		window = &core.RateLimitWindow{Count: 0, ResetAt: now.Add(limit.WindowDuration)}
	}

	if window.Count >= limit.RequestsPerWindow {
		return decision(false, limit, window)
	}

	window.Count++
	if err := r.Store.SetWindow(ctx, key, window); err != nil {
		logStoreError("rate limit window update failed", key, err)
	}
	return decision(true, limit, window)
}

// Sweep discards elapsed windows.
func (r *RateLimiter) Sweep(ctx context.Context) (int, error) {
	if r == nil || r.Store == nil {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return r.Store.SweepWindows(ctx, r.now())
}

// Window returns the limit this limiter enforces.
func (r *RateLimiter) Window() RateLimit {
	return r.getLimit()
}

func (r *RateLimiter) key(clientID string) string {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = "unknown"
	}
	if r.Policy == "" {
		return clientID
	}
	return r.Policy + ":" + clientID
}

func (r *RateLimiter) getLimit() RateLimit {
	if r == nil || r.Limit.RequestsPerWindow <= 0 || r.Limit.WindowDuration <= 0 {
		return DefaultLimits["swap"]
	}
	return r.Limit
}

func (r *RateLimiter) failOpen(key string, limit RateLimit, now time.Time, err error) core.RateLimitDecision {
	logStoreError("rate limit store unavailable, allowing request", key, err)
	return core.RateLimitDecision{
		Allowed:   true,
		Limit:     limit.RequestsPerWindow,
		Remaining: limit.RequestsPerWindow,
		ResetAt:   now.Add(limit.WindowDuration),
	}
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func decision(allowed bool, limit RateLimit, window *core.RateLimitWindow) core.RateLimitDecision {
	remaining := limit.RequestsPerWindow - window.Count
	if remaining < 0 {
		remaining = 0
	}
	return core.RateLimitDecision{
		Allowed:   allowed,
		Limit:     limit.RequestsPerWindow,
		Remaining: remaining,
		ResetAt:   window.ResetAt,
	}
}

func logStoreError(msg, key string, err error) {
	if observability.ServerLogger == nil || err == nil {
		return
	}
	observability.ServerLogger.Warn(msg,
		zap.String("key", key),
		zap.Error(err))
}
