// Package redisstore shares rate-limit windows and cached responses between proxy instances.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/swapgate/swapgate/internal/core"
	"github.com/swapgate/swapgate/internal/core/engine"
)

// hitScript checks and increments a fixed window in one round trip.
// Returns {allowed, count, reset_at_ms}.
const hitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local w = redis.call('HMGET', key, 'count', 'reset_at')
local count = tonumber(w[1])
local reset_at = tonumber(w[2])

if (not count) or (not reset_at) or now >= reset_at then
  count = 0
  reset_at = now + window
end

if count >= limit then
  return {0, count, reset_at}
end

count = count + 1
redis.call('HSET', key, 'count', count, 'reset_at', reset_at)
redis.call('PEXPIREAT', key, reset_at)
return {1, count, reset_at}
`

// Store implements the limiter and response cache interfaces on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "swapgate"
	}
	return &Store{client: client, prefix: prefix}
}

var (
	_ engine.RateLimitStore    = (*Store)(nil)
	_ engine.AtomicWindowStore = (*Store)(nil)
)

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// HitWindow applies one request to the window for key atomically.
func (s *Store) HitWindow(ctx context.Context, key string, limit engine.RateLimit, now time.Time) (*core.RateLimitWindow, bool, error) {
	res, err := s.client.Eval(ctx, hitScript, []string{s.windowKey(key)},
		now.UnixMilli(), limit.RequestsPerWindow, limit.WindowDuration.Milliseconds()).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis rate limit: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return nil, false, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}
	allowed, _ := arr[0].(int64)
	count, _ := arr[1].(int64)
	resetAt, _ := arr[2].(int64)

	return &core.RateLimitWindow{
		Count:   int(count),
		ResetAt: time.UnixMilli(resetAt).UTC(),
	}, allowed == 1, nil
}

// GetWindow returns the window for key, or nil when none exists.
func (s *Store) GetWindow(ctx context.Context, key string) (*core.RateLimitWindow, error) {
	values, err := s.client.HGetAll(ctx, s.windowKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get window: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	count, err := strconv.Atoi(values["count"])
	if err != nil {
		return nil, fmt.Errorf("redis get window: bad count %q", values["count"])
	}
	resetAt, err := strconv.ParseInt(values["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis get window: bad reset_at %q", values["reset_at"])
	}
	return &core.RateLimitWindow{Count: count, ResetAt: time.UnixMilli(resetAt).UTC()}, nil
}

func (s *Store) SetWindow(ctx context.Context, key string, window *core.RateLimitWindow) error {
	if window == nil {
		return errors.New("rate limit window is required")
	}
	redisKey := s.windowKey(key)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKey, "count", window.Count, "reset_at", window.ResetAt.UnixMilli())
	pipe.PExpireAt(ctx, redisKey, window.ResetAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set window: %w", err)
	}
	return nil
}

// SweepWindows is a no-op; Redis expires windows at their reset time.
func (s *Store) SweepWindows(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// GetResponse returns a cached response if present.
func (s *Store) GetResponse(ctx context.Context, key string) (int, []byte, bool, error) {
	data, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("redis get response: %w", err)
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return 0, nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return cached.Status, cached.Body, true, nil
}

// SetResponse caches a response for ttl. A non-positive ttl stores nothing.
func (s *Store) SetResponse(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(cachedResponse{Status: status, Body: body})
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := s.client.Set(ctx, s.cacheKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set response: %w", err)
	}
	return nil
}

// SweepResponses is a no-op; cached responses carry a Redis TTL.
func (s *Store) SweepResponses(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (s *Store) windowKey(key string) string {
	return s.prefix + ":rl:" + key
}

func (s *Store) cacheKey(key string) string {
	return s.prefix + ":cache:" + key
}
