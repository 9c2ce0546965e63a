// Package memstore keeps rate-limit windows and cached responses in process memory.
// Counters reset when the process restarts.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/swapgate/swapgate/internal/core"
)

type cachedResponse struct {
	status    int
	body      []byte
	expiresAt time.Time
}

// Store is a process-local store safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	windows   map[string]core.RateLimitWindow
	responses map[string]cachedResponse
	Clock     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		windows:   make(map[string]core.RateLimitWindow),
		responses: make(map[string]cachedResponse),
	}
}

// GetWindow returns a copy of the stored window, or nil when none exists.
func (s *Store) GetWindow(ctx context.Context, key string) (*core.RateLimitWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window, ok := s.windows[key]
	if !ok {
		return nil, nil
	}
	return &window, nil
}

func (s *Store) SetWindow(ctx context.Context, key string, window *core.RateLimitWindow) error {
	if window == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windows == nil {
		s.windows = make(map[string]core.RateLimitWindow)
	}
	s.windows[key] = *window
	return nil
}

// SweepWindows drops windows whose reset time has passed.
func (s *Store) SweepWindows(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, window := range s.windows {
		if window.Expired(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// ListWindows returns all windows keyed by their store key.
func (s *Store) ListWindows(ctx context.Context) (map[string]core.RateLimitWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]core.RateLimitWindow, len(s.windows))
	for key, window := range s.windows {
		out[key] = window
	}
	return out, nil
}

// GetResponse returns a cached body that has not yet expired.
func (s *Store) GetResponse(ctx context.Context, key string) (int, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.responses[key]
	if !ok {
		return 0, nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.responses, key)
		return 0, nil, false, nil
	}
	body := make([]byte, len(entry.body))
	copy(body, entry.body)
	return entry.status, body, true, nil
}

func (s *Store) SetResponse(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.responses == nil {
		s.responses = make(map[string]cachedResponse)
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	s.responses[key] = cachedResponse{status: status, body: stored, expiresAt: s.now().Add(ttl)}
	return nil
}

// SweepResponses drops expired cache entries.
func (s *Store) SweepResponses(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.responses {
		if !now.Before(entry.expiresAt) {
			delete(s.responses, key)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
