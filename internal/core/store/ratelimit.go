package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/swapgate/swapgate/internal/core"
)

// GetWindow returns the stored window for key, or nil when none exists.
func (s *Store) GetWindow(ctx context.Context, key string) (*core.RateLimitWindow, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("rate limit key is required")
	}

	var (
		requestCount int
		resetAt      int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count, reset_at
		FROM rate_limit_windows
		WHERE key = ?
	`, key)

	if err := row.Scan(&requestCount, &resetAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit window: %w", err)
	}

	return &core.RateLimitWindow{
		Count:   requestCount,
		ResetAt: time.UnixMilli(resetAt).UTC(),
	}, nil
}

// SetWindow persists the window for key.
func (s *Store) SetWindow(ctx context.Context, key string, window *core.RateLimitWindow) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("rate limit key is required")
	}
	if window == nil {
		return errors.New("rate limit window is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_windows (key, request_count, reset_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			request_count = excluded.request_count,
			reset_at = excluded.reset_at
	`, key, window.Count, window.ResetAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store rate limit window: %w", err)
	}

	return nil
}

// SweepWindows deletes windows that reset at or before now.
func (s *Store) SweepWindows(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM rate_limit_windows
		WHERE reset_at <= ?
	`, now.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep rate limit windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rate limit windows: %w", err)
	}
	return int(affected), nil
}
