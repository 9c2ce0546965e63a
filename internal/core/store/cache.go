package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetResponse returns a cached upstream response that has not expired.
func (s *Store) GetResponse(ctx context.Context, key string) (int, []byte, bool, error) {
	if s == nil || s.DB == nil {
		return 0, nil, false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return 0, nil, false, errors.New("cache key is required")
	}

	var (
		status int
		body   []byte
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT status_code, body
		FROM response_cache
		WHERE key = ? AND expires_at > ?
	`, key, time.Now().UTC().UnixMilli())

	if err := row.Scan(&status, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("fetch cached response: %w", err)
	}

	return status, body, true, nil
}

// SetResponse caches body for ttl. A non-positive ttl stores nothing.
func (s *Store) SetResponse(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ttl <= 0 {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("cache key is required")
	}

	now := time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO response_cache (key, status_code, body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status_code = excluded.status_code,
			body = excluded.body,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, status, body, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}

	return nil
}

// SweepResponses deletes cache rows that expired at or before now.
func (s *Store) SweepResponses(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM response_cache
		WHERE expires_at <= ?
	`, now.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep cached responses: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep cached responses: %w", err)
	}
	return int(affected), nil
}
