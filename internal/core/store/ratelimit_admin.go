package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/swapgate/swapgate/internal/core"
)

type RateLimitEntry struct {
	Key    string
	Window core.RateLimitWindow
}

type RateLimitQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q RateLimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE key = ?", []any{key}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE key LIKE ?", []any{prefix + "%"}, nil
}

func (s *Store) ListWindows(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, request_count, reset_at
		FROM rate_limit_windows
		%s
		ORDER BY key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limit windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		var (
			key          string
			requestCount int
			resetAt      int64
		)
		if err := rows.Scan(&key, &requestCount, &resetAt); err != nil {
			return nil, fmt.Errorf("scan rate limit windows: %w", err)
		}

		entries = append(entries, RateLimitEntry{
			Key: key,
			Window: core.RateLimitWindow{
				Count:   requestCount,
				ResetAt: time.UnixMilli(resetAt).UTC(),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limit windows: %w", err)
	}

	return entries, nil
}

func (s *Store) CountWindows(ctx context.Context, q RateLimitQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_limit_windows
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limit windows: %w", err)
	}
	return count, nil
}

func (s *Store) ResetWindows(ctx context.Context, q RateLimitQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_limit_windows
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limit windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limit windows: %w", err)
	}
	return affected, nil
}
