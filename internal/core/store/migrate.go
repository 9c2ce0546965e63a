package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_limit_windows (
		key TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		reset_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_windows_reset ON rate_limit_windows(reset_at);`,
	`CREATE TABLE IF NOT EXISTS response_cache (
		key TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		body BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_response_cache_expires ON response_cache(expires_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
