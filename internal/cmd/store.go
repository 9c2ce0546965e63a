package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/swapgate/swapgate/internal/config"
	"github.com/swapgate/swapgate/internal/core/engine"
	"github.com/swapgate/swapgate/internal/core/memstore"
	"github.com/swapgate/swapgate/internal/core/redisstore"
	"github.com/swapgate/swapgate/internal/core/store"
	"github.com/swapgate/swapgate/internal/server/handlers"
)

// serveStores is the backend selected by store.driver. One store holds both the limiter
// windows and the response cache.
type serveStores struct {
	driver string
	limits engine.RateLimitStore
	cache  handlers.ResponseCache
	ping   func(ctx context.Context) error
	close  func() error
}

func openServeStores(ctx context.Context, cfg *config.Config) (*serveStores, error) {
	switch cfg.Store.Driver {
	case "redis":
		rs, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return &serveStores{driver: "redis", limits: rs, cache: rs, ping: rs.Ping, close: rs.Close}, nil
	case "libsql":
		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		return &serveStores{driver: "libsql", limits: db, cache: db, ping: db.Ping, close: db.Close}, nil
	default:
		ms := memstore.New()
		return &serveStores{
			driver: "memory",
			limits: ms,
			cache:  ms,
			ping:   func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil
	}
}

// sweep drops elapsed windows and expired cache entries.
func (s *serveStores) sweep(ctx context.Context, now time.Time) (windows int, responses int, err error) {
	windows, err = s.limits.SweepWindows(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	responses, err = s.cache.SweepResponses(ctx, now)
	return windows, responses, err
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
