package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/config"
	"github.com/swapgate/swapgate/internal/core/engine"
	"github.com/swapgate/swapgate/internal/core/upstream"
	"github.com/swapgate/swapgate/internal/core/validate"
	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/metrics"
	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/server"
	"github.com/swapgate/swapgate/internal/server/handlers"
	"github.com/swapgate/swapgate/internal/tokens"
)

var (
	serverPort int
	serverHost string
)

type telemetryHealthChecker struct {
	enabled bool
}

func (t telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if t.enabled && (observability.TelemetrySystem == nil || observability.PrometheusExporter == nil) {
		return apperrors.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the swap proxy",
	Long: `Start the HTTP proxy serving /price, /quote and /tokens with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return apperrors.NewConfigInvalidError(err.Error())
		}

		apperrors.SetEnvironment(cfg.Environment)
		observability.InitServerLogger(appName, cfg.Logging.Level, cfg.Environment, appName)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(appName, cfg.Metrics.Port, appName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return apperrors.WrapInternal(ctx, err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		stores, err := openServeStores(ctx, cfg)
		if err != nil {
			return apperrors.WrapDatabaseError(ctx, err, "store initialization failed")
		}

		registry, err := loadTokenRegistry(cfg)
		if err != nil {
			_ = stores.close()
			return apperrors.NewConfigInvalidError(err.Error())
		}

		routes, err := buildRoutes(cfg, stores, registry)
		if err != nil {
			_ = stores.close()
			return apperrors.NewConfigInvalidError(err.Error())
		}

		logger.Info("Initializing server",
			zap.String("service", appName),
			zap.String("version", versionInfo.Version),
			zap.String("environment", cfg.Environment),
			zap.String("store", stores.driver),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("metrics", cfg.Metrics.Enabled))

		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("store", handlers.CheckFunc(stores.ping))
		hm.RegisterChecker("telemetry", telemetryHealthChecker{enabled: cfg.Metrics.Enabled})

		srv := server.New(cfg.Server.Host, cfg.Server.Port, routes)
		srv.SetTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		go runSweeper(sweepCtx, stores, cfg.Proxy.SweepInterval)

		// Shutdown handlers run LIFO.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			stopSweep()
			if err := stores.close(); err != nil {
				logger.Warn("Store close failed", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return apperrors.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")
			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return apperrors.NewConfigInvalidError(err.Error())
			}
			reloaded, err := loadConfig(ctx)
			if err != nil {
				return apperrors.NewConfigInvalidError(err.Error())
			}
			apperrors.SetEnvironment(reloaded.Environment)
			logger.Info("Configuration reloaded; limits and upstreams apply after restart",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()
		hm.MarkStarted()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return apperrors.WrapInternal(ctx, err, "server error")
		}
		return nil
	},
}

func buildRoutes(cfg *config.Config, stores *serveStores, registry *tokens.Registry) (server.Routes, error) {
	baseURLs, err := cfg.Upstream.ChainBaseURLs()
	if err != nil {
		return server.Routes{}, err
	}
	if _, ok := baseURLs[upstream.MainnetChainID]; !ok && len(baseURLs) > 0 {
		return server.Routes{}, fmt.Errorf("upstream.base_urls must include chain %d", upstream.MainnetChainID)
	}

	client := &upstream.Client{
		HTTP:     &http.Client{Timeout: cfg.Upstream.Timeout},
		APIKey:   cfg.Upstream.APIKey,
		Version:  cfg.Upstream.Version,
		BaseURLs: baseURLs,
	}

	overrides := rateLimitOverrides(cfg)
	swapLimiter := engine.NewRateLimiter(stores.limits, "swap", overrides)

	return server.Routes{
		Price: &handlers.SwapProxy{
			Endpoint: upstream.EndpointPrice,
			Schema:   validate.PriceSchema,
			Limiter:  swapLimiter,
			Upstream: client,
			Cache:    stores.cache,
			CacheTTL: cfg.Proxy.PriceCacheTTL,
			Timeout:  cfg.Upstream.Timeout,
		},
		Quote: &handlers.SwapProxy{
			Endpoint: upstream.EndpointQuote,
			Schema:   validate.QuoteSchema,
			Limiter:  swapLimiter,
			Upstream: client,
			Cache:    stores.cache,
			CacheTTL: cfg.Proxy.QuoteCacheTTL,
			Timeout:  cfg.Upstream.Timeout,
		},
		Tokens: &handlers.TokenHandler{
			Registry: registry,
			Limiter:  engine.NewRateLimiter(stores.limits, "tokens", overrides),
		},
		AdminToken: cfg.Server.AdminToken,
	}, nil
}

func rateLimitOverrides(cfg *config.Config) map[string]engine.RateLimit {
	out := make(map[string]engine.RateLimit, len(cfg.RateLimits))
	for name, limit := range cfg.RateLimits {
		out[name] = engine.RateLimit{RequestsPerWindow: limit.Requests, WindowDuration: limit.Window}
	}
	return out
}

func loadTokenRegistry(cfg *config.Config) (*tokens.Registry, error) {
	registry, err := tokens.Default()
	if err != nil {
		return nil, err
	}
	if cfg.Tokens.File != "" {
		if err := registry.LoadFile(cfg.Tokens.File); err != nil {
			return nil, fmt.Errorf("tokens.file: %w", err)
		}
	}
	return registry, nil
}

func runSweeper(ctx context.Context, stores *serveStores, interval time.Duration) {
	if interval <= 0 {
		return
	}
	started := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			windows, responses, err := stores.sweep(ctx, now.UTC())
			if err != nil {
				observability.ServerLogger.Warn("Store sweep failed", zap.Error(err))
				continue
			}
			metrics.SetServerUptime(int64(now.Sub(started).Seconds()))
			if windows > 0 || responses > 0 {
				observability.ServerLogger.Debug("Store sweep",
					zap.Int("windows", windows),
					zap.Int("responses", responses))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

