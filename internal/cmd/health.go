package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration, token list and store can be loaded before starting the proxy.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", apperrors.NewConfigInvalidError("version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", apperrors.NewConfigInvalidError(err.Error()))
			return
		}
		logger.Info("✅ Configuration loaded", zap.String("environment", cfg.Environment))

		if _, err := cfg.Upstream.ChainBaseURLs(); err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Upstream configuration invalid", apperrors.NewConfigInvalidError(err.Error()))
			return
		}

		registry, err := loadTokenRegistry(cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Token list invalid", apperrors.NewConfigInvalidError(err.Error()))
			return
		}
		logger.Info("✅ Token list loaded", zap.Int("mainnet_tokens", len(registry.List(1))))

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		stores, err := openServeStores(ctx, cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Store unavailable", apperrors.WrapDatabaseError(ctx, err, "store open failed"))
			return
		}
		defer stores.close() // nolint:errcheck // best-effort cleanup
		if err := stores.ping(ctx); err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Store unavailable", apperrors.WrapDatabaseError(ctx, err, fmt.Sprintf("%s store ping failed", stores.driver)))
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", stores.driver))

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
