package cmd

import (
	"context"
	"errors"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/config"
	"github.com/swapgate/swapgate/internal/observability"
)

const appName = "swapgate"

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Rate-limited swap quote proxy and swap execution CLI",
	Long: `swapgate fronts a swap aggregation API with validation, rate limiting and caching,
and drives swaps end to end from the command line: price, quote, Permit2 signature,
submission and confirmation.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve installs the real telemetry system.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/swapgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	observability.InitCLILogger(appName, verbose)

	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := gfconfig.GetAppConfigDir(appName); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.Configure(v)

	if err := v.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	} else {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		} else {
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
	}
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	return config.Load(ctx, viper.GetViper())
}
