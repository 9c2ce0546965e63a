// Package config loads swapgate configuration through viper and decodes it with mapstructure.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, e.g. SWAPGATE_SERVER_PORT.
const EnvPrefix = "SWAPGATE"

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// Configure prepares v for environment overrides and registers defaults.
func Configure(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// SetDefaults registers the default value of every known key. Keys without a default are not
// visible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	// Store defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "swapgate")

	// Upstream defaults
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.version", "v2")
	v.SetDefault("upstream.timeout", "20s")
	v.SetDefault("upstream.base_urls", map[string]string{
		"1":     "https://api.0x.org",
		"10":    "https://optimism.api.0x.org",
		"137":   "https://polygon.api.0x.org",
		"8453":  "https://base.api.0x.org",
		"42161": "https://arbitrum.api.0x.org",
	})

	v.SetDefault("proxy.price_cache_ttl", "5s")
	v.SetDefault("proxy.quote_cache_ttl", "0s")
	v.SetDefault("proxy.sweep_interval", "1m")

	v.SetDefault("rate_limits.swap.requests", 100)
	v.SetDefault("rate_limits.swap.window", "15m")
	v.SetDefault("rate_limits.tokens.requests", 1200)
	v.SetDefault("rate_limits.tokens.window", "1m")

	// Swap client defaults
	v.SetDefault("swap.proxy_url", "http://localhost:8080")
	v.SetDefault("swap.rpc_url", "")
	v.SetDefault("swap.key_env", "SWAPGATE_PRIVATE_KEY")
	v.SetDefault("swap.retry_attempts", 3)
	v.SetDefault("swap.retry_base_delay", "500ms")
	v.SetDefault("swap.debounce", "300ms")
	v.SetDefault("swap.poll_interval", "2s")
	v.SetDefault("swap.timeouts.price", "10s")
	v.SetDefault("swap.timeouts.quote", "15s")
	v.SetDefault("swap.timeouts.approval", "60s")
	v.SetDefault("swap.timeouts.signature", "2m")
	v.SetDefault("swap.timeouts.swap", "60s")
	v.SetDefault("swap.timeouts.confirmation", "5m")

	v.SetDefault("tokens.file", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
}

// Load decodes the settings held by v, validates them and makes them the current config.
// It is safe to call again on reload.
func Load(ctx context.Context, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Decode converts a settings map into a Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "libsql" && strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	return cfg, nil
}

// Validate reports configuration the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", "memory", "libsql", "redis":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	for name, limit := range c.RateLimits {
		if limit.Requests <= 0 || limit.Window <= 0 {
			return fmt.Errorf("rate limit %q needs positive requests and window", name)
		}
	}

	if _, err := c.Upstream.ChainBaseURLs(); err != nil {
		return err
	}
	if c.Proxy.PriceCacheTTL < 0 || c.Proxy.QuoteCacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}

// Production reports whether the service runs in the production environment.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// ChainBaseURLs parses the chain id keys of base_urls.
func (u UpstreamConfig) ChainBaseURLs() (map[int64]string, error) {
	out := make(map[int64]string, len(u.BaseURLs))
	for key, value := range u.BaseURLs {
		id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("upstream.base_urls: invalid chain id %q", key)
		}
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("upstream.base_urls: empty url for chain %d", id)
		}
		out[id] = strings.TrimSpace(value)
	}
	return out, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultStorePath returns the libsql database location under the XDG data directory.
func DefaultStorePath() string {
	dataHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(".", "swapgate.db")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "swapgate", "swapgate.db")
}
