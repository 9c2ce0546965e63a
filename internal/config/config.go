package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values come from defaults, an optional YAML file, SWAPGATE_* environment variables and flags.
type Config struct {
	Environment string                     `mapstructure:"environment"`
	Server      ServerConfig               `mapstructure:"server"`
	Store       StoreConfig                `mapstructure:"store"`
	Redis       RedisConfig                `mapstructure:"redis"`
	Upstream    UpstreamConfig             `mapstructure:"upstream"`
	Proxy       ProxyConfig                `mapstructure:"proxy"`
	RateLimits  map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Swap        SwapConfig                 `mapstructure:"swap"`
	Tokens      TokensConfig               `mapstructure:"tokens"`
	Logging     LoggingConfig              `mapstructure:"logging"`
	Metrics     MetricsConfig              `mapstructure:"metrics"`
	Health      HealthConfig               `mapstructure:"health"`
	Debug       DebugConfig                `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
}

// StoreConfig selects where rate-limit windows and cached responses live.
// Driver is one of memory, libsql or redis.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RedisConfig is used when store.driver is redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// UpstreamConfig describes the swap aggregation API.
type UpstreamConfig struct {
	APIKey   string            `mapstructure:"api_key"`
	Version  string            `mapstructure:"version"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	BaseURLs map[string]string `mapstructure:"base_urls"`
}

// ProxyConfig controls response caching and housekeeping for the price and quote endpoints.
type ProxyConfig struct {
	PriceCacheTTL time.Duration `mapstructure:"price_cache_ttl"`
	QuoteCacheTTL time.Duration `mapstructure:"quote_cache_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig is one named limiter policy.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// SwapConfig is used by the swap command and the orchestrator.
type SwapConfig struct {
	ProxyURL       string         `mapstructure:"proxy_url"`
	RPCURL         string         `mapstructure:"rpc_url"`
	KeyEnv         string         `mapstructure:"key_env"`
	RetryAttempts  int            `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration  `mapstructure:"retry_base_delay"`
	Debounce       time.Duration  `mapstructure:"debounce"`
	PollInterval   time.Duration  `mapstructure:"poll_interval"`
	Timeouts       TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig holds per-operation deadlines.
type TimeoutsConfig struct {
	Price        time.Duration `mapstructure:"price"`
	Quote        time.Duration `mapstructure:"quote"`
	Approval     time.Duration `mapstructure:"approval"`
	Signature    time.Duration `mapstructure:"signature"`
	Swap         time.Duration `mapstructure:"swap"`
	Confirmation time.Duration `mapstructure:"confirmation"`
}

// TokensConfig points at an optional token list merged over the built-in one.
type TokensConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
