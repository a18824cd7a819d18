// Package config provides centralized configuration management for the
// data-quality service. It loads configuration from environment variables
// with sensible defaults and validates all settings on startup to fail fast
// on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Quality     QualityConfig
	Catalog     CatalogConfig
	Maintenance MaintenanceConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 5m, rule batches can be slow)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 5m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// QualityConfig holds rule execution settings.
type QualityConfig struct {
	// RuleTimeout bounds a single rule or profiling query (default: 30s)
	RuleTimeout time.Duration `env:"DQ_RULE_TIMEOUT" default:"30s"`

	// RuleConcurrency is how many rules one batch evaluates in parallel (default: 4)
	RuleConcurrency int `env:"DQ_RULE_CONCURRENCY" default:"4"`

	// MaxConcurrentRuns is the number of rule batches allowed at once (default: 2)
	MaxConcurrentRuns int `env:"DQ_MAX_CONCURRENT_RUNS" default:"2"`

	// RunMaxWait is how long a batch waits for a run slot (default: 10s)
	RunMaxWait time.Duration `env:"DQ_RUN_MAX_WAIT" default:"10s"`

	// SeedFile is an optional YAML file of bootstrap rules
	SeedFile string `env:"DQ_SEED_FILE"`

	// DefaultSchema is used for rules that do not name a schema (default: public)
	DefaultSchema string `env:"DQ_DEFAULT_SCHEMA" default:"public"`
}

// CatalogConfig holds identifier catalog cache settings.
type CatalogConfig struct {
	// CacheTTL is how long a resolved identifier stays cached (default: 5m)
	CacheTTL time.Duration `env:"DQ_CATALOG_CACHE_TTL" default:"5m"`

	// CacheSize is the maximum number of cached lookups (default: 10000)
	CacheSize int64 `env:"DQ_CATALOG_CACHE_SIZE" default:"10000"`
}

// MaintenanceConfig holds view refresh and analyze settings.
type MaintenanceConfig struct {
	// ObjectTimeout bounds the refresh or analyze of one object (default: 10m)
	ObjectTimeout time.Duration `env:"DQ_MAINTENANCE_OBJECT_TIMEOUT" default:"10m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// RunLimit is requests per minute for rule-run and maintenance endpoints (default: 10)
	RunLimit int `env:"RATE_LIMIT_RUN" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key checks on /api routes (default: true).
	// /api accepts rule SQL and returns its result, so turning this off is
	// only for trusted networks.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"true"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled exposes /metrics (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Namespace prefixes every metric name (default: dq)
	Namespace string `env:"METRICS_NAMESPACE" default:"dq"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
