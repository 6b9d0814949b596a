// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Platform   PlatformConfig
	Processing ProcessingConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Retention  RetentionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds run ledger connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// PlatformConfig holds settings for the host platform REST API.
type PlatformConfig struct {
	// BaseURL is the platform origin, e.g. https://example.cybozu.com (required)
	BaseURL string `env:"PLATFORM_BASE_URL" required:"true"`

	// APITokens is a comma-separated list of app API tokens
	APITokens []string `env:"PLATFORM_API_TOKENS"`

	// Timeout bounds a single platform request (default: 30s)
	Timeout time.Duration `env:"PLATFORM_TIMEOUT" default:"30s"`

	// MaxRecordsPerRequest is the insert chunk size, at most 100 (default: 100)
	MaxRecordsPerRequest int `env:"PLATFORM_MAX_RECORDS_PER_REQUEST" default:"100"`
}

// ProcessingConfig holds submission processing settings.
type ProcessingConfig struct {
	// MappingDir holds one mapping file per source app (default: mappings)
	MappingDir string `env:"MAPPING_DIR" default:"mappings"`

	// MaxFileSize is the maximum attachment size in bytes (default: 50MB)
	MaxFileSize int64 `env:"PROCESSING_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrentRuns is the maximum number of runs in flight (default: 5)
	MaxConcurrentRuns int `env:"PROCESSING_MAX_CONCURRENT_RUNS" default:"5"`

	// MaxWaitTime is how long a submission waits for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"PROCESSING_MAX_WAIT_TIME" default:"30s"`

	// RunTimeout is the maximum duration of a single run (default: 10m)
	RunTimeout time.Duration `env:"PROCESSING_RUN_TIMEOUT" default:"10m"`

	// ResultTTL is how long finished runs stay in memory (default: 5m)
	ResultTTL time.Duration `env:"PROCESSING_RESULT_TTL" default:"5m"`

	// MaxParallelFiles limits concurrent workbook parses per run (default: 4)
	MaxParallelFiles int `env:"PROCESSING_MAX_PARALLEL_FILES" default:"4"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// EventLimit is requests per minute for the submission webhook and
	// preview endpoints (default: 30)
	EventLimit int `env:"RATE_LIMIT_EVENTS" default:"30"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

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

// RetentionConfig holds run ledger retention settings.
type RetentionConfig struct {
	// Days is how long runs are kept in the ledger (default: 90)
	Days int `env:"RETENTION_DAYS" default:"90"`

	// CheckInterval is how often old runs are purged (default: 24h)
	CheckInterval time.Duration `env:"RETENTION_CHECK_INTERVAL" default:"24h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
