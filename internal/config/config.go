// Package config provides configuration management for the webhook relay.
// Configuration is loaded from environment variables with sensible defaults
// and validated before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path; empty logs to stdout
//   - TRUST_PROXY_HEADERS: Use X-Forwarded-For as the caller address (default: false)
//   - TLS_CERT_FILE / TLS_KEY_FILE: Serve HTTPS when both are set
//
// Storage:
//   - DATABASE_TYPE: "memory", "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./webhook_relay.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Redis (optional, enables the distributed limiter and housekeeping lock):
//   - REDIS_ADDRESS: Redis server address; empty disables Redis
//   - REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE
//
// Rate Limiting:
//   - RATE_LIMIT_BACKEND: "local" or "redis" (default: local)
//   - INGEST_RATE_LIMIT_ENABLED: Per-IP throttle on ingestion (default: false)
//   - INGEST_RATE_LIMIT_RPS / INGEST_RATE_LIMIT_BURST (default: 50 / 100)
//
// Dispatch:
//   - DISPATCH_QUEUE_SIZE: Queue bound per destination (default: 1000)
//   - DISPATCH_WORKERS: Workers per destination (default: 8)
//   - DISPATCH_MAX_ATTEMPTS: Attempts before a delivery fails (default: 10)
//   - DISPATCH_BACKOFF_BASE / DISPATCH_BACKOFF_MAX (default: 1s / 5m)
//   - DISPATCH_JITTER_FACTOR: Extra random delay as a fraction (default: 0.2)
//   - ALLOW_PRIVATE_DESTINATIONS: Permit loopback/private targets (default: false)
//
// Housekeeping:
//   - RETENTION_DAYS: Event retention (default: 7, 0 disables purging)
//   - HOUSEKEEPING_SCHEDULE: Cron spec (default: @every 1h)
//
// Security:
//   - JWT_SECRET: Management API signing secret (required, minimum 32 characters)
//   - CONFIG_ENCRYPTION_KEY: Encrypts destination secrets at rest when set
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration values for the webhook relay.
type Config struct {
	Port              string
	LogLevel          string
	LogFile           string
	TrustProxyHeaders bool
	TLSCertFile       string
	TLSKeyFile        string

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	RateLimitBackend       string
	IngestRateLimitEnabled bool
	IngestRateLimitRPS     int
	IngestRateLimitBurst   int

	DispatchQueueSize        int
	DispatchWorkers          int
	DispatchMaxAttempts      int
	DispatchBackoffBase      time.Duration
	DispatchBackoffMax       time.Duration
	DispatchJitterFactor     float64
	AllowPrivateDestinations bool

	RetentionDays        int
	HousekeepingSchedule string

	JWTSecret     string
	EncryptionKey string
}

// Load creates a new Config instance with values loaded from environment variables.
// It does not validate; call Validate on the result.
func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
		TrustProxyHeaders: getBoolEnv("TRUST_PROXY_HEADERS", false),
		TLSCertFile:       getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:        getEnv("TLS_KEY_FILE", ""),

		DatabaseType:     strings.ToLower(getEnv("DATABASE_TYPE", "sqlite")),
		DatabasePath:     getEnv("DATABASE_PATH", "./webhook_relay.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "webhook_relay"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		RateLimitBackend:       strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "local")),
		IngestRateLimitEnabled: getBoolEnv("INGEST_RATE_LIMIT_ENABLED", false),
		IngestRateLimitRPS:     getIntEnv("INGEST_RATE_LIMIT_RPS", 50),
		IngestRateLimitBurst:   getIntEnv("INGEST_RATE_LIMIT_BURST", 100),

		DispatchQueueSize:        getIntEnv("DISPATCH_QUEUE_SIZE", 1000),
		DispatchWorkers:          getIntEnv("DISPATCH_WORKERS", 8),
		DispatchMaxAttempts:      getIntEnv("DISPATCH_MAX_ATTEMPTS", 10),
		DispatchBackoffBase:      getDurationEnv("DISPATCH_BACKOFF_BASE", time.Second),
		DispatchBackoffMax:       getDurationEnv("DISPATCH_BACKOFF_MAX", 5*time.Minute),
		DispatchJitterFactor:     getFloatEnv("DISPATCH_JITTER_FACTOR", 0.2),
		AllowPrivateDestinations: getBoolEnv("ALLOW_PRIVATE_DESTINATIONS", false),

		RetentionDays:        getIntEnv("RETENTION_DAYS", 7),
		HousekeepingSchedule: getEnv("HOUSEKEEPING_SCHEDULE", "@every 1h"),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),
	}
}

// PostgresDSN returns the pgx connection string built from the Postgres fields.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode)
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings and falls back to
// defaultValue on anything else.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("250ms", "5m") or a bare
// number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// Validate checks required fields, value ranges and cross-field
// dependencies. It returns the first problem found.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	switch c.DatabaseType {
	case "memory", "sqlite":
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'memory', 'sqlite' or 'postgres'")
	}
	if c.DatabaseType == "sqlite" && c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required when using SQLite")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be positive")
	}

	switch c.RateLimitBackend {
	case "local":
	case "redis":
		if !c.RedisEnabled() {
			return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be 'local' or 'redis'")
	}

	if c.IngestRateLimitEnabled && (c.IngestRateLimitRPS < 1 || c.IngestRateLimitBurst < 1) {
		return fmt.Errorf("INGEST_RATE_LIMIT_RPS and INGEST_RATE_LIMIT_BURST must be positive")
	}

	if c.DispatchQueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be positive")
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.DispatchBackoffBase <= 0 || c.DispatchBackoffMax < c.DispatchBackoffBase {
		return fmt.Errorf("DISPATCH_BACKOFF_BASE must be positive and not exceed DISPATCH_BACKOFF_MAX")
	}
	if c.DispatchJitterFactor < 0 || c.DispatchJitterFactor > 1 {
		return fmt.Errorf("DISPATCH_JITTER_FACTOR must be between 0 and 1")
	}

	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative")
	}
	if _, err := cron.ParseStandard(c.HousekeepingSchedule); err != nil {
		return fmt.Errorf("HOUSEKEEPING_SCHEDULE is not a valid cron spec: %w", err)
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) < 16 {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY must be at least 16 characters long")
	}

	return nil
}
