package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, "./webhook_relay.db", cfg.DatabasePath)
	assert.Equal(t, "local", cfg.RateLimitBackend)
	assert.Equal(t, 1000, cfg.DispatchQueueSize)
	assert.Equal(t, 8, cfg.DispatchWorkers)
	assert.Equal(t, 10, cfg.DispatchMaxAttempts)
	assert.Equal(t, time.Second, cfg.DispatchBackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.DispatchBackoffMax)
	assert.InDelta(t, 0.2, cfg.DispatchJitterFactor, 1e-9)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, "@every 1h", cfg.HousekeepingSchedule)
	assert.False(t, cfg.AllowPrivateDestinations)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_TYPE", "MEMORY")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("DISPATCH_BACKOFF_BASE", "250ms")
	t.Setenv("DISPATCH_BACKOFF_MAX", "30")
	t.Setenv("ALLOW_PRIVATE_DESTINATIONS", "true")
	t.Setenv("DISPATCH_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseType)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "redis", cfg.RateLimitBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.DispatchBackoffBase)
	assert.Equal(t, 30*time.Second, cfg.DispatchBackoffMax)
	assert.True(t, cfg.AllowPrivateDestinations)
	assert.Equal(t, 8, cfg.DispatchWorkers, "invalid values fall back to defaults")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(c *Config) {}},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "short jwt secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "at least 32"},
		{name: "tls cert without key", mutate: func(c *Config) { c.TLSCertFile = "cert.pem" }, wantErr: "TLS_KEY_FILE"},
		{name: "bad port", mutate: func(c *Config) { c.Port = "70000" }, wantErr: "PORT"},
		{name: "bad database type", mutate: func(c *Config) { c.DatabaseType = "mongo" }, wantErr: "DATABASE_TYPE"},
		{name: "postgres without host", mutate: func(c *Config) {
			c.DatabaseType = "postgres"
			c.PostgresHost = ""
		}, wantErr: "POSTGRES_HOST"},
		{name: "redis backend without address", mutate: func(c *Config) { c.RateLimitBackend = "redis" }, wantErr: "REDIS_ADDRESS"},
		{name: "unknown backend", mutate: func(c *Config) { c.RateLimitBackend = "memcache" }, wantErr: "RATE_LIMIT_BACKEND"},
		{name: "zero queue", mutate: func(c *Config) { c.DispatchQueueSize = 0 }, wantErr: "DISPATCH_QUEUE_SIZE"},
		{name: "zero workers", mutate: func(c *Config) { c.DispatchWorkers = 0 }, wantErr: "DISPATCH_WORKERS"},
		{name: "zero attempts", mutate: func(c *Config) { c.DispatchMaxAttempts = 0 }, wantErr: "DISPATCH_MAX_ATTEMPTS"},
		{name: "backoff inverted", mutate: func(c *Config) {
			c.DispatchBackoffBase = time.Minute
			c.DispatchBackoffMax = time.Second
		}, wantErr: "DISPATCH_BACKOFF_BASE"},
		{name: "jitter out of range", mutate: func(c *Config) { c.DispatchJitterFactor = 2 }, wantErr: "JITTER"},
		{name: "negative retention", mutate: func(c *Config) { c.RetentionDays = -1 }, wantErr: "RETENTION_DAYS"},
		{name: "bad schedule", mutate: func(c *Config) { c.HousekeepingSchedule = "every hour" }, wantErr: "HOUSEKEEPING_SCHEDULE"},
		{name: "short encryption key", mutate: func(c *Config) { c.EncryptionKey = "abc" }, wantErr: "CONFIG_ENCRYPTION_KEY"},
		{name: "ingest throttle without rate", mutate: func(c *Config) {
			c.IngestRateLimitEnabled = true
			c.IngestRateLimitRPS = 0
		}, wantErr: "INGEST_RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresUser:     "relay",
		PostgresPassword: "pw",
		PostgresHost:     "db",
		PostgresPort:     "5432",
		PostgresDB:       "relay",
		PostgresSSLMode:  "require",
	}
	assert.Equal(t, "postgres://relay:pw@db:5432/relay?sslmode=require", cfg.PostgresDSN())
}
