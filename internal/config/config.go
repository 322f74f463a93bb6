package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/dropforge/dropengine/pkg/config"
)

// Config holds all configuration for the drop engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"HTTP_PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"dropengine"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"dropengine_secret"`
	PostgresDB   string `env:"POSTGRES_DB_NAME" envDefault:"dropengine_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis (distributed locks + idempotency ledger)
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Payment gateway
	GatewayBaseURL       string `env:"GATEWAY_BASE_URL" envDefault:"https://api.razorpay.com"`
	GatewayKeyID         string `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret     string `env:"GATEWAY_KEY_SECRET"`
	GatewayWebhookSecret string `env:"GATEWAY_WEBHOOK_SECRET"`

	// Platform fee taken from each settled order, as an integer percentage.
	PlatformFeePercent int64 `env:"PLATFORM_FEE_PERCENT" envDefault:"5"`

	// Reservation TTL in seconds (default 10 minutes)
	ReservationTTL int `env:"RESERVATION_TTL_SECONDS" envDefault:"600"`

	// Sweep interval in seconds for expired reservations (default 5 minutes)
	SweepInterval int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"300"`

	// Variant lock TTL in seconds for the reserve fast path
	LockTTL int `env:"VARIANT_LOCK_TTL_SECONDS" envDefault:"5"`

	// Retention for cached idempotent responses and processed webhook events
	IdempotencyTTLHours int `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load drop engine config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100, got %d", c.PlatformFeePercent)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be > 0, got %d", c.ReservationTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.SweepInterval)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("VARIANT_LOCK_TTL_SECONDS must be > 0, got %d", c.LockTTL)
	}
	if c.IdempotencyTTLHours <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be > 0, got %d", c.IdempotencyTTLHours)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// ReservationTTLDuration returns the reservation hold window.
func (c *Config) ReservationTTLDuration() time.Duration {
	return time.Duration(c.ReservationTTL) * time.Second
}

// SweepIntervalDuration returns how often the sweeper runs.
func (c *Config) SweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// LockTTLDuration returns the per-variant lock TTL.
func (c *Config) LockTTLDuration() time.Duration {
	return time.Duration(c.LockTTL) * time.Second
}

// IdempotencyTTLDuration returns the idempotent response retention window.
func (c *Config) IdempotencyTTLDuration() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}
