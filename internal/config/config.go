// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/notifier and cmd/notifyctl.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/albapepper/pantry-notifier/internal/domain"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DBDriver       string        `envconfig:"DB_DRIVER" default:"postgres"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	SQLitePath     string        `envconfig:"SQLITE_PATH" default:"./data/notifier.db"`
	DBPoolMinConns int           `envconfig:"DB_POOL_MIN_CONNS" default:"2"`
	DBPoolMaxConns int           `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMaxLife  time.Duration `envconfig:"DB_POOL_MAX_LIFE" default:"30m"`

	// Service
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`

	// Scheduling
	DefaultTZ           string        `envconfig:"DEFAULT_TZ" default:"UTC"`
	FineSweepInterval   time.Duration `envconfig:"FINE_SWEEP_INTERVAL" default:"30m"`
	FineSweepOffset     time.Duration `envconfig:"FINE_SWEEP_OFFSET" default:"15m"` // ticks at :15 and :45
	DailySweepAt        string        `envconfig:"DAILY_SWEEP_AT" default:"09:00"` // server local time
	MaintenanceInterval time.Duration `envconfig:"MAINTENANCE_INTERVAL" default:"6h"`
	LogRetention        time.Duration `envconfig:"LOG_RETENTION" default:"720h"`
	DedupWindow         time.Duration `envconfig:"DEDUP_WINDOW" default:"24h"`
	SweepWorkers        int           `envconfig:"SWEEP_WORKERS" default:"8"`
	SweepLockTTL        time.Duration `envconfig:"SWEEP_LOCK_TTL" default:"25m"`

	// Web push
	PushConcurrency int    `envconfig:"PUSH_CONCURRENCY" default:"4"`
	VAPIDSubscriber string `envconfig:"VAPID_SUBSCRIBER"`
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	PushTTL         int    `envconfig:"PUSH_TTL_SECONDS" default:"86400"`

	// Email queue
	RabbitMQURL     string  `envconfig:"RABBITMQ_URL"`
	EmailExchange   string  `envconfig:"EMAIL_EXCHANGE" default:"notifications.direct"`
	EmailQueue      string  `envconfig:"EMAIL_QUEUE" default:"email.queue"`
	EmailRatePerSec float64 `envconfig:"EMAIL_RATE_PER_SEC" default:"20"`
	EmailBurst      int     `envconfig:"EMAIL_BURST" default:"10"`

	// Redis (optional cross-instance sweep lease)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Admin API
	AdminJWTSecret    string        `envconfig:"ADMIN_JWT_SECRET"`
	CORSAllowOrigins  []string      `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// Load reads .env (if present) and the environment into a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set when DB_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	if c.FineSweepInterval <= 0 {
		errs = append(errs, errors.New("FINE_SWEEP_INTERVAL must be positive"))
	}
	if c.FineSweepOffset < 0 || (c.FineSweepInterval > 0 && c.FineSweepOffset >= c.FineSweepInterval) {
		errs = append(errs, errors.New("FINE_SWEEP_OFFSET must be in [0, FINE_SWEEP_INTERVAL)"))
	}
	if _, err := domain.ParseTimeOfDay(c.DailySweepAt); err != nil {
		errs = append(errs, fmt.Errorf("DAILY_SWEEP_AT: %w", err))
	}
	if c.DedupWindow <= 0 {
		errs = append(errs, errors.New("DEDUP_WINDOW must be positive"))
	}
	if c.SweepWorkers < 1 {
		errs = append(errs, errors.New("SWEEP_WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PushEnabled reports whether VAPID credentials are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
