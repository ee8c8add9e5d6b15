// Package config reads service settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// DatabaseURL selects the Postgres store. Empty runs the in-memory store
	// seeded from SeedFile.
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        string `env:"PORT" envDefault:"8080"`
	// CORSOrigins is a comma-separated allowlist; "*" allows any origin.
	CORSOrigins []string `env:"CORS_ORIGIN" envSeparator:","`

	CalendarTZ    string        `env:"CALENDAR_TZ" envDefault:"UTC"`
	LockTimeout   time.Duration `env:"LOCK_TIMEOUT" envDefault:"3s"`
	CatalogTTL    time.Duration `env:"CATALOG_TTL" envDefault:"1m"`
	CatalogFile   string        `env:"CATALOG_FILE" envDefault:"configs/catalog.yaml"`
	SeedFile      string        `env:"SEED_FILE"`
	MigrationsDir string        `env:"MIGRATIONS_DIR"`
	MaxDBConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StreakSweepInterval time.Duration `env:"STREAK_SWEEP_INTERVAL" envDefault:"15m"`
	JanitorInterval     time.Duration `env:"INVENTORY_JANITOR_INTERVAL" envDefault:"1h"`
	TelemetryTimeout    time.Duration `env:"TELEMETRY_TIMEOUT" envDefault:"2s"`
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	if c.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// MemoryMode reports whether no database is configured.
func (c Config) MemoryMode() bool { return c.DatabaseURL == "" }

// Location is the reference timezone for calendar days.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.CalendarTZ)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_TZ %q: %w", c.CalendarTZ, err)
	}
	return loc, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return log
}
