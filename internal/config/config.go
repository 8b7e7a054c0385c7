// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/serroba/textsync/internal/storage"
)

// Log formats accepted in TEXTSYNC_LOG_FORMAT.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config holds all server settings.
type Config struct {
	Addr              string        `env:"TEXTSYNC_ADDR" envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"TEXTSYNC_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"TEXTSYNC_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Store       string `env:"TEXTSYNC_STORE" envDefault:"memory"`
	SQLitePath  string `env:"TEXTSYNC_SQLITE_PATH" envDefault:"textsync.db"`
	RedisAddr   string `env:"TEXTSYNC_REDIS_ADDR" envDefault:"localhost:6379"`
	PostgresDSN string `env:"TEXTSYNC_POSTGRES_DSN"`

	HistorySize   int `env:"TEXTSYNC_HISTORY_SIZE" envDefault:"100"`
	SnapshotEvery int `env:"TEXTSYNC_SNAPSHOT_EVERY" envDefault:"50"`
	PendingLimit  int `env:"TEXTSYNC_PENDING_LIMIT" envDefault:"64"`

	LogLevel  string `env:"TEXTSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TEXTSYNC_LOG_FORMAT" envDefault:"json"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case storage.BackendMemory:
	case storage.BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("TEXTSYNC_SQLITE_PATH is required for the sqlite store"))
		}
	case storage.BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("TEXTSYNC_REDIS_ADDR is required for the redis store"))
		}
	case storage.BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("TEXTSYNC_POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history size must be positive, got %d", c.HistorySize))
	}

	if c.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("snapshot interval must not be negative, got %d", c.SnapshotEvery))
	}

	if c.PendingLimit <= 0 {
		errs = append(errs, fmt.Errorf("pending limit must be positive, got %d", c.PendingLimit))
	}

	if c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatConsole {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// StorageOptions returns the settings for storage.Open.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:     c.Store,
		SQLitePath:  c.SQLitePath,
		RedisAddr:   c.RedisAddr,
		PostgresDSN: c.PostgresDSN,
	}
}
