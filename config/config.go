/*
Package config loads server configuration from a TOML file.

PURPOSE:
  One place for every tunable: HTTP port, database path, CORS origins, the
  overdue threshold, engine retry bound, and the scheduler interval. Flags
  in main override the file; the file overrides the defaults.

FORMAT (TOML):
  [server]
  port = 8080
  cors_origins = ["http://localhost:5173"]

  [database]
  path = "./data/payments.db"

  [ledger]
  overdue_days = 30
  max_retry_attempts = 3

  [scheduler]
  enabled = true
  check_interval_minutes = 60

SEE ALSO:
  - cmd/server/main.go: Load call and flag overrides
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LedgerConfig struct {
	// OverdueDays is how old an unpaid invoice gets before it reports as
	// overdue.
	OverdueDays int `toml:"overdue_days"`

	// MaxRetryAttempts bounds engine retries of transient store failures.
	MaxRetryAttempts int `toml:"max_retry_attempts"`
}

type SchedulerConfig struct {
	Enabled              bool `toml:"enabled"`
	CheckIntervalMinutes int  `toml:"check_interval_minutes"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Path: "payments.db",
		},
		Ledger: LedgerConfig{
			OverdueDays:      30,
			MaxRetryAttempts: 3,
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			CheckIntervalMinutes: 60,
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is not an
// error: the defaults come back untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Ledger.OverdueDays < 0 {
		return fmt.Errorf("ledger.overdue_days cannot be negative")
	}
	if c.Ledger.MaxRetryAttempts < 1 {
		return fmt.Errorf("ledger.max_retry_attempts must be at least 1")
	}
	if c.Scheduler.CheckIntervalMinutes < 1 {
		return fmt.Errorf("scheduler.check_interval_minutes must be at least 1")
	}
	return nil
}

// OverdueAfter converts the configured day count to a duration.
func (c Config) OverdueAfter() time.Duration {
	return time.Duration(c.Ledger.OverdueDays) * 24 * time.Hour
}

// CheckInterval converts the configured scheduler minutes to a duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalMinutes) * time.Minute
}
