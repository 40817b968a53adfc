// Package config assembles runtime configuration from defaults, an optional
// YAML file, and RUNLOG_* environment variables, in that order. Command-line
// flags are applied last by the CLI layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultAddr          = "127.0.0.1:8787"
	DefaultDBPath        = "runlog.db"
	DefaultJournal       = "delete"
	DefaultLogLevel      = "info"
	DefaultMaxInFlight   = 64
	DefaultBusyAttempts  = 5
	DefaultBusyBackoffMS = 100
	DefaultRetentionDays = 90
	DefaultKeepBackups   = 7
	DefaultDrainTimeout  = 10 * time.Second
)

// Config is the full service configuration.
type Config struct {
	// Addr is the listen address. Loopback by default: the service trusts
	// its callers and must not be exposed unfiltered.
	Addr string `yaml:"addr"`

	// DBPath locates the SQLite database file.
	DBPath string `yaml:"db_path"`

	// Journal selects the journal mode: "delete" or "wal".
	Journal string `yaml:"journal"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Write admission and retry policy.
	MaxInFlight   int `yaml:"max_in_flight"`
	BusyAttempts  int `yaml:"busy_attempts"`
	BusyBackoffMS int `yaml:"busy_backoff_ms"`

	// Maintenance.
	RetentionDays int    `yaml:"retention_days"`
	BackupDir     string `yaml:"backup_dir"`
	KeepBackups   int    `yaml:"keep_backups"`

	// GuardPath overrides the writer guard location; empty means
	// "<db_path>.lock".
	GuardPath string `yaml:"guard_path"`

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Addr:          DefaultAddr,
		DBPath:        DefaultDBPath,
		Journal:       DefaultJournal,
		LogLevel:      DefaultLogLevel,
		MaxInFlight:   DefaultMaxInFlight,
		BusyAttempts:  DefaultBusyAttempts,
		BusyBackoffMS: DefaultBusyBackoffMS,
		RetentionDays: DefaultRetentionDays,
		KeepBackups:   DefaultKeepBackups,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EffectiveGuardPath returns the writer guard location.
func (c Config) EffectiveGuardPath() string {
	if c.GuardPath != "" {
		return c.GuardPath
	}
	return c.DBPath + ".lock"
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("RUNLOG_ADDR", &c.Addr)
	str("RUNLOG_DB_PATH", &c.DBPath)
	str("RUNLOG_JOURNAL", &c.Journal)
	str("RUNLOG_LOG_LEVEL", &c.LogLevel)
	str("RUNLOG_BACKUP_DIR", &c.BackupDir)
	str("RUNLOG_GUARD_PATH", &c.GuardPath)

	if v, ok := os.LookupEnv("RUNLOG_LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RUNLOG_LOG_JSON: %w", err)
		}
		c.LogJSON = b
	}

	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	for key, dst := range map[string]*int{
		"RUNLOG_MAX_IN_FLIGHT":   &c.MaxInFlight,
		"RUNLOG_BUSY_ATTEMPTS":   &c.BusyAttempts,
		"RUNLOG_BUSY_BACKOFF_MS": &c.BusyBackoffMS,
		"RUNLOG_RETENTION_DAYS":  &c.RetentionDays,
		"RUNLOG_KEEP_BACKUPS":    &c.KeepBackups,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv("RUNLOG_DRAIN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RUNLOG_DRAIN_TIMEOUT: %w", err)
		}
		c.DrainTimeout = d
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Journal != "delete" && c.Journal != "wal" {
		return fmt.Errorf("journal must be delete or wal, got %q", c.Journal)
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("max_in_flight must be positive")
	}
	if c.BusyAttempts <= 0 {
		return fmt.Errorf("busy_attempts must be positive")
	}
	if c.BusyBackoffMS <= 0 {
		return fmt.Errorf("busy_backoff_ms must be positive")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if c.KeepBackups < 1 {
		return fmt.Errorf("keep_backups must be at least 1")
	}
	return nil
}
