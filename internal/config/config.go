// Package config loads and watches the cronbox configuration file.
// The file is JSON5 (comments and trailing commas allowed), with every
// field optional; Load fills unset fields with defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQL    = "sql"
)

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Backend string `json:"backend"`          // "memory", "file", or "sql"
	Path    string `json:"path,omitempty"`   // file backend: JSON document path
	Driver  string `json:"driver,omitempty"` // sql backend: "sqlite" or "postgres"
	DSN     string `json:"dsn,omitempty"`    // sql backend: driver DSN
}

// SchedulerConfig tunes the scheduling loop and job execution.
type SchedulerConfig struct {
	TickMS                 int64 `json:"tickMs,omitempty"`        // scheduler resolution
	ExecTimeoutMS          int64 `json:"execTimeoutMs,omitempty"` // per-attempt budget, 0 = none
	MaxRetries             int   `json:"maxRetries"`
	RetryBaseMS            int64 `json:"retryBaseMs,omitempty"`
	RetryMaxMS             int64 `json:"retryMaxMs,omitempty"`
	MaxConsecutiveFailures int   `json:"maxConsecutiveFailures"` // 0 = never auto-disable
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level string `json:"level,omitempty"` // "debug", "info", "warn", "error"
}

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Log       LogConfig       `json:"log"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    "~/.cronbox/jobs.json",
			Driver:  "sqlite",
			DSN:     "~/.cronbox/cron.db",
		},
		Scheduler: SchedulerConfig{
			TickMS:                 1000,
			ExecTimeoutMS:          0,
			MaxRetries:             3,
			RetryBaseMS:            2000,
			RetryMaxMS:             30_000,
			MaxConsecutiveFailures: 0,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a JSON5 config file and fills unset fields with defaults.
// A missing file is not an error; it yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := json5.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns the config file location (~/.cronbox/config.json5).
func DefaultPath() string {
	return ExpandHome("~/.cronbox/config.json5")
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// applyDefaults re-fills fields an explicit file left zero.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.DSN == "" {
		c.Store.DSN = def.Store.DSN
	}
	if c.Scheduler.TickMS <= 0 {
		c.Scheduler.TickMS = def.Scheduler.TickMS
	}
	if c.Scheduler.RetryBaseMS <= 0 {
		c.Scheduler.RetryBaseMS = def.Scheduler.RetryBaseMS
	}
	if c.Scheduler.RetryMaxMS <= 0 {
		c.Scheduler.RetryMaxMS = def.Scheduler.RetryMaxMS
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendSQL:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendSQL {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unknown sql driver %q", c.Store.Driver)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0")
	}
	return nil
}

// TickInterval returns the scheduler tick as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickMS) * time.Millisecond
}

// ExecTimeout returns the per-attempt execution budget (0 = none).
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Scheduler.ExecTimeoutMS) * time.Millisecond
}
