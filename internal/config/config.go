// Package config holds pipeline settings and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultDatabase    = "sqlpipe.db"
	DefaultMaxRetries  = 3
	DefaultRetryBase   = time.Second
	DefaultJoinTimeout = 5 * time.Second
	DefaultLogLevel    = "info"
)

// Config is the resolved pipeline configuration.
type Config struct {
	// Database is the SQLite file path.
	Database string

	// TablePath is an external transition table. Empty means the embedded
	// default table.
	TablePath string

	// MaxRetries bounds reconnect attempts after a connection failure.
	MaxRetries int

	// RetryBase is the delay before the first reconnect attempt.
	RetryBase time.Duration

	// JoinTimeout bounds how long shutdown waits for the worker before
	// forcing it to stop.
	JoinTimeout time.Duration

	// LogLevel is a zerolog level name.
	LogLevel string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:    DefaultDatabase,
		MaxRetries:  DefaultMaxRetries,
		RetryBase:   DefaultRetryBase,
		JoinTimeout: DefaultJoinTimeout,
		LogLevel:    DefaultLogLevel,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database path is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryBase <= 0 {
		return fmt.Errorf("retry_base must be positive, got %s", c.RetryBase)
	}
	if c.JoinTimeout <= 0 {
		return fmt.Errorf("join_timeout must be positive, got %s", c.JoinTimeout)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// FileConfig mirrors Config but uses strings for durations to keep the YAML
// readable. Zero values mean "not set".
type FileConfig struct {
	Database    string `yaml:"database"`
	TablePath   string `yaml:"table"`
	MaxRetries  int    `yaml:"max_retries"`
	RetryBase   string `yaml:"retry_base"`
	JoinTimeout string `yaml:"join_timeout"`
	LogLevel    string `yaml:"log_level"`
}

// LoadFileConfig reads and parses a YAML config file. Unknown keys are an
// error.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	f, err := os.Open(path)
	if err != nil {
		return fc, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// Load returns Default overlaid with the file at path, validated.
func Load(path string) (Config, error) {
	cfg := Default()
	fc, err := LoadFileConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := Apply(&cfg, fc, nil); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Apply copies set fields of fc into cfg. Fields whose flag name appears in
// changed were set on the command line and are left alone.
func Apply(cfg *Config, fc FileConfig, changed map[string]bool) error {
	keep := func(flag string) bool { return changed[flag] }

	if fc.Database != "" && !keep("db") {
		cfg.Database = fc.Database
	}
	if fc.TablePath != "" && !keep("table") {
		cfg.TablePath = fc.TablePath
	}
	if fc.MaxRetries != 0 && !keep("max-retries") {
		cfg.MaxRetries = fc.MaxRetries
	}
	if fc.LogLevel != "" && !keep("log-level") {
		cfg.LogLevel = fc.LogLevel
	}

	if err := setDuration("retry_base", fc.RetryBase, &cfg.RetryBase, keep("retry-base")); err != nil {
		return err
	}
	if err := setDuration("join_timeout", fc.JoinTimeout, &cfg.JoinTimeout, keep("join-timeout")); err != nil {
		return err
	}
	return nil
}

func setDuration(key, raw string, dst *time.Duration, keep bool) error {
	if raw == "" || keep {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
