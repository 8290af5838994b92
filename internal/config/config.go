package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for the config file.
const DefaultPath = "fieldsurvey.yaml"

// Config holds all fieldsurvey configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Ingest   IngestConfig   `yaml:"ingest"`

	// IANA zone used to read submission timestamps without an offset.
	Timezone string `yaml:"timezone"`

	// Mission the CLI acts in; 0 is unscoped.
	MissionID int `yaml:"mission_id"`
}

// DatabaseConfig selects the driver and the connection pool.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // postgres, sqlite3
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// IngestConfig tunes batch ingestion.
type IngestConfig struct {
	Workers    int    `yaml:"workers"`
	QueueSize  int    `yaml:"queue_size"`
	Retries    int    `yaml:"retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "fieldsurvey.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: "30m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Ingest: IngestConfig{
			Workers:    4,
			QueueSize:  16,
			Retries:    3,
			RetryDelay: "500ms",
		},
		Timezone: "UTC",
	}
}

// Load reads configuration from a YAML file, falling back to defaults when it
// does not exist. A .env file in the same directory is loaded first so
// environment overrides can come from it; variables already set win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FIELDSURVEY_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("FIELDSURVEY_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("FIELDSURVEY_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("FIELDSURVEY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ValidDrivers lists the supported database drivers.
var ValidDrivers = []string{"postgres", "sqlite3"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	valid := false
	for _, d := range ValidDrivers {
		if c.Database.Driver == d {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid database driver: %s (valid: %v)", c.Database.Driver, ValidDrivers)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn not configured (set FIELDSURVEY_DB_DSN)")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.Retries < 1 {
		return fmt.Errorf("ingest.retries must be at least 1, got %d", c.Ingest.Retries)
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GetConnMaxLifetime returns the connection lifetime as a duration.
func (c *Config) GetConnMaxLifetime() time.Duration {
	d, err := time.ParseDuration(c.Database.ConnMaxLifetime)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetRetryDelay returns the ingestion retry delay as a duration.
func (c *Config) GetRetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Ingest.RetryDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
