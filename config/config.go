// Package config provides configuration loading and validation.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // zones resolve without a system database

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ODATAGATE_"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Routing  RoutingConfig  `yaml:"routing" toml:"routing" envPrefix:"ROUTING_"`
	Model    ModelConfig    `yaml:"model" toml:"model" envPrefix:"MODEL_"`
	Database DatabaseConfig `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging" envPrefix:"LOG_"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`

	// TimeZone interprets date/time values that carry no offset. Empty
	// means the process local zone.
	TimeZone string `yaml:"time_zone" toml:"time_zone" env:"TIME_ZONE"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host" toml:"host" env:"HOST"`
	Port           int           `yaml:"port" toml:"port" env:"PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// RoutingConfig configures route binding.
type RoutingConfig struct {
	Prefix    string `yaml:"prefix" toml:"prefix" env:"PREFIX"`         // route prefix, e.g. "odata"
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix" env:"KEY_PREFIX"` // key parameter name prefix
}

// ModelConfig locates the entity data model.
type ModelConfig struct {
	Path string `yaml:"path" toml:"path" env:"PATH"`
}

// DatabaseConfig configures the entity store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" toml:"dsn" env:"DSN"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level" env:"LEVEL"`
	Format     string `yaml:"format" toml:"format" env:"FORMAT"` // json or console
	File       string `yaml:"file" toml:"file" env:"FILE"`       // empty logs to stdout
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" toml:"compress" env:"COMPRESS"`
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// On reports whether metrics are served. Metrics are on unless disabled.
func (m MetricsConfig) On() bool {
	return m.Enabled == nil || *m.Enabled
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Location returns the configured time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
// Environment variables override file values. A relative model path is
// resolved against the directory of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if cfg.Model.Path != "" && !filepath.IsAbs(cfg.Model.Path) {
		cfg.Model.Path = filepath.Join(filepath.Dir(path), cfg.Model.Path)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	ODATAGATE_MODEL_PATH          - Entity data model file (required)
//	ODATAGATE_DATABASE_DSN        - SQLite path (default: odatagate.db)
//	ODATAGATE_SERVER_HOST         - Server host (default: 0.0.0.0)
//	ODATAGATE_SERVER_PORT         - Server port (default: 8080)
//	ODATAGATE_ROUTING_PREFIX      - Route prefix (default: none)
//	ODATAGATE_ROUTING_KEY_PREFIX  - Key parameter prefix (default: key)
//	ODATAGATE_TIME_ZONE           - IANA zone for naive date/times
//	ODATAGATE_LOG_LEVEL           - debug, info, warn, error (default: info)
//	ODATAGATE_LOG_FORMAT          - json or console (default: json)
//	ODATAGATE_METRICS_ENABLED     - Serve /metrics (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set %sMODEL_PATH", EnvPrefix)
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv(EnvPrefix+"MODEL_PATH") != ""
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		return err
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// applyEnvOverrides applies ODATAGATE_* environment variables to the config.
// Unset variables leave file values alone.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	cfg.Routing.Prefix = strings.Trim(cfg.Routing.Prefix, "/")
	if cfg.Routing.KeyPrefix == "" {
		cfg.Routing.KeyPrefix = "key"
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "odatagate.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Model.Path == "" {
		errs = append(errs, "model.path is required")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, "server.request_timeout must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error, got %q", cfg.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}

	if cfg.TimeZone != "" {
		if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
			errs = append(errs, fmt.Sprintf("time_zone %q: %v", cfg.TimeZone, err))
		}
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.path must start with '/', got %q", cfg.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
