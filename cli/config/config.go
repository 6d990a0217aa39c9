// Package config handles CLI configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/carelink/core"
)

// EnvBaseURL overrides the configured base URL when set.
const EnvBaseURL = "CARELINK_BASE_URL"

// EnvMasterKey holds the key protecting the encrypted token file.
const EnvMasterKey = "CARELINK_MASTER_KEY"

// Token store drivers.
const (
	DriverFile   = "file"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config represents the CLI configuration.
type Config struct {
	BaseURL       string           `yaml:"base_url" validate:"required,url"`
	APIRoot       string           `yaml:"api_root"`
	StreamRoot    string           `yaml:"stream_root"`
	RefreshPath   string           `yaml:"refresh_path" validate:"required,startswith=/"`
	MaxLineLength int              `yaml:"max_line_length" validate:"gte=0"`
	RefreshPolicy string           `yaml:"refresh_policy" validate:"omitempty,oneof=fail-fast shared"`
	Timeout       string           `yaml:"timeout,omitempty"`
	Retries       int              `yaml:"retries" validate:"gte=0,lte=10"`
	RateLimit     float64          `yaml:"rate_limit,omitempty" validate:"gte=0"` // requests per second, 0 is unlimited
	TokenStore    TokenStoreConfig `yaml:"token_store"`
	Log           LogConfig        `yaml:"log"`
}

// TokenStoreConfig selects where tokens are persisted.
type TokenStoreConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=file memory redis"`
	Path      string `yaml:"path,omitempty"`
	RedisAddr string `yaml:"redis_addr,omitempty" validate:"required_if=Driver redis"`
	RedisDB   int    `yaml:"redis_db,omitempty" validate:"gte=0"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// LogConfig controls CLI logging.
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" validate:"gte=0"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		BaseURL:       "http://localhost:8080",
		APIRoot:       core.DefaultAPIRoot,
		RefreshPath:   core.DefaultRefreshPath,
		MaxLineLength: core.DefaultMaxLineLength,
		RefreshPolicy: core.RefreshFailFast.String(),
		TokenStore:    TokenStoreConfig{Driver: DriverFile},
		Log:           LogConfig{Level: "warn", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// DefaultConfigPath returns the default configuration file path for the current platform.
// - macOS/Linux: ~/.carelink/config.yaml
// - Windows: %USERPROFILE%\.carelink\config.yaml
func DefaultConfigPath() string {
	var homeDir string

	if runtime.GOOS == "windows" {
		homeDir = os.Getenv("USERPROFILE")
	} else {
		homeDir = os.Getenv("HOME")
	}

	if homeDir == "" {
		// Fallback to current directory
		return "config.yaml"
	}

	return filepath.Join(homeDir, ".carelink", "config.yaml")
}

// LoadConfig loads configuration from the specified path.
// If the file doesn't exist, the defaults are used.
// The environment is applied after the file and the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Missing config file is not an error
	default:
		return nil, err
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// RequestTimeout returns the parsed timeout, zero when unset.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid config: timeout: %w", err)
		}
	}
	if _, ok := core.ParseRefreshPolicy(c.RefreshPolicy); !ok {
		return fmt.Errorf("invalid config: unknown refresh_policy %q", c.RefreshPolicy)
	}
	return nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
