package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the Store.
type Config struct {
	// CacheTTL bounds how long cached records live when a record cache
	// is attached. Zero means the cache's own default.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// DefaultLimit caps result sets for All when the query itself sets
	// no limit. Zero means unlimited.
	DefaultLimit int `yaml:"default_limit"`

	// Backends describes the backend roles for connection glue. The
	// store itself only uses the roles; opening connections from this
	// is up to the drivers.
	Backends map[Role]BackendConfig `yaml:"backends"`
}

// BackendConfig describes how to reach one backend role.
type BackendConfig struct {
	// Driver names the driver ("postgres", "sqlite", "memory").
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL: 5 * time.Minute,
	}
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.validate()
	return cfg, nil
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
	if c.DefaultLimit < 0 {
		c.DefaultLimit = 0
	}
}
