package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.DefaultLimit != 0 {
		t.Errorf("expected no default limit, got %d", cfg.DefaultLimit)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbor.yaml")
	data := []byte(`
cache_ttl: 30s
default_limit: 100
backends:
  primary:
    driver: postgres
    dsn: postgres://localhost/arbor
  replica:
    driver: postgres
    dsn: postgres://replica.local/arbor
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected 30s cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.DefaultLimit != 100 {
		t.Errorf("expected default limit 100, got %d", cfg.DefaultLimit)
	}
	if cfg.Backends[RolePrimary].Driver != "postgres" {
		t.Errorf("unexpected primary backend %+v", cfg.Backends[RolePrimary])
	}
	if cfg.Backends[RoleReplica].DSN != "postgres://replica.local/arbor" {
		t.Errorf("unexpected replica backend %+v", cfg.Backends[RoleReplica])
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigValidateClampsNegatives(t *testing.T) {
	cfg := Config{CacheTTL: -time.Second, DefaultLimit: -5}
	cfg.validate()
	if cfg.CacheTTL != 0 || cfg.DefaultLimit != 0 {
		t.Errorf("expected negatives clamped to zero, got %+v", cfg)
	}
}
