package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fabrikd.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	// Given: An empty config file
	path := writeConfig(t, "")

	// When: Loading
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// Then: Defaults apply
	if cfg.Mode != ModeHub {
		t.Errorf("expected default mode hub, got %q", cfg.Mode)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if time.Duration(cfg.Sync.Interval) != 5*time.Minute {
		t.Errorf("expected default sync interval 5m, got %v", time.Duration(cfg.Sync.Interval))
	}
	if cfg.Sync.MaxAttempts != 10 {
		t.Errorf("expected default max attempts 10, got %d", cfg.Sync.MaxAttempts)
	}
	if !cfg.ExposeErrorDetails() {
		t.Error("development config should expose error details")
	}
}

func TestLoadFromFile_YAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
mode: local
env: production
server:
  port: 9090
  shutdown_timeout: 5s
database:
  local_path: /var/lib/fabrikd/local.db
sync:
  interval: 30s
  max_attempts: 3
log:
  level: debug
  format: text
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Mode != ModeLocal || cfg.Server.Port != 9090 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if time.Duration(cfg.Server.ShutdownTimeout) != 5*time.Second {
		t.Errorf("expected 5s shutdown timeout, got %v", time.Duration(cfg.Server.ShutdownTimeout))
	}
	if cfg.Database.LocalPath != "/var/lib/fabrikd/local.db" {
		t.Errorf("unexpected local path %q", cfg.Database.LocalPath)
	}
	if time.Duration(cfg.Sync.Interval) != 30*time.Second || cfg.Sync.MaxAttempts != 3 {
		t.Errorf("unexpected sync config: %+v", cfg.Sync)
	}
	if cfg.ExposeErrorDetails() {
		t.Error("production config should not expose error details")
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("FABRIKD_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://factory:secret@db/factory")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected env override 7070, got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://factory:secret@db/factory" {
		t.Errorf("expected DATABASE_URL picked up, got %q", cfg.Database.URL)
	}
}

func TestLoadFromFile_RejectsInvalidMode(t *testing.T) {
	path := writeConfig(t, "mode: serverless\n")

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected an error for invalid mode")
	}
}

func TestLoadFromFile_RejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval: soon\n")

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected an error for invalid duration")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FABRIKD_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}
