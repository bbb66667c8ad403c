package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GUARDIAN_CONFIG", path)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GUARDIAN_CONFIG", filepath.Join(t.TempDir(), "missing.yml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr() != "0.0.0.0:8080" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
	if cfg.Polling.IntervalSeconds != 60 {
		t.Errorf("IntervalSeconds = %d, want 60", cfg.Polling.IntervalSeconds)
	}
	if cfg.Polling.MinCheckFrequency != 5 {
		t.Errorf("MinCheckFrequency = %d, want 5", cfg.Polling.MinCheckFrequency)
	}
	if cfg.Database.URL != "mcp_guardian.db" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.UpstreamCallTimeout != 30*time.Second {
		t.Errorf("UpstreamCallTimeout = %v", cfg.UpstreamCallTimeout)
	}
	if !cfg.Admin.PasswordGenerated || cfg.Admin.Password == "" {
		t.Error("absent admin password must be generated")
	}
}

func TestLoadFromFile(t *testing.T) {
	writeConfig(t, `
admin:
  password: hunter2
  disable_ui: true
polling:
  interval_seconds: 120
  min_check_frequency: 10
database:
  url: /tmp/guardian.db
base_url: https://guardian.example
services:
  - name: svc1
    upstream_url: http://one.example/mcp
    check_frequency_minutes: 15
  - name: svc2
    upstream_url: http://two.example/mcp
    enabled: false
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Admin.Password != "hunter2" || cfg.Admin.PasswordGenerated {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if !cfg.Admin.DisableUI {
		t.Error("DisableUI not honored")
	}
	if cfg.Polling.Interval() != 2*time.Minute {
		t.Errorf("Interval() = %v", cfg.Polling.Interval())
	}
	if cfg.Polling.MinCheckFrequency != 10 {
		t.Errorf("MinCheckFrequency = %d", cfg.Polling.MinCheckFrequency)
	}
	if cfg.BaseURL != "https://guardian.example" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}

	if len(cfg.Services) != 2 {
		t.Fatalf("Services = %d entries", len(cfg.Services))
	}
	if !cfg.Services[0].IsEnabled() {
		t.Error("enabled defaults to true when omitted")
	}
	if cfg.Services[0].CheckFrequencyMinutes != 15 {
		t.Errorf("svc1 freq = %d", cfg.Services[0].CheckFrequencyMinutes)
	}
	if cfg.Services[1].IsEnabled() {
		t.Error("explicit enabled: false must stick")
	}
}

func TestEnvOverridesListener(t *testing.T) {
	t.Setenv("GUARDIAN_CONFIG", filepath.Join(t.TempDir(), "missing.yml"))
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:9999" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
}

func TestInvalidYAMLRejected(t *testing.T) {
	writeConfig(t, "admin: [not a map")
	if _, err := Load(); err == nil {
		t.Error("Load() accepted invalid YAML")
	}
}
