package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration: the YAML file merged with
// environment overrides and defaults.
type Config struct {
	Host            string        // listener bind host (env HOST)
	Port            string        // listener bind port (env PORT)
	ShutdownTimeout time.Duration // graceful shutdown budget

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	BaseURL string // external base URL used in generated client configs

	Admin    Admin
	Polling  Polling
	Database Database
	Services []SeedService

	// Admin surface hardening
	AdminAllowedCIDRs []string // optional, restrict admin API to specific IPs/CIDRs
	AdminTrustProxy   bool     // true => trust X-Forwarded-For headers

	UpstreamCallTimeout time.Duration // first-byte deadline for upstream calls
}

type Admin struct {
	Password  string `yaml:"password"`
	DisableUI bool   `yaml:"disable_ui"`

	// PasswordGenerated is true when no password was configured and a
	// random one was minted at startup. The caller logs it exactly once.
	PasswordGenerated bool `yaml:"-"`
}

type Polling struct {
	IntervalSeconds   int `yaml:"interval_seconds"`
	MinCheckFrequency int `yaml:"min_check_frequency"`
}

func (p Polling) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

type Database struct {
	URL string `yaml:"url"`
}

// SeedService is one pre-configured upstream upserted at startup.
type SeedService struct {
	Name                  string `yaml:"name"`
	UpstreamURL           string `yaml:"upstream_url"`
	Enabled               *bool  `yaml:"enabled"`
	CheckFrequencyMinutes int    `yaml:"check_frequency_minutes"`
}

func (s SeedService) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type fileConfig struct {
	Admin    Admin         `yaml:"admin"`
	Polling  Polling       `yaml:"polling"`
	Database Database      `yaml:"database"`
	BaseURL  string        `yaml:"base_url"`
	Services []SeedService `yaml:"services"`
}

// Load reads the YAML config (path from GUARDIAN_CONFIG, default
// ./config.yml, silently absent) and applies env overrides and defaults.
func Load() (*Config, error) {
	path := getenv("GUARDIAN_CONFIG", "config.yml")

	var fc fileConfig
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file is fine; everything has a default.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		Host:            getenv("HOST", "0.0.0.0"),
		Port:            getenv("PORT", "8080"),
		ShutdownTimeout: mustDuration("GUARDIAN_SHUTDOWN_TIMEOUT", 5*time.Second),

		LogLevel:  getenv("GUARDIAN_LOG_LEVEL", "info"),
		PrettyLog: mustBool("GUARDIAN_PRETTY_LOG", false),

		BaseURL: fc.BaseURL,

		Admin:    fc.Admin,
		Polling:  fc.Polling,
		Database: fc.Database,
		Services: fc.Services,

		AdminAllowedCIDRs: splitAndTrim(getenv("GUARDIAN_ADMIN_ALLOWED_CIDRS", "")),
		AdminTrustProxy:   mustBool("GUARDIAN_TRUST_PROXY", false),

		UpstreamCallTimeout: mustDuration("GUARDIAN_UPSTREAM_TIMEOUT", 30*time.Second),
	}

	if cfg.Polling.IntervalSeconds < 1 {
		cfg.Polling.IntervalSeconds = 60
	}
	if cfg.Polling.MinCheckFrequency <= 0 {
		cfg.Polling.MinCheckFrequency = 5
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "mcp_guardian.db"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%s", cfg.Port)
	}

	cfg.Admin.Password = strings.TrimSpace(cfg.Admin.Password)
	if cfg.Admin.Password == "" {
		cfg.Admin.Password = uuid.NewString()
		cfg.Admin.PasswordGenerated = true
	}

	return cfg, nil
}

// ListenAddr is the bind address for the HTTP listener.
func (c *Config) ListenAddr() string {
	return c.Host + ":" + c.Port
}

// helpers

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.Trim(strings.TrimSpace(part), `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
