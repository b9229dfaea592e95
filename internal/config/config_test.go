package config

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.KV.Backend != "" {
		t.Errorf("persistence should be disabled by default, got %q", cfg.KV.Backend)
	}
	if cfg.Session.SummaryInterval != 30*time.Second {
		t.Errorf("expected 30s summary interval, got %v", cfg.Session.SummaryInterval)
	}
	if cfg.Session.DisconnectGrace != 300*time.Second {
		t.Errorf("expected 300s disconnect grace, got %v", cfg.Session.DisconnectGrace)
	}
	if cfg.Session.IdleTimeout != 1800*time.Second {
		t.Errorf("expected 1800s idle timeout, got %v", cfg.Session.IdleTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KV_BACKEND", "sqlite")
	t.Setenv("KV_PATH", "/tmp/sessions.db")
	t.Setenv("LM_API_KEY", "test-key")
	t.Setenv("SUMMARY_INTERVAL_SEC", "5")
	t.Setenv("DISCONNECT_GRACE_SEC", "60")

	cfg := Load()

	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.KV.Backend != "sqlite" || cfg.KV.Path != "/tmp/sessions.db" {
		t.Errorf("KV config not loaded: %+v", cfg.KV)
	}
	if cfg.Evaluator.APIKey != "test-key" {
		t.Errorf("expected evaluator key from env, got %q", cfg.Evaluator.APIKey)
	}
	if cfg.Session.SummaryInterval != 5*time.Second {
		t.Errorf("expected 5s summary interval, got %v", cfg.Session.SummaryInterval)
	}
	if cfg.Session.DisconnectGrace != 60*time.Second {
		t.Errorf("expected 60s grace, got %v", cfg.Session.DisconnectGrace)
	}
}

func TestConfig_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("SUMMARY_INTERVAL_SEC", "-4")

	cfg := Load()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("malformed PORT should keep default, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.SummaryInterval != 30*time.Second {
		t.Errorf("negative interval should keep default, got %v", cfg.Session.SummaryInterval)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = -1 }},
		{"unknown backend", func(c *Config) { c.KV.Backend = "dynamo" }},
		{"redis without addr", func(c *Config) { c.KV.Backend = "redis"; c.KV.Addr = "" }},
		{"sqlite without path", func(c *Config) { c.KV.Backend = "sqlite"; c.KV.Path = "" }},
		{"empty temp dir", func(c *Config) { c.Sandbox.TempDir = "" }},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }},
		{"zero summary interval", func(c *Config) { c.Session.SummaryInterval = 0 }},
		{"zero grace", func(c *Config) { c.Session.DisconnectGrace = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
