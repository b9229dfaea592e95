package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, loaded from the environment with
// sane defaults for local development.
type Config struct {
	HTTP      HTTPConfig
	KV        KVConfig
	Evaluator EvaluatorConfig
	Sandbox   SandboxConfig
	Session   SessionConfig
}

// HTTPConfig holds listener settings for the combined HTTP/WebSocket server.
type HTTPConfig struct {
	Port         int
	Host         string
	CORSOrigin   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KVConfig selects the optional write-through persistence adapter.
// Backend "" disables persistence; "redis" and "sqlite" are supported.
type KVConfig struct {
	Backend  string
	Addr     string
	Password string
	Region   string
	Path     string
}

// EvaluatorConfig holds external language-model settings.
type EvaluatorConfig struct {
	APIKey    string
	APIURL    string
	Model     string
	RateLimit float64 // requests per second across all sessions
}

// SandboxConfig holds code executor settings.
type SandboxConfig struct {
	TempDir string
}

// SessionConfig holds realtime lifecycle timings.
type SessionConfig struct {
	IdleTimeout     time.Duration
	SummaryInterval time.Duration
	DisconnectGrace time.Duration
}

// Default returns production defaults: idle 1800s, summary 30s, grace 300s.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			CORSOrigin:   "*",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		KV: KVConfig{
			Backend: "",
			Addr:    "localhost:6379",
			Path:    "./tomatocode.db",
		},
		Evaluator: EvaluatorConfig{
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			RateLimit: 2,
		},
		Sandbox: SandboxConfig{
			TempDir: os.TempDir() + "/tomatocode",
		},
		Session: SessionConfig{
			IdleTimeout:     1800 * time.Second,
			SummaryInterval: 30 * time.Second,
			DisconnectGrace: 300 * time.Second,
		},
	}
}

// Load reads configuration from the environment, honoring a .env file
// when present. Unset or malformed variables fall back to defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		cfg.HTTP.CORSOrigin = origin
	}

	if backend := os.Getenv("KV_BACKEND"); backend != "" {
		cfg.KV.Backend = backend
	}
	if addr := os.Getenv("KV_ADDR"); addr != "" {
		cfg.KV.Addr = addr
	}
	if pass := os.Getenv("KV_PASSWORD"); pass != "" {
		cfg.KV.Password = pass
	}
	if region := os.Getenv("KV_REGION"); region != "" {
		cfg.KV.Region = region
	}
	if path := os.Getenv("KV_PATH"); path != "" {
		cfg.KV.Path = path
	}

	cfg.Evaluator.APIKey = os.Getenv("LM_API_KEY")
	if url := os.Getenv("LM_API_URL"); url != "" {
		cfg.Evaluator.APIURL = url
	}
	if model := os.Getenv("LM_MODEL_NAME"); model != "" {
		cfg.Evaluator.Model = model
	}

	if dir := os.Getenv("TEMP_DIR"); dir != "" {
		cfg.Sandbox.TempDir = dir
	}

	cfg.Session.IdleTimeout = secondsEnv("IDLE_TIMEOUT_SEC", cfg.Session.IdleTimeout)
	cfg.Session.SummaryInterval = secondsEnv("SUMMARY_INTERVAL_SEC", cfg.Session.SummaryInterval)
	cfg.Session.DisconnectGrace = secondsEnv("DISCONNECT_GRACE_SEC", cfg.Session.DisconnectGrace)

	return cfg
}

func secondsEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Validate catches configurations that cannot possibly serve.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.KV.Backend {
	case "", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown KV backend %q", c.KV.Backend)
	}
	if c.KV.Backend == "redis" && c.KV.Addr == "" {
		return fmt.Errorf("redis backend requires KV_ADDR")
	}
	if c.KV.Backend == "sqlite" && c.KV.Path == "" {
		return fmt.Errorf("sqlite backend requires KV_PATH")
	}
	if c.Sandbox.TempDir == "" {
		return fmt.Errorf("sandbox temp dir cannot be empty")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.Session.SummaryInterval <= 0 {
		return fmt.Errorf("summary interval must be positive")
	}
	if c.Session.DisconnectGrace <= 0 {
		return fmt.Errorf("disconnect grace must be positive")
	}
	return nil
}
