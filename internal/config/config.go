// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the aigateway process.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Redis     RedisConfig               `koanf:"redis"`
	Health    HealthConfig              `koanf:"health"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Services  map[string]ServiceConfig  `koanf:"services"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// RedisConfig selects the rate-limit window store. An empty Addr means
// the in-process limiter; a non-empty Addr shares windows across gateway
// replicas through Redis.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// HealthConfig controls the health monitor: how often providers are
// probed, how long a probe may take, and how long an Unhealthy record
// stays fresh enough for the dispatcher to act on it.
type HealthConfig struct {
	Interval     time.Duration `koanf:"interval"`
	Freshness    time.Duration `koanf:"freshness"`
	ProbeTimeout time.Duration `koanf:"probe_timeout"`
}

// ProviderConfig holds the settings for a single upstream provider. The
// Enabled flag defaults to true when omitted — listing a provider in the
// config is the normal way of turning it on, and disabling is the
// explicit exception.
type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Enabled bool   `koanf:"enabled"`
}

// RateLimitConfig is a per-service admission ceiling: at most Requests
// admitted per client per Window.
type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

// PricingConfig holds the billing rate for one provider under one
// service. Exactly one field is meaningful per service type: characters
// for tts, minutes for stt, tokens for llm. Unset rates price to zero.
type PricingConfig struct {
	Per1KCharacters float64 `koanf:"per_1k_characters"`
	PerMinute       float64 `koanf:"per_minute"`
	Per1KTokens     float64 `koanf:"per_1k_tokens"`
}

// ServiceConfig declares the provider chain and policy for one service
// type, keyed in the config file by "tts", "stt", or "llm".
type ServiceConfig struct {
	Primary        string                   `koanf:"primary"`
	Fallbacks      []string                 `koanf:"fallbacks"`
	AttemptTimeout time.Duration            `koanf:"attempt_timeout"`
	DefaultModel   string                   `koanf:"default_model"`
	RateLimit      RateLimitConfig          `koanf:"rate_limit"`
	Pricing        map[string]PricingConfig `koanf:"pricing"`
}

// Defaults applied after unmarshal for anything the file leaves unset.
// These are policy parameters, not magic numbers inferred from upstream
// behavior — operators are expected to tune them in config.
const (
	defaultPort            = 8001
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 120 * time.Second
	defaultHealthInterval  = 30 * time.Second
	defaultHealthFreshness = 60 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	defaultAttemptTimeout  = 30 * time.Second
	defaultRateRequests    = 60
	defaultRateWindow      = time.Minute
)

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, expands ${VAR} placeholders in provider API keys, and
// fills in defaults.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// AIGATEWAY_ overrides a config value:
	//   AIGATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("AIGATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "AIGATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in provider API keys, and default
	// the enabled flag to true when the key is simply absent (the zero
	// value of bool would otherwise silently disable every provider
	// that doesn't spell out "enabled: true").
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			p.APIKey = os.Getenv(p.APIKey[2 : len(p.APIKey)-1])
		}
		if !k.Exists(fmt.Sprintf("providers.%s.enabled", name)) {
			p.Enabled = true
		}
		cfg.Providers[name] = p
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}

	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = defaultHealthInterval
	}
	if cfg.Health.Freshness == 0 {
		cfg.Health.Freshness = defaultHealthFreshness
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = defaultProbeTimeout
	}

	for name, svc := range cfg.Services {
		if svc.AttemptTimeout == 0 {
			svc.AttemptTimeout = defaultAttemptTimeout
		}
		if svc.RateLimit.Requests == 0 {
			svc.RateLimit.Requests = defaultRateRequests
		}
		if svc.RateLimit.Window == 0 {
			svc.RateLimit.Window = defaultRateWindow
		}
		cfg.Services[name] = svc
	}
}
