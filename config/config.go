// Package config resolves appserver settings from, in order of increasing
// precedence, code defaults, an optional YAML file, and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ListenAddr is the host:port the HTTP server binds.
	ListenAddr string `yaml:"listen_addr" env:"APPSERVER_ADDR"`

	// RedisAddr, when set, selects the Redis session store. Empty keeps
	// sessions in process memory.
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`

	// RedisPassword is the AUTH password for the session store, if any.
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`

	// SessionTTL is how long an issued session token stays valid.
	SessionTTL time.Duration `yaml:"-" env:"SESSION_TTL"`

	// CookieSecure marks the session cookie Secure; enable behind TLS.
	CookieSecure bool `yaml:"cookie_secure" env:"COOKIE_SECURE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func Default() Config {
	return Config{
		ListenAddr: ":3000",
		LogLevel:   "info",
	}
}

// Load builds the effective configuration. The YAML file at path is
// optional; environment variables win over both it and the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Missing file falls back to defaults plus environment.
		case err != nil:
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
			}
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}

// Level maps the configured log level name onto slog's levels. Unknown
// names fall back to info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
