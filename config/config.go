// Package config loads process settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv     string `env:"APP_ENV" default:"development"`
	ListenAddr string `env:"LISTEN_ADDR" default:":8080"`

	// Empty DATABASE_URL keeps everything in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// Empty REDIS_URL disables the shared cache tier.
	RedisURL string `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	DashboardOrigin string        `env:"DASHBOARD_ORIGIN" default:"http://localhost:8080"`
	RealtimePath    string        `env:"REALTIME_PATH" default:"/ws"`
	ReconnectDelay  time.Duration `env:"RECONNECT_DELAY" default:"5s"`

	MaxWSClients   int      `env:"MAX_WS_CLIENTS" default:"64"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"` // space separated

	CacheStaleTime time.Duration `env:"CACHE_STALE_TIME" default:"0s"`
	CacheTTL       time.Duration `env:"CACHE_TTL" default:"10m"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	u, err := url.Parse(cfg.DashboardOrigin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("DASHBOARD_ORIGIN must be an absolute URL, got %q", cfg.DashboardOrigin)
	}

	if cfg.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if cfg.MaxWSClients < 0 {
		return errors.New("MAX_WS_CLIENTS must not be negative")
	}
	if cfg.CacheStaleTime < 0 {
		return errors.New("CACHE_STALE_TIME must not be negative")
	}
	if cfg.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}

	return nil
}
