// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config is the complete runtime configuration. Every field has a
// usable default so a bare environment starts a local, unauthenticated
// server.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"SCHOLARMCP_ADDR,default=127.0.0.1:8000"`

	// BaseURL is the public origin clients reach the server at. OAuth
	// metadata and the legacy SSE endpoint event embed it.
	BaseURL string `env:"SCHOLARMCP_BASE_URL,default=http://127.0.0.1:8000"`

	// AuthToken, when set, enables static bearer-token authentication.
	AuthToken string `env:"SCHOLARMCP_AUTH_TOKEN"`

	// OAuthEnabled turns on the built-in authorization server and
	// OAuth bearer validation.
	OAuthEnabled bool `env:"SCHOLARMCP_OAUTH_ENABLED,default=false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"SCHOLARMCP_LOG_LEVEL,default=info"`

	// APIKey is the optional Semantic Scholar API key.
	APIKey string `env:"SCHOLARMCP_API_KEY"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AuthRequired reports whether unauthenticated MCP requests should be
// rejected.
func (c *Config) AuthRequired() bool {
	return c.AuthToken != "" || c.OAuthEnabled
}

// SlogLevel maps the configured level name to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
