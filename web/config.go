// ABOUTME: Server configuration loaded from fluxchat.yaml and FLUXCHAT_* environment variables.
// ABOUTME: Enforces security constraint: remote access requires auth token.
package web

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrRemoteWithoutToken = errors.New(
		"FLUXCHAT_ALLOW_REMOTE is true but FLUXCHAT_AUTH_TOKEN is not set; refusing to start without authentication",
	)
	ErrNonLoopbackBind = errors.New(
		"FLUXCHAT_BIND is a non-loopback address but FLUXCHAT_ALLOW_REMOTE is not true; set FLUXCHAT_ALLOW_REMOTE=true and FLUXCHAT_AUTH_TOKEN to allow remote access",
	)
	ErrMissingAPIKey = errors.New("FLUXCHAT_API_KEY is not set")
)

// Config holds server configuration. Values are read from an optional
// fluxchat.yaml file first; FLUXCHAT_* environment variables override
// the file.
type Config struct {
	Home        string `yaml:"home"`         // Data directory (FLUXCHAT_HOME, default: ~/.fluxchat)
	Bind        string `yaml:"bind"`         // Socket address (FLUXCHAT_BIND, default: 127.0.0.1:7790)
	AllowRemote bool   `yaml:"allow_remote"` // Allow non-loopback connections (FLUXCHAT_ALLOW_REMOTE, default: false)
	AuthToken   string `yaml:"auth_token"`   // Bearer token for API auth (FLUXCHAT_AUTH_TOKEN, optional)

	Model          string `yaml:"model"`           // Chat model name (FLUXCHAT_MODEL, default: deepseek-chat)
	TitleModel     string `yaml:"title_model"`     // Title generation model (FLUXCHAT_TITLE_MODEL, defaults to Model)
	BaseURL        string `yaml:"base_url"`        // Provider API base URL (FLUXCHAT_BASE_URL, optional)
	APIKey         string `yaml:"api_key"`         // Provider API key (FLUXCHAT_API_KEY, required)
	EnableThinking bool   `yaml:"enable_thinking"` // Request reasoning traces (FLUXCHAT_ENABLE_THINKING, default: true)
	ThinkingBudget int    `yaml:"thinking_budget"` // Reasoning token budget (FLUXCHAT_THINKING_BUDGET, default: 0 = provider default)

	SearchURL  string `yaml:"search_url"`  // SearXNG-compatible search endpoint (FLUXCHAT_SEARCH_URL; empty disables web_search)
	ImageModel string `yaml:"image_model"` // Image generation model (FLUXCHAT_IMAGE_MODEL; empty disables generate_image)

	CompletedTTL time.Duration `yaml:"completed_ttl"` // Retention for finished generation tasks (FLUXCHAT_COMPLETED_TTL, default: 5m)
	PausedTTL    time.Duration `yaml:"paused_ttl"`    // Retention for paused generation tasks (FLUXCHAT_PAUSED_TTL, default: 1h)
}

// LoadConfig reads fluxchat.yaml at path when it exists, applies FLUXCHAT_*
// environment overrides, fills defaults, and validates the result. An empty
// path skips the file step.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Optional file; env and defaults take over.
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		cfg.Home = filepath.Join(homeDir, ".fluxchat")
	}
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:7790"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = cfg.Model
	}
	if cfg.CompletedTTL == 0 {
		cfg.CompletedTTL = 5 * time.Minute
	}
	if cfg.PausedTTL == 0 {
		cfg.PausedTTL = time.Hour
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Home, "FLUXCHAT_HOME")
	setString(&cfg.Bind, "FLUXCHAT_BIND")
	setString(&cfg.AuthToken, "FLUXCHAT_AUTH_TOKEN")
	setString(&cfg.Model, "FLUXCHAT_MODEL")
	setString(&cfg.TitleModel, "FLUXCHAT_TITLE_MODEL")
	setString(&cfg.BaseURL, "FLUXCHAT_BASE_URL")
	setString(&cfg.APIKey, "FLUXCHAT_API_KEY")
	setString(&cfg.SearchURL, "FLUXCHAT_SEARCH_URL")
	setString(&cfg.ImageModel, "FLUXCHAT_IMAGE_MODEL")

	if v := os.Getenv("FLUXCHAT_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		cfg.AllowRemote = true
	}
	if v := os.Getenv("FLUXCHAT_ENABLE_THINKING"); v != "" {
		cfg.EnableThinking = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("FLUXCHAT_THINKING_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ThinkingBudget = n
		}
	}
	if v := os.Getenv("FLUXCHAT_COMPLETED_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CompletedTTL = d
		}
	}
	if v := os.Getenv("FLUXCHAT_PAUSED_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PausedTTL = d
		}
	}
}

func validate(cfg *Config) error {
	if cfg.APIKey == "" {
		return ErrMissingAPIKey
	}

	// Security: remote access requires auth token
	if cfg.AllowRemote && cfg.AuthToken == "" {
		return ErrRemoteWithoutToken
	}

	// Security: refuse non-loopback binds unless explicitly opting into remote
	// access. Checks both IP literals and hostnames; only 127.0.0.0/8, ::1,
	// and "localhost" are considered safe.
	if !cfg.AllowRemote {
		if host, _, err := net.SplitHostPort(cfg.Bind); err == nil && host != "" {
			ip := net.ParseIP(host)
			switch {
			case ip != nil && ip.IsLoopback():
				// Safe: 127.x.x.x or ::1
			case ip != nil:
				return fmt.Errorf("%w: FLUXCHAT_BIND=%s", ErrNonLoopbackBind, cfg.Bind)
			case host == "localhost":
				// Safe: conventional loopback hostname
			default:
				return fmt.Errorf("%w: FLUXCHAT_BIND=%s", ErrNonLoopbackBind, cfg.Bind)
			}
		}
	}

	return nil
}
