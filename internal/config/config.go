// Package config loads client settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBackendURL matches the analysis backend's local default.
	DefaultBackendURL = "http://localhost:8000"
	// DefaultFrontendOrigin is used as the "current page" origin when no
	// frontend URL is configured.
	DefaultFrontendOrigin = "http://localhost:5173"
	configFileName        = "config.yaml"
	appDirName            = "juniordebug"
)

// Config holds client settings. It is read once at start and treated as immutable.
type Config struct {
	BackendURL  string        `yaml:"backend_url"`
	AuthURL     string        `yaml:"auth_url"`
	AuthAnonKey string        `yaml:"auth_anon_key"`
	FrontendURL string        `yaml:"frontend_url"`
	Dir         string        `yaml:"-"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
	LogLevel    string        `yaml:"log_level"`
}

// Dir returns the config directory: $JD_CONFIG_DIR, else
// $XDG_CONFIG_HOME/juniordebug, else ~/.config/juniordebug.
func Dir() string {
	if v := os.Getenv("JD_CONFIG_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, appDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appDirName)
}

// Load reads path (or Dir()/config.yaml when path is empty; a missing
// default file is not an error), then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		BackendURL:  DefaultBackendURL,
		HTTPTimeout: 60 * time.Second,
		RateLimit:   5,
		LogLevel:    "warn",
		Dir:         Dir(),
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.Dir, configFileName)
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.BackendURL = getEnvString(cfg.BackendURL, "JD_BACKEND_URL", "VITE_BACKEND_URL")
	cfg.AuthURL = getEnvString(cfg.AuthURL, "JD_AUTH_URL", "SUPABASE_URL", "VITE_SUPABASE_URL")
	cfg.AuthAnonKey = getEnvString(cfg.AuthAnonKey, "JD_AUTH_ANON_KEY", "SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY")
	cfg.FrontendURL = getEnvString(cfg.FrontendURL, "JD_FRONTEND_URL", "VITE_FRONTEND_URL")
	cfg.HTTPTimeout = getEnvDuration("JD_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.RateLimit = getEnvFloat("JD_RATE_LIMIT", cfg.RateLimit)
	cfg.LogLevel = getEnvString(cfg.LogLevel, "JD_LOG_LEVEL")

	if _, err := url.ParseRequestURI(cfg.BackendURL); err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BackendURL, err)
	}
	return cfg, nil
}

// AuthConfigured reports whether the identity provider settings are present.
func (c *Config) AuthConfigured() bool {
	return c.AuthURL != "" && c.AuthAnonKey != ""
}

// Origin is the frontend origin used for redirects: FrontendURL when set,
// else DefaultFrontendOrigin.
func (c *Config) Origin() string {
	if c.FrontendURL != "" {
		return c.FrontendURL
	}
	return DefaultFrontendOrigin
}

func getEnvString(defaultVal string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
