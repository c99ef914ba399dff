package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Remote booking API
	API APIConfig `mapstructure:"api" json:"api"`

	// Authentication settings
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Token store backend
	Store StoreConfig `mapstructure:"store" json:"store"`

	// Web shell
	Web WebConfig `mapstructure:"web" json:"web"`

	// Development stand-in for the remote API
	DevAPI DevAPIConfig `mapstructure:"devapi" json:"devapi"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" json:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`

	// CoalesceRefresh shares one in-flight refresh between concurrent 401s.
	CoalesceRefresh bool `mapstructure:"coalesce_refresh" json:"coalesce_refresh"`
}

// AuthConfig for authentication settings.
type AuthConfig struct {
	// Role that unlocks the admin views.
	AdminRole string `mapstructure:"admin_role" json:"admin_role"`

	// Optional login credentials, from a local JSON file or an AWS
	// Secrets Manager secret (name or ARN).
	CredentialsFile   string `mapstructure:"credentials_file" json:"credentials_file,omitempty"`
	CredentialsSecret string `mapstructure:"credentials_secret" json:"credentials_secret,omitempty"`
}

// StoreConfig selects where session tokens live.
type StoreConfig struct {
	Backend string `mapstructure:"backend" json:"backend"` // file, sqlite, redis, memory
	Path    string `mapstructure:"path" json:"path"`       // file/sqlite location

	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db"`
}

// WebConfig for the browser-facing shell.
type WebConfig struct {
	Addr           string        `mapstructure:"addr" json:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" json:"allowed_origins"`
	CookieSecure   bool          `mapstructure:"cookie_secure" json:"cookie_secure"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	VisitorTTL     time.Duration `mapstructure:"visitor_ttl" json:"visitor_ttl"`
}

// DevAPIConfig for the local stand-in API.
type DevAPIConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr"`
	JWTSecret       string        `mapstructure:"jwt_secret" json:"jwt_secret,omitempty"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" json:"refresh_token_ttl"`

	// ResetURL is the page password reset links point at.
	ResetURL string `mapstructure:"reset_url" json:"reset_url"`
	// SeedDemo creates demo accounts at startup.
	SeedDemo bool `mapstructure:"seed_demo" json:"seed_demo"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // empty = stderr
	Color  bool   `mapstructure:"color" json:"color"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".flightbook"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".flightbook")
	}

	return &Config{
		API: APIConfig{
			BaseURL:         "http://localhost:8085/api",
			Timeout:         30 * time.Second,
			MaxRetries:      0,
			UserAgent:       "flightbook/1.0",
			CoalesceRefresh: true,
		},
		Auth: AuthConfig{
			AdminRole: "ROLE_ADMIN",
		},
		Store: StoreConfig{
			Backend:   "file",
			Path:      filepath.Join(dataDir, "session.json"),
			RedisAddr: "localhost:6379",
		},
		Web: WebConfig{
			Addr:         ":3000",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			VisitorTTL:   12 * time.Hour,
		},
		DevAPI: DevAPIConfig{
			Addr:            ":8085",
			JWTSecret:       "change-me-dev-only",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			ResetURL:        "http://localhost:3000/reset-password",
			SeedDemo:        true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}

	if c.Auth.AdminRole == "" {
		return errors.New("auth.admin_role is required")
	}

	switch c.Store.Backend {
	case "file", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for %s backend", c.Store.Backend)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	var dirs []string

	if c.Store.Backend == "file" || c.Store.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
