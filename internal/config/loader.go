package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FLIGHTBOOK_API_BASE_URL.
const EnvPrefix = "FLIGHTBOOK"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile overrides the dotenv file read before the environment.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads defaults, then the config file, then .env and environment.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// Existing environment wins over the dotenv file.
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
	} else {
		v.SetConfigName("flightbook")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "flightbook"))
			v.AddConfigPath(filepath.Join(homeDir, ".flightbook"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Comma-separated origins from the environment arrive as one string.
	if len(cfg.Web.AllowedOrigins) == 1 && strings.Contains(cfg.Web.AllowedOrigins[0], ",") {
		cfg.Web.AllowedOrigins = splitList(cfg.Web.AllowedOrigins[0])
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Store.Path = expandHome(cfg.Store.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.coalesce_refresh", d.API.CoalesceRefresh)

	v.SetDefault("auth.admin_role", d.Auth.AdminRole)
	v.SetDefault("auth.credentials_file", d.Auth.CredentialsFile)
	v.SetDefault("auth.credentials_secret", d.Auth.CredentialsSecret)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.redis_password", d.Store.RedisPassword)
	v.SetDefault("store.redis_db", d.Store.RedisDB)

	v.SetDefault("web.addr", d.Web.Addr)
	v.SetDefault("web.allowed_origins", d.Web.AllowedOrigins)
	v.SetDefault("web.cookie_secure", d.Web.CookieSecure)
	v.SetDefault("web.read_timeout", d.Web.ReadTimeout)
	v.SetDefault("web.write_timeout", d.Web.WriteTimeout)
	v.SetDefault("web.visitor_ttl", d.Web.VisitorTTL)

	v.SetDefault("devapi.addr", d.DevAPI.Addr)
	v.SetDefault("devapi.jwt_secret", d.DevAPI.JWTSecret)
	v.SetDefault("devapi.access_token_ttl", d.DevAPI.AccessTokenTTL)
	v.SetDefault("devapi.refresh_token_ttl", d.DevAPI.RefreshTokenTTL)
	v.SetDefault("devapi.reset_url", d.DevAPI.ResetURL)
	v.SetDefault("devapi.seed_demo", d.DevAPI.SeedDemo)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.color", d.Log.Color)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
