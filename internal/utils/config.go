package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override values from the YAML
// file. Nested keys are separated by a double underscore, e.g.
// CLIENTDASH_CACHE__REDIS_HOST overrides cache.redis_host.
const EnvPrefix = "CLIENTDASH_"

// PostgresConfig describes how to reach the postgres database holding clients
// and API tokens. Host may also be a full postgres:// URL.
type PostgresConfig struct {
	Host     string `yaml:"host" koanf:"host"`
	Port     int    `yaml:"port" koanf:"port"`
	Database string `yaml:"database" koanf:"database"`
	User     string `yaml:"user" koanf:"user"`
	Password string `yaml:"password" koanf:"password"`
	SSLMode  string `yaml:"sslmode" koanf:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns" koanf:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" koanf:"conn_max_lifetime"`
}

// Config is the root configuration of the dashboard service.
type Config struct {
	Server struct {
		Host    string `yaml:"host" koanf:"host"`
		Port    string `yaml:"port" koanf:"port"`
		Prefork bool   `yaml:"prefork" koanf:"prefork"`
	} `yaml:"server" koanf:"server"`

	Logger struct {
		File       string `yaml:"file" koanf:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" koanf:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" koanf:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days" koanf:"max_age_days"`
		Compress   bool   `yaml:"compress" koanf:"compress"`
		Level      string `yaml:"level" koanf:"level"`
	} `yaml:"logger" koanf:"logger"`

	Postgres PostgresConfig `yaml:"postgres" koanf:"postgres"`

	Auth struct {
		KeyLookup           string        `yaml:"key_lookup" koanf:"key_lookup"`
		TokenReloadInterval time.Duration `yaml:"token_reload_interval" koanf:"token_reload_interval"`
	} `yaml:"auth" koanf:"auth"`

	Cache struct {
		RedisHost          string        `yaml:"redis_host" koanf:"redis_host"`
		SessionDB          int           `yaml:"session_db" koanf:"session_db"`
		RateLimitDB        int           `yaml:"rate_limit_db" koanf:"rate_limit_db"`
		ClientCacheDB      int           `yaml:"client_cache_db" koanf:"client_cache_db"`
		ClientCacheEnabled bool          `yaml:"client_cache_enabled" koanf:"client_cache_enabled"`
		ClientCacheTTL     time.Duration `yaml:"client_cache_ttl" koanf:"client_cache_ttl"`
	} `yaml:"cache" koanf:"cache"`

	Session struct {
		CookieName   string        `yaml:"cookie_name" koanf:"cookie_name"`
		CookieSecure bool          `yaml:"cookie_secure" koanf:"cookie_secure"`
		Expiration   time.Duration `yaml:"expiration" koanf:"expiration"`
	} `yaml:"session" koanf:"session"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval" koanf:"interval"`
		UserLimit         int           `yaml:"user_limit" koanf:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter" koanf:"enable_user_limiter"`
	} `yaml:"rate_limiter" koanf:"rate_limiter"`

	Views struct {
		Reload bool `yaml:"reload" koanf:"reload"`
	} `yaml:"views" koanf:"views"`
}

var (
	cfgMu   sync.RWMutex
	current Config
)

// DefaultConfig returns a configuration usable for local development.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = ":8080"
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14
	cfg.Postgres.Port = 5432
	cfg.Postgres.MaxOpenConns = 10
	cfg.Postgres.MaxIdleConns = 5
	cfg.Postgres.ConnMaxLifetime = 30 * time.Minute
	cfg.Auth.KeyLookup = "header:X-API-Key"
	cfg.Auth.TokenReloadInterval = time.Minute
	cfg.Cache.ClientCacheTTL = 5 * time.Minute
	cfg.Session.CookieName = "clientdash_session"
	cfg.Session.Expiration = 24 * time.Hour
	cfg.RateLimiter.Interval = time.Minute
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (config.yaml by default)
// and stores the result as the process wide configuration.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg := LoadFrom(path)

	cfgMu.Lock()
	current = cfg
	cfgMu.Unlock()
	return cfg
}

// GetConfig returns the configuration stored by the last LoadConfig call.
func GetConfig() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return current
}

// LoadFrom reads the YAML file at path, applies environment overrides and
// validates the result. It panics on unreadable or invalid configuration.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("failed to read config %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse config %s: %v", path, err))
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		panic(fmt.Sprintf("failed to apply env overrides: %v", err))
	}
	if err := validateConfig(cfg); err != nil {
		panic(err.Error())
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return err
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"})
}

func validateConfig(cfg Config) error {
	if cfg.Postgres.Host == "" {
		return fmt.Errorf("invalid config: postgres.host is required")
	}
	if cfg.Auth.TokenReloadInterval <= 0 {
		return fmt.Errorf("invalid config: auth.token_reload_interval must be positive")
	}
	if cfg.RateLimiter.Interval <= 0 {
		return fmt.Errorf("invalid config: rate_limiter.interval must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("invalid config: rate_limiter.user_limit must not be negative")
	}
	if cfg.Cache.ClientCacheEnabled && cfg.Cache.ClientCacheTTL <= 0 {
		return fmt.Errorf("invalid config: cache.client_cache_ttl must be positive")
	}
	if cfg.Session.Expiration <= 0 {
		return fmt.Errorf("invalid config: session.expiration must be positive")
	}
	return nil
}
