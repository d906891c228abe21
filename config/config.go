// Package config provides configuration management for the gateway.
//
// Sources, lowest precedence first: built-in defaults, config.yaml (path from
// GATEWAY_CONFIG), environment variables. A .env file in the working directory
// is loaded into the environment first and never overrides variables that are
// already set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig                 `yaml:"server"`
	Logging      LogConfig                    `yaml:"logging"`
	Metrics      MetricsConfig                `yaml:"metrics"`
	Gateway      GatewayConfig                `yaml:"gateway"`
	CatalogCache CatalogCacheConfig           `yaml:"catalog_cache"`
	Storage      StorageConfig                `yaml:"storage"`
	Resilience   ResilienceConfig             `yaml:"resilience"`
	Providers    map[string]RawProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// BodySizeLimit uses echo's size notation ("4M", "512K").
	BodySizeLimit string   `yaml:"body_size_limit"`
	APIKeys       []string `yaml:"api_keys"`
	DisableAuth   bool     `yaml:"disable_auth"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// GatewayConfig holds dispatch deadlines.
type GatewayConfig struct {
	// RequestTimeout is the default per-call vendor deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// CatalogTimeout bounds each provider's ListModels during aggregation.
	CatalogTimeout time.Duration `yaml:"catalog_timeout"`
}

// CatalogCacheConfig configures the optional aggregated-catalog cache.
type CatalogCacheConfig struct {
	Type  string        `yaml:"type"` // none, local, redis
	TTL   time.Duration `yaml:"ttl"`
	Path  string        `yaml:"path"`
	Redis RedisConfig   `yaml:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// StorageConfig selects the conversation store backend.
type StorageConfig struct {
	Type       string           `yaml:"type"` // memory, sqlite, postgresql, mongodb
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// ResilienceConfig is the global retry and circuit breaker policy for vendor calls.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RawProviderConfig is a provider entry as written in YAML. Pointer fields
// distinguish "unset" from zero so they can fall back to global values.
type RawProviderConfig struct {
	Type           string               `yaml:"type"`
	APIKey         string               `yaml:"api_key"`
	BaseURL        string               `yaml:"base_url"`
	RequestTimeout *time.Duration       `yaml:"request_timeout"`
	Resilience     *RawResilienceConfig `yaml:"resilience"`
}

type RawResilienceConfig struct {
	Retry          *RawRetryConfig          `yaml:"retry"`
	CircuitBreaker *RawCircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RawRetryConfig struct {
	MaxRetries     *int           `yaml:"max_retries"`
	InitialBackoff *time.Duration `yaml:"initial_backoff"`
	MaxBackoff     *time.Duration `yaml:"max_backoff"`
	BackoffFactor  *float64       `yaml:"backoff_factor"`
}

type RawCircuitBreakerConfig struct {
	Enabled          *bool          `yaml:"enabled"`
	FailureThreshold *int           `yaml:"failure_threshold"`
	SuccessThreshold *int           `yaml:"success_threshold"`
	Timeout          *time.Duration `yaml:"timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "4M",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Gateway: GatewayConfig{
			RequestTimeout: 120 * time.Second,
			CatalogTimeout: 10 * time.Second,
		},
		CatalogCache: CatalogCacheConfig{
			Type: "none",
			TTL:  5 * time.Minute,
			Path: ".cache/catalog.json",
			Redis: RedisConfig{
				Key: "llmgateway:catalog",
			},
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: "data/gateway.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "llmgateway",
			},
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxRetries:     0,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
				BackoffFactor:  2.0,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Providers: map[string]RawProviderConfig{},
	}
}

// Load reads .env, the optional YAML file and environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("GATEWAY_CONFIG")
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}

	cfg := Defaults()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := parseYAML(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseYAML expands ${VAR} placeholders and decodes the document over cfg.
func parseYAML(raw []byte, cfg *Config) error {
	expanded := expandString(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return err
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]RawProviderConfig{}
	}
	cfg.Server.APIKeys = splitList(strings.Join(cfg.Server.APIKeys, ","))
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A placeholder without a
// default whose variable is unset or empty is left as written so callers can
// detect unresolved values.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides lets environment variables win over YAML values.
func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.BodySizeLimit, "BODY_SIZE_LIMIT")
	if keys := os.Getenv("API_KEYS"); keys != "" {
		cfg.Server.APIKeys = splitList(keys)
	}
	if v := os.Getenv("DISABLE_AUTH"); v != "" {
		cfg.Server.DisableAuth = parseBool(v)
	}

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	setString(&cfg.Metrics.Endpoint, "METRICS_ENDPOINT")

	if err := setDuration(&cfg.Gateway.RequestTimeout, "GATEWAY_REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Gateway.CatalogTimeout, "CATALOG_TIMEOUT"); err != nil {
		return err
	}

	setString(&cfg.CatalogCache.Type, "CATALOG_CACHE_TYPE")
	if err := setDuration(&cfg.CatalogCache.TTL, "CATALOG_CACHE_TTL"); err != nil {
		return err
	}
	setString(&cfg.CatalogCache.Path, "CATALOG_CACHE_PATH")
	setString(&cfg.CatalogCache.Redis.URL, "REDIS_URL")
	setString(&cfg.CatalogCache.Redis.Key, "REDIS_KEY")

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.SQLite.Path, "SQLITE_PATH")
	setString(&cfg.Storage.PostgreSQL.URL, "POSTGRES_URL")
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POSTGRES_MAX_CONNS: %w", err)
		}
		cfg.Storage.PostgreSQL.MaxConns = int32(n)
	}
	setString(&cfg.Storage.MongoDB.URL, "MONGODB_URL")
	setString(&cfg.Storage.MongoDB.Database, "MONGODB_DATABASE")

	return nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway.request_timeout must be positive")
	}
	if c.Gateway.CatalogTimeout <= 0 {
		return fmt.Errorf("gateway.catalog_timeout must be positive")
	}
	switch c.CatalogCache.Type {
	case "", "none", "local":
	case "redis":
		if c.CatalogCache.Redis.URL == "" {
			return fmt.Errorf("catalog_cache.redis.url is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown catalog_cache.type %q", c.CatalogCache.Type)
	}
	switch c.Storage.Type {
	case "memory", "sqlite", "postgresql", "mongodb":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	if !c.Server.DisableAuth && len(splitList(strings.Join(c.Server.APIKeys, ","))) == 0 {
		return fmt.Errorf("no API keys configured: set API_KEYS or DISABLE_AUTH=1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
