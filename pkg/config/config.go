package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Project name, used as the session cookie prefix
	Project string `yaml:"project"`

	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Upper bound for session load and permission checks within one request
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Sign-in and sign-up attempts allowed per client IP and minute; zero disables the limit
	LoginRateLimit int `yaml:"login_rate_limit"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	ReplicaURLs []string      `yaml:"replica_urls"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// CacheConfig controls the key-value cache and its invalidation channel
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend is "redis" or "memory"
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`

	// MemorySize is the maximum number of entries held by the memory backend
	MemorySize int `yaml:"memory_size"`

	// Invalidation is "postgres", "redis" or "none"
	Invalidation string `yaml:"invalidation"`
}

// SessionConfig holds session tracking settings
type SessionConfig struct {
	Secret string `yaml:"secret"`

	// Request header consulted for the client IP before the socket address
	IPHeader string `yaml:"ip_header"`

	// Debounce window between the first mutation and the durable write
	SaveInterval time.Duration `yaml:"save_interval"`

	// Zero means sessions and cookies never expire
	ExpireTimeout time.Duration `yaml:"expire_timeout"`

	// Cron expression for the expired session sweep
	SweepSchedule string `yaml:"sweep_schedule"`

	FlushTimeout  time.Duration `yaml:"flush_timeout"`
	GeoIPDatabase string        `yaml:"geoip_database"`
	CookieSuffix  string        `yaml:"cookie_suffix"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// CookieName returns the session cookie name
func (c *Config) CookieName() string {
	return c.Project + c.Session.CookieSuffix
}

// LoadConfig loads configuration from environment variables. When
// TURNSTILE_CONFIG_FILE is set, the YAML file is applied first and
// environment variables override it.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TURNSTILE_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Project: "turnstile",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
			LoginRateLimit:  20,
		},
		Database: DatabaseConfig{
			URL:         "postgres://localhost:5432/turnstile?sslmode=disable",
			MaxConns:    20,
			MinConns:    5,
			Timeout:     5 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Backend:         "redis",
			TTL:             10 * time.Minute,
			RedisURL:        "redis://localhost:6379/0",
			RedisPoolSize:   10,
			RedisMaxRetries: 3,
			MemorySize:      10000,
			Invalidation:    "postgres",
		},
		Session: SessionConfig{
			IPHeader:      "",
			SaveInterval:  60 * time.Second,
			SweepSchedule: "*/15 * * * *",
			FlushTimeout:  10 * time.Second,
			CookieSuffix:  "_sid",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "turnstile",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadFile overlays a YAML configuration file onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Project = getEnv("TURNSTILE_PROJECT", c.Project)

	c.Server.Host = getEnv("TURNSTILE_HOST", c.Server.Host)
	c.Server.Port = getEnv("TURNSTILE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("TURNSTILE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("TURNSTILE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("TURNSTILE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("TURNSTILE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.RequestTimeout = getEnvDuration("TURNSTILE_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.LoginRateLimit = getEnvInt("TURNSTILE_LOGIN_RATE_LIMIT", c.Server.LoginRateLimit)

	c.Database.URL = getEnv("TURNSTILE_POSTGRES_URL", c.Database.URL)
	if replicas := getEnv("TURNSTILE_POSTGRES_REPLICA_URLS", ""); replicas != "" {
		c.Database.ReplicaURLs = splitList(replicas)
	}
	c.Database.MaxConns = getEnvInt("TURNSTILE_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("TURNSTILE_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("TURNSTILE_POSTGRES_TIMEOUT", c.Database.Timeout)

	c.Cache.Enabled = getEnvBool("TURNSTILE_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Backend = getEnv("TURNSTILE_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = getEnvDuration("TURNSTILE_CACHE_TTL", c.Cache.TTL)
	c.Cache.RedisURL = getEnv("TURNSTILE_REDIS_URL", c.Cache.RedisURL)
	c.Cache.RedisPassword = getEnv("TURNSTILE_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("TURNSTILE_REDIS_DB", c.Cache.RedisDB)
	c.Cache.RedisPoolSize = getEnvInt("TURNSTILE_REDIS_POOL_SIZE", c.Cache.RedisPoolSize)
	c.Cache.RedisMaxRetries = getEnvInt("TURNSTILE_REDIS_MAX_RETRIES", c.Cache.RedisMaxRetries)
	c.Cache.MemorySize = getEnvInt("TURNSTILE_CACHE_MEMORY_SIZE", c.Cache.MemorySize)
	c.Cache.Invalidation = getEnv("TURNSTILE_CACHE_INVALIDATION", c.Cache.Invalidation)

	c.Session.Secret = getEnv("TURNSTILE_SESSION_SECRET", c.Session.Secret)
	c.Session.IPHeader = getEnv("TURNSTILE_SESSION_IP_HEADER", c.Session.IPHeader)
	c.Session.SaveInterval = getEnvDuration("TURNSTILE_SESSION_SAVE_INTERVAL", c.Session.SaveInterval)
	c.Session.ExpireTimeout = getEnvDuration("TURNSTILE_SESSION_EXPIRE_TIMEOUT", c.Session.ExpireTimeout)
	c.Session.SweepSchedule = getEnv("TURNSTILE_SESSION_SWEEP_SCHEDULE", c.Session.SweepSchedule)
	c.Session.FlushTimeout = getEnvDuration("TURNSTILE_SESSION_FLUSH_TIMEOUT", c.Session.FlushTimeout)
	c.Session.GeoIPDatabase = getEnv("TURNSTILE_GEOIP_DATABASE", c.Session.GeoIPDatabase)

	c.Observability.LogLevel = getEnv("TURNSTILE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("TURNSTILE_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("TURNSTILE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("TURNSTILE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("TURNSTILE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("TURNSTILE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("TURNSTILE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("TURNSTILE_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project name is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.LoginRateLimit < 0 {
		return fmt.Errorf("login rate limit must not be negative")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required")
	}
	if c.Session.SaveInterval <= 0 {
		return fmt.Errorf("session save interval must be positive")
	}
	if c.Session.ExpireTimeout < 0 {
		return fmt.Errorf("session expire timeout must not be negative")
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "redis":
			if c.Cache.RedisURL == "" {
				return fmt.Errorf("redis URL is required for the redis cache backend")
			}
		case "memory":
			if c.Cache.MemorySize <= 0 {
				return fmt.Errorf("memory cache size must be positive")
			}
		default:
			return fmt.Errorf("invalid cache backend: %s (must be redis or memory)", c.Cache.Backend)
		}
	}

	switch c.Cache.Invalidation {
	case "postgres", "none", "":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache invalidation")
		}
	default:
		return fmt.Errorf("invalid cache invalidation channel: %s (must be postgres, redis or none)", c.Cache.Invalidation)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
