package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"realtime-core/pkg/constants"
	"realtime-core/pkg/env"
)

// Storage backends
const (
	BackendCockroach = "cockroach"
	BackendMemory    = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	JWT      JWTConfig
	Log      LogConfig
	Realtime RealtimeConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Environment     string // development, staging, production
	ServiceName     string
	Backend         string // cockroach, memory
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	RateLimit       int // requests per user per window
	RateLimitWindow time.Duration
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int
	ConnectMaxWait time.Duration
	AutoMigrate    bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled             bool
	Host                string
	Port                int
	Password            string
	DB                  int
	PoolSize            int
	Timeout             time.Duration
	HealthCheckInterval time.Duration
}

// MinIOConfig holds MinIO configuration
type MinIOConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// JWTConfig holds JWT configuration. Tokens are issued by the auth service;
// this service only validates them.
type JWTConfig struct {
	Secret string
	Issuer string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// RealtimeConfig holds call, status and fanout policy values
type RealtimeConfig struct {
	RingTimeout    time.Duration `yaml:"ring_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StatusTTL      time.Duration `yaml:"status_ttl"`
	PurgeInterval  time.Duration `yaml:"purge_interval"`
	PurgeBatchSize int           `yaml:"purge_batch_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	EventQueueSize int           `yaml:"event_queue_size"`
	AsyncEvents    bool          `yaml:"async_events"`
}

// DefaultRealtimeConfig returns the default policy values
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		RingTimeout:    constants.StaleRingingThreshold,
		SweepInterval:  constants.CallSweepInterval,
		StatusTTL:      constants.StatusTTL,
		PurgeInterval:  constants.StatusPurgeInterval,
		PurgeBatchSize: constants.StatusPurgeBatchSize,
		PublishTimeout: constants.PublishTimeout,
		EventQueueSize: constants.EventQueueSize,
		AsyncEvents:    true,
	}
}

// Load loads configuration from environment variables, then overlays the
// realtime section from the YAML file named by CONFIG_FILE, if any
func Load() (*Config, error) {
	defaults := DefaultRealtimeConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:            env.GetInt("PORT", 8080),
			Environment:     env.GetString("ENV", "development"),
			ServiceName:     env.GetString("SERVICE_NAME", "realtime-service"),
			Backend:         env.GetString("STORAGE_BACKEND", BackendCockroach),
			ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", constants.GracefulShutdownTimeout),
			RequestTimeout:  env.GetDuration("REQUEST_TIMEOUT", constants.RequestTimeout),
			AllowedOrigins:  splitList(env.GetString("CORS_ALLOWED_ORIGINS", "")),
			RateLimit:       env.GetInt("RATE_LIMIT_REQUESTS", 120),
			RateLimitWindow: env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			Host:           env.GetString("DB_HOST", "localhost"),
			Port:           env.GetInt("DB_PORT", 26257),
			User:           env.GetString("DB_USER", "root"),
			Password:       env.GetStringFromFile("DB_PASSWORD", ""),
			Database:       env.GetString("DB_NAME", "realtime"),
			SSLMode:        env.GetString("DB_SSL_MODE", "disable"),
			MaxConns:       env.GetInt("DB_MAX_CONNS", 25),
			ConnectMaxWait: env.GetDuration("DB_CONNECT_MAX_WAIT", 30*time.Second),
			AutoMigrate:    env.GetBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:             env.GetBool("REDIS_ENABLED", true),
			Host:                env.GetString("REDIS_HOST", "localhost"),
			Port:                env.GetInt("REDIS_PORT", 6379),
			Password:            env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:                  env.GetInt("REDIS_DB", 0),
			PoolSize:            env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:             env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
			HealthCheckInterval: env.GetDuration("REDIS_HEALTH_CHECK_INTERVAL", 10*time.Second),
		},
		MinIO: MinIOConfig{
			Enabled:   env.GetBool("MINIO_ENABLED", true),
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "realtime-media"),
		},
		JWT: JWTConfig{
			Secret: env.GetStringFromFile("JWT_SECRET", ""),
			Issuer: env.GetString("JWT_ISSUER", ""),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Realtime: RealtimeConfig{
			RingTimeout:    env.GetDuration("CALL_RING_TIMEOUT", defaults.RingTimeout),
			SweepInterval:  env.GetDuration("CALL_SWEEP_INTERVAL", defaults.SweepInterval),
			StatusTTL:      env.GetDuration("STATUS_TTL", defaults.StatusTTL),
			PurgeInterval:  env.GetDuration("STATUS_PURGE_INTERVAL", defaults.PurgeInterval),
			PurgeBatchSize: env.GetInt("STATUS_PURGE_BATCH_SIZE", defaults.PurgeBatchSize),
			PublishTimeout: env.GetDuration("EVENT_PUBLISH_TIMEOUT", defaults.PublishTimeout),
			EventQueueSize: env.GetInt("EVENT_QUEUE_SIZE", defaults.EventQueueSize),
			AsyncEvents:    env.GetBool("EVENT_ASYNC", defaults.AsyncEvents),
		},
	}

	if path := env.GetString("CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type fileConfig struct {
	Realtime RealtimeConfig `yaml:"realtime"`
}

// overlayFile replaces the realtime values present in the YAML file
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	file := fileConfig{Realtime: c.Realtime}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Realtime = file.Realtime
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Server.Backend {
	case BackendCockroach, BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendCockroach, BackendMemory, c.Server.Backend)
	}

	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Server.Backend == BackendMemory {
			return fmt.Errorf("memory backend is not allowed in production")
		}
	}

	return c.Realtime.Validate()
}

// Validate rejects non-positive policy values
func (r RealtimeConfig) Validate() error {
	durations := map[string]time.Duration{
		"ring_timeout":    r.RingTimeout,
		"sweep_interval":  r.SweepInterval,
		"status_ttl":      r.StatusTTL,
		"purge_interval":  r.PurgeInterval,
		"publish_timeout": r.PublishTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("realtime.%s must be positive, got %s", name, d)
		}
	}
	if r.PurgeBatchSize <= 0 {
		return fmt.Errorf("realtime.purge_batch_size must be positive, got %d", r.PurgeBatchSize)
	}
	if r.EventQueueSize <= 0 {
		return fmt.Errorf("realtime.event_queue_size must be positive, got %d", r.EventQueueSize)
	}
	return nil
}

// DatabaseURL builds the pgx connection string
func (d DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.MaxConns)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
