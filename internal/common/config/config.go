package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	Outbox     OutboxConfig
	Media      MediaConfig
	Hub        HubConfig
	Pagination PaginationConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	GRPCPort       int
	MetricsPort    int
	HealthPort     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	WorkerID       int64
}

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	SlowQuery       time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
	HeadTTL  time.Duration
}

type AuthConfig struct {
	JWTSecret  string
	CookieName string
	Disabled   bool
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	SendPerMinute     int
	SendBurst         int
}

type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	EnableFile bool
	FilePath   string
}

type OutboxConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	Retention       time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

type MediaConfig struct {
	ServiceURL      string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

type HubConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

type PaginationConfig struct {
	DefaultLimit int
	MaxLimit     int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 5001),
			GRPCPort:       getEnvInt("GRPC_PORT", 9090),
			MetricsPort:    getEnvInt("METRICS_PORT", 9100),
			HealthPort:     getEnvInt("HEALTH_PORT", 8081),
			ReadTimeout:    getEnvDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:    getEnvDuration("IDLE_TIMEOUT", 120*time.Second),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			WorkerID:       int64(getEnvInt("WORKER_ID", 1)),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "huddle"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			SlowQuery:       getEnvDuration("DB_SLOW_QUERY", 200*time.Millisecond),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: getEnv("MONGO_DATABASE", "huddle"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			HeadTTL:  getEnvDuration("REDIS_HEAD_TTL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", "change-me-in-production"),
			CookieName: getEnv("AUTH_COOKIE_NAME", "jwt"),
			Disabled:   getEnvBool("AUTH_DISABLED", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 20),
			SendPerMinute:     getEnvInt("RATE_LIMIT_SEND_PER_MINUTE", 60),
			SendBurst:         getEnvInt("RATE_LIMIT_SEND_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			EnableFile: getEnvBool("LOG_ENABLE_FILE", false),
			FilePath:   getEnv("LOG_FILE_PATH", "/var/log/huddle/api.log"),
		},
		Outbox: OutboxConfig{
			PollInterval:    getEnvDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			BatchSize:       getEnvInt("OUTBOX_BATCH_SIZE", 100),
			Retention:       getEnvDuration("OUTBOX_RETENTION", 24*time.Hour),
			BreakerFailures: getEnvInt("OUTBOX_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvDuration("OUTBOX_BREAKER_COOLDOWN", 10*time.Second),
		},
		Media: MediaConfig{
			ServiceURL:      getEnv("MEDIA_SERVICE_URL", ""),
			Timeout:         getEnvDuration("MEDIA_TIMEOUT", 60*time.Second),
			BreakerFailures: getEnvInt("MEDIA_BREAKER_FAILURES", 3),
			BreakerCooldown: getEnvDuration("MEDIA_BREAKER_COOLDOWN", 30*time.Second),
		},
		Hub: HubConfig{
			SendBuffer:   getEnvInt("HUB_SEND_BUFFER", 256),
			PingInterval: getEnvDuration("HUB_PING_INTERVAL", 30*time.Second),
			WriteTimeout: getEnvDuration("HUB_WRITE_TIMEOUT", 10*time.Second),
		},
		Pagination: PaginationConfig{
			DefaultLimit: getEnvInt("PAGE_DEFAULT_LIMIT", 50),
			MaxLimit:     getEnvInt("PAGE_MAX_LIMIT", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Server.WorkerID < 0 || c.Server.WorkerID > 1023 {
		return fmt.Errorf("WORKER_ID must be in [0, 1023], got %d", c.Server.WorkerID)
	}

	if c.Pagination.DefaultLimit <= 0 || c.Pagination.MaxLimit <= 0 {
		return fmt.Errorf("page limits must be positive")
	}
	if c.Pagination.DefaultLimit > c.Pagination.MaxLimit {
		return fmt.Errorf("PAGE_DEFAULT_LIMIT %d exceeds PAGE_MAX_LIMIT %d", c.Pagination.DefaultLimit, c.Pagination.MaxLimit)
	}

	if c.Hub.SendBuffer <= 0 {
		return fmt.Errorf("HUB_SEND_BUFFER must be positive")
	}

	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
