package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit store backends
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string
	IsProduction bool

	// Session settings
	SessionSecret string
	SessionMaxAge int // seconds

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	// Device authorization settings
	DeviceAuthExpiration time.Duration
	PollingInterval      int // seconds, suggested to polling agents

	// Sweeper settings
	SweepInterval time.Duration

	// Metrics
	MetricsEnabled bool
	MetricsToken   string

	// Rate limiting
	RateLimitEnabled   bool
	TokenPollPerMinute int
	AuthorizePerMinute int
	RateLimitStore     string // "memory" or "redis"
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	// Seeded admin account (random password when empty)
	DefaultAdminPassword string
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", "agentlink.db")
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		IsProduction: getEnvBool("PRODUCTION", false),

		SessionSecret: getEnv("SESSION_SECRET", "session-secret-change-in-production"),
		SessionMaxAge: getEnvInt("SESSION_MAX_AGE", 86400),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		DeviceAuthExpiration: getEnvDuration("DEVICE_AUTH_EXPIRATION", 15*time.Minute),
		PollingInterval:      getEnvInt("POLLING_INTERVAL", 5),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		MetricsToken:   getEnv("METRICS_TOKEN", ""),

		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		TokenPollPerMinute: getEnvInt("TOKEN_POLL_PER_MINUTE", 30),
		AuthorizePerMinute: getEnvInt("AUTHORIZE_PER_MINUTE", 10),
		RateLimitStore:     getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),

		DefaultAdminPassword: getEnv("DEFAULT_ADMIN_PASSWORD", ""),
	}
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required for driver %s", c.DatabaseDriver)
	}
	if c.DeviceAuthExpiration <= 0 {
		return fmt.Errorf("DEVICE_AUTH_EXPIRATION must be positive")
	}
	if c.PollingInterval <= 0 {
		return fmt.Errorf("POLLING_INTERVAL must be positive")
	}
	if c.RateLimitStore != RateLimitStoreMemory && c.RateLimitStore != RateLimitStoreRedis {
		return fmt.Errorf("unsupported rate limit store: %s", c.RateLimitStore)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
