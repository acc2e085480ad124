package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-agentlink/agentlink/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterRedis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// RateLimitConfig holds the configuration for one rate-limited endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int
	ErrorCode         string // error code string returned on 429

	// Store settings
	StoreType string // config.RateLimitStoreMemory or config.RateLimitStoreRedis

	// Redis settings (only used when StoreType = "redis")
	RedisClient *redis.Client
}

// NewRateLimiter creates a rate limiter keyed by client IP. Polling agents
// that overrun it receive 429 with the configured error code; for the
// token endpoint that code is "slow_down" per RFC 8628 §3.5.
func NewRateLimiter(cfg RateLimitConfig) (gin.HandlerFunc, error) {
	rate := limiter.Rate{
		Period: 1 * time.Minute,
		Limit:  int64(cfg.RequestsPerMinute),
	}

	var store limiter.Store
	var err error

	switch cfg.StoreType {
	case config.RateLimitStoreRedis:
		store, err = limiterRedis.NewStoreWithOptions(cfg.RedisClient, limiter.StoreOptions{
			Prefix:          "ratelimit",
			CleanUpInterval: 5 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis rate limit store: %w", err)
		}
	default:
		store = memory.NewStore()
	}

	instance := limiter.New(store, rate)

	errorCode := cfg.ErrorCode
	if errorCode == "" {
		errorCode = "rate_limit_exceeded"
	}

	return mgin.NewMiddleware(instance, mgin.WithLimitReachedHandler(func(c *gin.Context) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             errorCode,
			"error_description": "Too many requests. Please slow down.",
		})
		c.Abort()
	})), nil
}

// NewRedisClient connects the shared rate-limit Redis client.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// MetricsAuth protects the metrics endpoint with a static bearer token.
func MetricsAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
