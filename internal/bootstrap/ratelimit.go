package bootstrap

import (
	"log"

	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// rateLimitMiddlewares holds the per-endpoint rate limiters.
type rateLimitMiddlewares struct {
	Authorize gin.HandlerFunc
	TokenPoll gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration
func setupRateLimiting(cfg *config.Config, redisClient *redis.Client) rateLimitMiddlewares {
	noOpMiddleware := func(c *gin.Context) { c.Next() }

	if !cfg.RateLimitEnabled {
		return rateLimitMiddlewares{
			Authorize: noOpMiddleware,
			TokenPoll: noOpMiddleware,
		}
	}

	log.Printf("Rate limiting enabled (store: %s)", cfg.RateLimitStore)

	createLimiter := func(requestsPerMinute int, errorCode, endpoint string) gin.HandlerFunc {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: requestsPerMinute,
			ErrorCode:         errorCode,
			StoreType:         cfg.RateLimitStore,
			RedisClient:       redisClient,
		})
		if err != nil {
			log.Fatalf("Failed to create rate limiter for %s: %v", endpoint, err)
		}
		return limiter
	}

	// The token endpoint answers overruns with slow_down so polling
	// agents know to back off rather than treat it as a hard failure.
	return rateLimitMiddlewares{
		Authorize: createLimiter(cfg.AuthorizePerMinute, "rate_limit_exceeded", "/api/device/authorize"),
		TokenPoll: createLimiter(cfg.TokenPollPerMinute, "slow_down", "/api/device/token"),
	}
}
