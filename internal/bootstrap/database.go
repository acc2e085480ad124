package bootstrap

import (
	"fmt"
	"log"

	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/middleware"
	"github.com/go-agentlink/agentlink/internal/store"

	"github.com/redis/go-redis/v9"
)

func initializeDatabase(cfg *config.Config) (*store.Store, error) {
	db, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.DefaultAdminPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Printf("Database initialized (driver=%s)", cfg.DatabaseDriver)
	return db, nil
}

// initializeRateLimitRedisClient connects Redis only when the redis rate
// limit store is configured.
func initializeRateLimitRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.RateLimitEnabled || cfg.RateLimitStore != config.RateLimitStoreRedis {
		return nil, nil
	}
	client, err := middleware.NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("Rate limit Redis store connected (%s)", cfg.RedisAddr)
	return client, nil
}
