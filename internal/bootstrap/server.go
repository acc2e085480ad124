package bootstrap

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/services"

	"github.com/appleboy/graceful"
	"github.com/redis/go-redis/v9"
)

// createHTTPServer creates the HTTP server instance
func createHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// addServerRunningJob adds the HTTP server running job
func addServerRunningJob(m *graceful.Manager, srv *http.Server) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

// addServerShutdownJob adds HTTP server shutdown handler
func addServerShutdownJob(m *graceful.Manager, srv *http.Server) {
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}

		log.Println("Server exited")
		return nil
	})
}

// addSweeperJob runs the expiry sweeper for the lifetime of the server.
func addSweeperJob(m *graceful.Manager, sweeper *services.Sweeper) {
	m.AddRunningJob(func(ctx context.Context) error {
		return sweeper.Run(ctx)
	})
}

// addRedisClientShutdownJob adds Redis client shutdown handler
func addRedisClientShutdownJob(m *graceful.Manager, redisClient *redis.Client) {
	if redisClient == nil {
		return
	}

	m.AddShutdownJob(func() error {
		log.Println("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
			return err
		}
		log.Println("Redis connection closed")
		return nil
	})
}
