package bootstrap

import (
	"log"
	"net/http"

	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/metrics"
	"github.com/go-agentlink/agentlink/internal/middleware"
	"github.com/go-agentlink/agentlink/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// setupRouter configures the Gin router with all routes and middleware
func setupRouter(
	cfg *config.Config,
	db *store.Store,
	h handlerSet,
	recorder metrics.Recorder,
	rateLimitRedisClient *redis.Client,
) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	r.Use(gin.Logger(), gin.Recovery())

	setupSessionMiddleware(r, cfg)

	r.GET("/health", createHealthCheckHandler(db))
	setupMetricsEndpoint(r, cfg)

	limiters := setupRateLimiting(cfg, rateLimitRedisClient)
	setupRoutes(r, db, h, limiters)

	log.Printf("Server listening on %s (base URL %s)", cfg.ServerAddr, cfg.BaseURL)
	return r
}

// setupSessionMiddleware configures session handling middleware
func setupSessionMiddleware(r *gin.Engine, cfg *config.Config) {
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("agentlink_session", sessionStore))
}

// setupMetricsEndpoint configures the Prometheus metrics endpoint
func setupMetricsEndpoint(r *gin.Engine, cfg *config.Config) {
	switch {
	case !cfg.MetricsEnabled:
		log.Printf("Prometheus metrics disabled")
	case cfg.MetricsToken != "":
		log.Printf("Prometheus metrics enabled at /metrics with Bearer token authentication")
		r.GET("/metrics", middleware.MetricsAuth(cfg.MetricsToken), gin.WrapH(promhttp.Handler()))
	default:
		log.Printf("Prometheus metrics enabled at /metrics (no authentication)")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// setupRoutes configures all application routes
func setupRoutes(r *gin.Engine, db *store.Store, h handlerSet, limiters rateLimitMiddlewares) {
	// Dashboard session
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", h.Auth.Login)
		auth.POST("/logout", h.Auth.Logout)
		auth.GET("/session", h.Auth.Session)
	}

	// Device authorization flow: authorize and token are called by
	// unauthenticated agents, verify and approve by the signed-in human.
	device := r.Group("/api/device")
	{
		device.POST("/authorize", limiters.Authorize, h.DeviceFlow.Authorize)
		device.POST("/token", limiters.TokenPoll, h.DeviceFlow.Token)
		device.POST("/verify", middleware.RequireAuth(), h.DeviceFlow.Verify)
		device.POST("/approve", middleware.RequireAuth(), h.DeviceFlow.Approve)
	}

	// Agent API, bearer-token authenticated
	agent := r.Group("/api/agent", middleware.AgentAuth(db))
	{
		agent.POST("/heartbeat", h.Agent.Heartbeat)
	}

	// Token management, owner-scoped
	tokens := r.Group("/api/tokens", middleware.RequireAuth())
	{
		tokens.GET("", h.Tokens.List)
		tokens.POST("", h.Tokens.Create)
		tokens.DELETE("/:id", h.Tokens.Revoke)
		tokens.POST("/:id/approve", h.Tokens.Approve)
		tokens.POST("/:id/reject", h.Tokens.Reject)
		tokens.POST("/:id/approve-replacement", h.Tokens.ApproveReplacement)
		tokens.POST("/:id/reject-pending", h.Tokens.RejectPending)
	}
}

// createHealthCheckHandler returns the health check endpoint handler
func createHealthCheckHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
