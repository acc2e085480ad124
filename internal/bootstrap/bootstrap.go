package bootstrap

import (
	"log"
	"net/http"

	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/handlers"
	"github.com/go-agentlink/agentlink/internal/metrics"
	"github.com/go-agentlink/agentlink/internal/services"
	"github.com/go-agentlink/agentlink/internal/store"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Application holds all initialized components
type Application struct {
	Config *config.Config

	// Core infrastructure
	DB                   *store.Store
	MetricsRecorder      metrics.Recorder
	RateLimitRedisClient *redis.Client

	// Services
	DeviceFlowService *services.DeviceFlowService
	AgentService      *services.AgentService
	Sweeper           *services.Sweeper

	// HTTP
	Handlers handlerSet
	Router   *gin.Engine
	Server   *http.Server
}

type handlerSet struct {
	Auth       *handlers.AuthHandler
	DeviceFlow *handlers.DeviceFlowHandler
	Agent      *handlers.AgentHandler
	Tokens     *handlers.TokenHandler
}

// Run initializes and starts the application
func Run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	app := &Application{Config: cfg}

	if err := app.initializeInfrastructure(); err != nil {
		return err
	}
	app.initializeBusinessLayer()
	app.initializeHTTPLayer()
	app.startWithGracefulShutdown()

	return nil
}

// initializeInfrastructure sets up database, metrics, and Redis
func (app *Application) initializeInfrastructure() error {
	var err error

	app.DB, err = initializeDatabase(app.Config)
	if err != nil {
		return err
	}

	app.MetricsRecorder = metrics.Init(app.Config.MetricsEnabled)

	app.RateLimitRedisClient, err = initializeRateLimitRedisClient(app.Config)
	if err != nil {
		return err
	}

	return nil
}

// initializeBusinessLayer sets up services
func (app *Application) initializeBusinessLayer() {
	app.DeviceFlowService = services.NewDeviceFlowService(app.DB, app.Config, app.MetricsRecorder)
	app.AgentService = services.NewAgentService(app.DB, app.MetricsRecorder)
	app.Sweeper = services.NewSweeper(app.DB, app.MetricsRecorder, app.Config.SweepInterval)
}

// initializeHTTPLayer sets up handlers, router, and server
func (app *Application) initializeHTTPLayer() {
	app.Handlers = handlerSet{
		Auth:       handlers.NewAuthHandler(app.DB),
		DeviceFlow: handlers.NewDeviceFlowHandler(app.DeviceFlowService),
		Agent:      handlers.NewAgentHandler(app.AgentService),
		Tokens:     handlers.NewTokenHandler(app.AgentService),
	}

	app.Router = setupRouter(app.Config, app.DB, app.Handlers, app.MetricsRecorder, app.RateLimitRedisClient)
	app.Server = createHTTPServer(app.Config, app.Router)
}

// startWithGracefulShutdown starts the server and handles graceful shutdown
func (app *Application) startWithGracefulShutdown() {
	m := graceful.NewManager()

	addServerRunningJob(m, app.Server)
	addServerShutdownJob(m, app.Server)
	addSweeperJob(m, app.Sweeper)
	addRedisClientShutdownJob(m, app.RateLimitRedisClient)

	<-m.Done()
	log.Println("Shutdown complete")
}
