package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"webhook-relay/internal/auth"
	"webhook-relay/internal/circuitbreaker"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/config"
	"webhook-relay/internal/crypto"
	"webhook-relay/internal/dispatcher"
	"webhook-relay/internal/housekeeping"
	"webhook-relay/internal/ingest"
	"webhook-relay/internal/locks"
	"webhook-relay/internal/observability"
	"webhook-relay/internal/ratelimit"
	"webhook-relay/internal/redis"
	"webhook-relay/internal/registry"
	"webhook-relay/internal/replay"
	"webhook-relay/internal/routing"
	"webhook-relay/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config         *config.Config
	Storage        storage.Storage
	RedisClient    *redis.Client
	Limiter        ratelimit.Limiter
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Encryptor      *crypto.ConfigEncryptor
	Registry       *registry.Service
	Router         *routing.Router
	Breakers       *circuitbreaker.GoBreakerManager
	Dispatcher     *dispatcher.Dispatcher
	Gateway        *ingest.Gateway
	Replay         *replay.Engine
	Locks          locks.Manager
	Housekeeping   *housekeeping.Service
	Auth           *auth.Auth
	Logger         logging.Logger
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.Component("app"),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		if cfg.RateLimitBackend == ratelimit.BackendRedis {
			app.abort()
			return nil, err
		}
		// Redis is optional unless the limiter needs it
		app.Logger.Warn("Redis initialization failed, continuing without Redis",
			logging.String("error", err.Error()))
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"rate limiter", app.initializeLimiter},
		{"metrics", app.initializeMetrics},
		{"registry", app.initializeRegistry},
		{"dispatcher", app.initializeDispatcher},
		{"gateway", app.initializeGateway},
		{"housekeeping", app.initializeHousekeeping},
		{"auth", app.initializeAuth},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			app.abort()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	return app, nil
}

func (app *App) initializeLimiter() error {
	limiter, err := ratelimit.New(app.Config.RateLimitBackend, app.RedisClient, logging.Component("ratelimit"))
	if err != nil {
		return err
	}
	app.Limiter = limiter
	app.Logger.Info("Rate limiter: ready", logging.String("backend", app.Config.RateLimitBackend))
	return nil
}

func (app *App) initializeMetrics() error {
	metrics, handler, err := observability.NewMetrics(context.Background())
	if err != nil {
		return err
	}
	app.Metrics = metrics
	app.MetricsHandler = handler
	return nil
}

func (app *App) initializeRegistry() error {
	opts := []registry.Option{registry.WithLogger(logging.Component("registry"))}
	if app.Config.EncryptionKey != "" {
		encryptor, err := crypto.NewConfigEncryptor(app.Config.EncryptionKey)
		if err != nil {
			return err
		}
		app.Encryptor = encryptor
		opts = append(opts, registry.WithEncryptor(encryptor))
		app.Logger.Info("Destination secrets: encrypted at rest")
	} else {
		app.Logger.Warn("CONFIG_ENCRYPTION_KEY not set; destination secrets are stored in plain text")
	}

	app.Registry = registry.New(app.Storage, opts...)
	app.Router = routing.NewRouter(app.Storage, logging.Component("routing"))
	return nil
}

func (app *App) initializeDispatcher() error {
	app.Breakers = circuitbreaker.NewGoBreakerManager(logging.Component("circuitbreaker"))

	d, err := dispatcher.New(
		dispatcher.FromConfig(app.Config),
		app.Storage,
		app.Registry,
		app.Limiter,
		dispatcher.WithLogger(logging.Component("dispatcher")),
		dispatcher.WithMetrics(app.Metrics),
		dispatcher.WithBreakers(app.Breakers),
	)
	if err != nil {
		return err
	}
	app.Dispatcher = d
	app.Registry.OnDestinationDeleted(d.RemoveDestination)

	recovered, err := d.Recover(context.Background())
	if err != nil {
		return err
	}
	if recovered > 0 {
		app.Logger.Info("Resumed pending deliveries", logging.Int("count", recovered))
	}
	return nil
}

func (app *App) initializeGateway() error {
	app.Gateway = ingest.NewGateway(
		app.Registry,
		app.Storage,
		app.Router,
		app.Dispatcher,
		ingest.WithLogger(logging.Component("ingest")),
		ingest.WithMetrics(app.Metrics),
	)
	app.Replay = replay.NewEngine(app.Storage, app.Router, app.Dispatcher, logging.Component("replay"))

	_, err := app.Gateway.Resume(context.Background())
	return err
}

func (app *App) initializeHousekeeping() error {
	app.Locks = locks.NewManager(app.RedisClient, logging.Component("locks"))

	opts := []housekeeping.Option{
		housekeeping.WithLogger(logging.Component("housekeeping")),
		housekeeping.WithMetrics(app.Metrics),
	}
	if app.RedisClient != nil {
		opts = append(opts, housekeeping.WithState(app.RedisClient))
	}

	svc, err := housekeeping.New(housekeeping.Config{
		Schedule:      app.Config.HousekeepingSchedule,
		RetentionDays: app.Config.RetentionDays,
	}, app.Storage, app.Locks, opts...)
	if err != nil {
		return err
	}
	app.Housekeeping = svc
	return nil
}

func (app *App) initializeAuth() error {
	opts := []auth.Option{auth.WithLogger(logging.Component("auth"))}
	if app.RedisClient != nil {
		opts = append(opts, auth.WithRevocationStore(app.RedisClient))
	}
	a, err := auth.New(app.Config.JWTSecret, opts...)
	if err != nil {
		return err
	}
	app.Auth = a
	return nil
}

// abort unwinds a partially initialized App.
func (app *App) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		app.Logger.Warn("Error stopping services", logging.String("error", err.Error()))
	}
	app.Cleanup()
}

// Cleanup releases the resources New acquired. Background services must
// already have been stopped through Shutdown.
func (app *App) Cleanup() {
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			app.Logger.Warn("Error releasing locks", logging.String("error", err.Error()))
		}
	}
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis", logging.String("error", err.Error()))
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("Error closing storage", logging.String("error", err.Error()))
		}
	}
}
