package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/handlers"
	"webhook-relay/internal/ingest"
	"webhook-relay/internal/middleware"
)

// SetupRoutes builds the router serving ingest, the management API, health
// and metrics.
func (app *App) SetupRoutes() (http.Handler, error) {
	router := mux.NewRouter()

	router.Use(
		middleware.RequestID,
		middleware.Recovery(logging.Component("http")),
		middleware.LoggingMiddleware(logging.Component("http")),
		middleware.Metrics(app.Metrics),
	)

	// Metrics (no auth required)
	if app.MetricsHandler != nil {
		router.Handle("/metrics", app.MetricsHandler).Methods(http.MethodGet)
	}

	// Ingest endpoints authenticate by source token
	throttle, err := app.ingestThrottle()
	if err != nil {
		return nil, err
	}
	var ingestMiddleware []mux.MiddlewareFunc
	if throttle != nil {
		ingestMiddleware = append(ingestMiddleware, throttle)
	}
	ingest.NewHandler(app.Gateway, app.Config.TrustProxyHeaders, logging.Component("ingest")).
		RegisterRoutes(router, ingestMiddleware...)

	// Health and the JWT protected management API
	handlers.New(handlers.Deps{
		Registry:     app.Registry,
		Events:       app.Storage,
		Replay:       app.Replay,
		Dispatcher:   app.Dispatcher,
		Health:       app.Storage,
		Housekeeping: app.Housekeeping,
		Auth:         app.Auth,
		Logger:       logging.Component("api"),
	}).RegisterRoutes(router)

	return router, nil
}
