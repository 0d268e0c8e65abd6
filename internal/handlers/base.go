// Package handlers implements the management API: CRUD over sources,
// destinations and routes, event queries, replay and dispatcher stats.
// Handlers are thin; validation and invariants live in the registry and
// the stores.
package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"webhook-relay/internal/auth"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/dispatcher"
	"webhook-relay/internal/housekeeping"
	"webhook-relay/internal/registry"
	"webhook-relay/internal/replay"
	"webhook-relay/internal/storage"
)

// StatsProvider reports dispatcher state.
type StatsProvider interface {
	Stats() dispatcher.Stats
}

// Pinger checks store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HousekeepingReporter reports the last retention run.
type HousekeepingReporter interface {
	LastRun(ctx context.Context) *housekeeping.Run
}

// Handlers holds the dependencies of the management API.
type Handlers struct {
	registry     *registry.Service
	events       storage.EventStore
	replay       *replay.Engine
	dispatcher   StatsProvider
	health       Pinger
	housekeeping HousekeepingReporter
	auth         *auth.Auth
	logger       logging.Logger
}

// Deps collects the services the handlers call.
type Deps struct {
	Registry     *registry.Service
	Events       storage.EventStore
	Replay       *replay.Engine
	Dispatcher   StatsProvider
	Health       Pinger
	Housekeeping HousekeepingReporter
	Auth         *auth.Auth
	Logger       logging.Logger
}

func New(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Component("api")
	}
	return &Handlers{
		registry:     deps.Registry,
		events:       deps.Events,
		replay:       deps.Replay,
		dispatcher:   deps.Dispatcher,
		health:       deps.Health,
		housekeeping: deps.Housekeeping,
		auth:         deps.Auth,
		logger:       logger,
	}
}

// RegisterRoutes mounts /health and the authenticated /api tree on r.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if h.auth != nil {
		api.Use(h.auth.RequireAuth)
	}

	api.HandleFunc("/sources", h.CreateSource).Methods(http.MethodPost)
	api.HandleFunc("/sources", h.ListSources).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}", h.GetSource).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}", h.UpdateSource).Methods(http.MethodPut)
	api.HandleFunc("/sources/{id}", h.DeleteSource).Methods(http.MethodDelete)
	api.HandleFunc("/sources/{id}/rotate-token", h.RotateSourceToken).Methods(http.MethodPost)

	api.HandleFunc("/destinations", h.CreateDestination).Methods(http.MethodPost)
	api.HandleFunc("/destinations", h.ListDestinations).Methods(http.MethodGet)
	api.HandleFunc("/destinations/{id}", h.GetDestination).Methods(http.MethodGet)
	api.HandleFunc("/destinations/{id}", h.UpdateDestination).Methods(http.MethodPut)
	api.HandleFunc("/destinations/{id}", h.DeleteDestination).Methods(http.MethodDelete)

	api.HandleFunc("/routes", h.CreateRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes", h.ListRoutes).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}", h.GetRoute).Methods(http.MethodGet)
	api.HandleFunc("/routes/{id}/pause", h.PauseRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}/resume", h.ResumeRoute).Methods(http.MethodPost)
	api.HandleFunc("/routes/{id}", h.DeleteRoute).Methods(http.MethodDelete)

	api.HandleFunc("/events", h.ListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", h.GetEvent).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}/attempts", h.ListAttempts).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}/replay", h.ReplayEvent).Methods(http.MethodPost)

	api.HandleFunc("/dispatcher/stats", h.DispatcherStats).Methods(http.MethodGet)
	api.HandleFunc("/housekeeping", h.HousekeepingStatus).Methods(http.MethodGet)
	api.HandleFunc("/auth/revoke", h.RevokeToken).Methods(http.MethodPost)
}
