package handlers

import (
	"context"
	"net/http"
	"time"

	"webhook-relay/internal/auth"
	"webhook-relay/internal/common/errors"
	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/common/logging"
)

// HealthResponse reports process and store health.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// Health checks the store
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse "Healthy"
// @Failure 503 {object} HealthResponse "Store unreachable"
// @Router /health [get]
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.WithContext(r.Context()).Warn("Health check failed", logging.Err(err))
			resp = HealthResponse{Status: "degraded", Store: "unreachable"}
			commonhttp.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	commonhttp.WriteJSON(w, http.StatusOK, resp)
}

// DispatcherStats returns per-destination queue, limiter and breaker state
// @Summary Dispatcher statistics
// @Tags system
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dispatcher.Stats "Dispatcher snapshot"
// @Router /api/dispatcher/stats [get]
func (h *Handlers) DispatcherStats(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		commonhttp.WriteError(w, errors.UnavailableError("dispatcher not initialized", nil))
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, h.dispatcher.Stats())
}

// HousekeepingStatus returns the last retention run
// @Summary Housekeeping status
// @Tags system
// @Produce json
// @Security BearerAuth
// @Success 200 {object} housekeeping.Run "Last run"
// @Success 204 "No run yet"
// @Router /api/housekeeping [get]
func (h *Handlers) HousekeepingStatus(w http.ResponseWriter, r *http.Request) {
	if h.housekeeping == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	run := h.housekeeping.LastRun(r.Context())
	if run == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, run)
}

// RevokeToken revokes the bearer token of the request
// @Summary Revoke token
// @Tags auth
// @Security BearerAuth
// @Success 204 "Revoked"
// @Failure 503 {object} commonhttp.ErrorBody "Revocation needs Redis"
// @Router /api/auth/revoke [post]
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		commonhttp.WriteError(w, errors.UnavailableError("authentication is not configured", nil))
		return
	}
	if err := h.auth.Revoke(r.Context(), auth.TokenFromRequest(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError logs server-side failures before writing the envelope.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Request failed", err,
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
	}
	commonhttp.WriteError(w, err)
}
