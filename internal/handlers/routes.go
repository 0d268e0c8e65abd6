package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/models"
	"webhook-relay/internal/registry"
)

// Route handlers

// CreateRoute links a source to a destination
// @Summary Create route
// @Description Endpoints are given by id or by name; ord orders matches, lower first
// @Tags routes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param route body registry.RouteInput true "Route configuration"
// @Success 201 {object} models.Route "Created route"
// @Failure 400 {object} commonhttp.ErrorBody "Invalid route"
// @Failure 404 {object} commonhttp.ErrorBody "Unknown source or destination"
// @Router /api/routes [post]
func (h *Handlers) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var in registry.RouteInput
	if err := commonhttp.DecodeJSON(r, &in); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	route, err := h.registry.CreateRoute(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, route)
}

// ListRoutes returns routes, optionally of one source
// @Summary List routes
// @Tags routes
// @Produce json
// @Security BearerAuth
// @Param source_id query string false "Only routes of this source"
// @Success 200 {array} models.Route "Routes"
// @Router /api/routes [get]
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.registry.ListRoutes(r.Context(), r.URL.Query().Get("source_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if routes == nil {
		routes = []*models.Route{}
	}
	commonhttp.WriteJSON(w, http.StatusOK, routes)
}

// GetRoute returns one route
// @Summary Get route
// @Tags routes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Route ID"
// @Success 200 {object} models.Route "Route"
// @Failure 404 {object} commonhttp.ErrorBody "Route not found"
// @Router /api/routes/{id} [get]
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.registry.GetRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, route)
}

// PauseRoute stops a route from matching
// @Summary Pause route
// @Tags routes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Route ID"
// @Success 200 {object} models.Route "Paused route"
// @Failure 404 {object} commonhttp.ErrorBody "Route not found"
// @Router /api/routes/{id}/pause [post]
func (h *Handlers) PauseRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.registry.PauseRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, route)
}

// ResumeRoute lets a paused route match again
// @Summary Resume route
// @Tags routes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Route ID"
// @Success 200 {object} models.Route "Active route"
// @Failure 404 {object} commonhttp.ErrorBody "Route not found"
// @Router /api/routes/{id}/resume [post]
func (h *Handlers) ResumeRoute(w http.ResponseWriter, r *http.Request) {
	route, err := h.registry.ResumeRoute(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, route)
}

// DeleteRoute removes a route
// @Summary Delete route
// @Tags routes
// @Security BearerAuth
// @Param id path string true "Route ID"
// @Success 204 "No Content"
// @Failure 404 {object} commonhttp.ErrorBody "Route not found"
// @Router /api/routes/{id} [delete]
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteRoute(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
