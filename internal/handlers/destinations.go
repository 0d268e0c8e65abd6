package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/models"
	"webhook-relay/internal/registry"
)

// Destination handlers. Secrets are write-only; responses carry has_secret.

// CreateDestination registers a delivery target
// @Summary Create destination
// @Tags destinations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param destination body registry.DestinationInput true "Destination configuration"
// @Success 201 {object} models.Destination "Created destination"
// @Failure 400 {object} commonhttp.ErrorBody "Invalid destination"
// @Router /api/destinations [post]
func (h *Handlers) CreateDestination(w http.ResponseWriter, r *http.Request) {
	var in registry.DestinationInput
	if err := commonhttp.DecodeJSON(r, &in); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	destination, err := h.registry.CreateDestination(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, destination)
}

// ListDestinations returns all destinations
// @Summary List destinations
// @Tags destinations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Destination "Destinations"
// @Router /api/destinations [get]
func (h *Handlers) ListDestinations(w http.ResponseWriter, r *http.Request) {
	destinations, err := h.registry.ListDestinations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if destinations == nil {
		destinations = []*models.Destination{}
	}
	commonhttp.WriteJSON(w, http.StatusOK, destinations)
}

// GetDestination returns one destination
// @Summary Get destination
// @Tags destinations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Destination ID"
// @Success 200 {object} models.Destination "Destination"
// @Failure 404 {object} commonhttp.ErrorBody "Destination not found"
// @Router /api/destinations/{id} [get]
func (h *Handlers) GetDestination(w http.ResponseWriter, r *http.Request) {
	destination, err := h.registry.GetDestination(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, destination)
}

// UpdateDestination changes the fields present in the body; limits apply
// to deliveries from the next attempt on
// @Summary Update destination
// @Tags destinations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Destination ID"
// @Param destination body registry.DestinationInput true "Fields to change"
// @Success 200 {object} models.Destination "Updated destination"
// @Failure 400 {object} commonhttp.ErrorBody "Invalid update"
// @Failure 404 {object} commonhttp.ErrorBody "Destination not found"
// @Router /api/destinations/{id} [put]
func (h *Handlers) UpdateDestination(w http.ResponseWriter, r *http.Request) {
	var in registry.DestinationInput
	if err := commonhttp.DecodeJSON(r, &in); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	destination, err := h.registry.UpdateDestination(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, destination)
}

// DeleteDestination removes a destination
// @Summary Delete destination
// @Tags destinations
// @Security BearerAuth
// @Param id path string true "Destination ID"
// @Success 204 "No Content"
// @Failure 404 {object} commonhttp.ErrorBody "Destination not found"
// @Failure 409 {object} commonhttp.ErrorBody "Destination still has routes"
// @Router /api/destinations/{id} [delete]
func (h *Handlers) DeleteDestination(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteDestination(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
