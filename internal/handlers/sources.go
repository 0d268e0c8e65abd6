package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/models"
	"webhook-relay/internal/registry"
)

// Source handlers

// CreateSource registers a new source
// @Summary Create source
// @Description Registers an inbound source and issues its ingest token
// @Tags sources
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param source body registry.SourceInput true "Source configuration"
// @Success 201 {object} models.Source "Created source, including its token"
// @Failure 400 {object} commonhttp.ErrorBody "Invalid source"
// @Router /api/sources [post]
func (h *Handlers) CreateSource(w http.ResponseWriter, r *http.Request) {
	var in registry.SourceInput
	if err := commonhttp.DecodeJSON(r, &in); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	source, err := h.registry.CreateSource(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusCreated, source)
}

// ListSources returns all sources
// @Summary List sources
// @Tags sources
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Source "Sources"
// @Router /api/sources [get]
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.registry.ListSources(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []*models.Source{}
	}
	commonhttp.WriteJSON(w, http.StatusOK, sources)
}

// GetSource returns one source with its token
// @Summary Get source
// @Tags sources
// @Produce json
// @Security BearerAuth
// @Param id path string true "Source ID"
// @Success 200 {object} models.Source "Source"
// @Failure 404 {object} commonhttp.ErrorBody "Source not found"
// @Router /api/sources/{id} [get]
func (h *Handlers) GetSource(w http.ResponseWriter, r *http.Request) {
	source, err := h.registry.GetSource(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, source)
}

// UpdateSource changes the fields present in the body
// @Summary Update source
// @Tags sources
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Source ID"
// @Param source body registry.SourceUpdate true "Fields to change"
// @Success 200 {object} models.Source "Updated source"
// @Failure 400 {object} commonhttp.ErrorBody "Invalid update"
// @Failure 404 {object} commonhttp.ErrorBody "Source not found"
// @Router /api/sources/{id} [put]
func (h *Handlers) UpdateSource(w http.ResponseWriter, r *http.Request) {
	var in registry.SourceUpdate
	if err := commonhttp.DecodeJSON(r, &in); err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	source, err := h.registry.UpdateSource(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, source)
}

// DeleteSource removes a source
// @Summary Delete source
// @Tags sources
// @Security BearerAuth
// @Param id path string true "Source ID"
// @Success 204 "No Content"
// @Failure 404 {object} commonhttp.ErrorBody "Source not found"
// @Failure 409 {object} commonhttp.ErrorBody "Source still has routes"
// @Router /api/sources/{id} [delete]
func (h *Handlers) DeleteSource(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteSource(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSourceToken issues a new ingest token; the old one stops working
// @Summary Rotate source token
// @Tags sources
// @Produce json
// @Security BearerAuth
// @Param id path string true "Source ID"
// @Success 200 {object} models.Source "Source with its new token"
// @Failure 404 {object} commonhttp.ErrorBody "Source not found"
// @Router /api/sources/{id}/rotate-token [post]
func (h *Handlers) RotateSourceToken(w http.ResponseWriter, r *http.Request) {
	source, err := h.registry.RotateSourceToken(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, source)
}
