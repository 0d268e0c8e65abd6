package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"webhook-relay/internal/common/errors"
	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

// Event handlers

// EventResponse renders an event. Text bodies are returned as is; binary
// bodies are base64 encoded and flagged in body_encoding.
type EventResponse struct {
	ID             string              `json:"id"`
	SourceID       string              `json:"source_id"`
	ReceivedAt     time.Time           `json:"received_at"`
	Method         string              `json:"method"`
	Path           string              `json:"path"`
	Query          string              `json:"query,omitempty"`
	Headers        map[string][]string `json:"headers"`
	Body           string              `json:"body"`
	BodyEncoding   string              `json:"body_encoding,omitempty"`
	ContentType    string              `json:"content_type"`
	BodySize       int64               `json:"body_size"`
	BodySHA256     string              `json:"body_sha256"`
	RemoteIP       string              `json:"remote_ip,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// EventDetail is an event with its deliveries.
type EventDetail struct {
	EventResponse
	Deliveries []*models.Delivery `json:"deliveries"`
}

func toEventResponse(event *models.Event) EventResponse {
	resp := EventResponse{
		ID:             event.ID,
		SourceID:       event.SourceID,
		ReceivedAt:     event.ReceivedAt,
		Method:         event.Method,
		Path:           event.Path,
		Query:          event.Query,
		Headers:        event.Headers,
		ContentType:    event.ContentType,
		BodySize:       event.BodySize,
		BodySHA256:     event.BodySHA256,
		RemoteIP:       event.RemoteIP,
		IdempotencyKey: event.IdempotencyKey,
	}
	if resp.Headers == nil {
		resp.Headers = map[string][]string{}
	}
	if utf8.Valid(event.Body) {
		resp.Body = string(event.Body)
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(event.Body)
		resp.BodyEncoding = "base64"
	}
	return resp
}

// ListEvents returns recent events, newest first
// @Summary List events
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param source_id query string false "Only events of this source"
// @Param limit query int false "Maximum events (default 20, max 200)"
// @Success 200 {array} EventResponse "Events"
// @Failure 400 {object} commonhttp.ErrorBody "Invalid limit"
// @Router /api/events [get]
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			commonhttp.WriteError(w, errors.ValidationError("limit must be an integer"))
			return
		}
		limit = parsed
	}

	events, err := h.events.ListEvents(r.Context(), storage.EventFilter{
		SourceID: query.Get("source_id"),
		Limit:    storage.ClampLimit(limit),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]EventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, toEventResponse(event))
	}
	commonhttp.WriteJSON(w, http.StatusOK, resp)
}

// GetEvent returns an event with its deliveries
// @Summary Get event
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {object} EventDetail "Event and deliveries"
// @Failure 404 {object} commonhttp.ErrorBody "Event not found"
// @Router /api/events/{id} [get]
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	event, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	deliveries, err := h.events.ListDeliveries(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.Delivery{}
	}
	commonhttp.WriteJSON(w, http.StatusOK, EventDetail{
		EventResponse: toEventResponse(event),
		Deliveries:    deliveries,
	})
}

// ListAttempts returns every delivery attempt of an event
// @Summary List attempts
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {array} models.Attempt "Attempts in order"
// @Failure 404 {object} commonhttp.ErrorBody "Event not found"
// @Router /api/events/{id}/attempts [get]
func (h *Handlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.events.GetEvent(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	attempts, err := h.events.ListAttempts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []*models.Attempt{}
	}
	commonhttp.WriteJSON(w, http.StatusOK, attempts)
}

// ReplayEvent re-submits an event through the current routes
// @Summary Replay event
// @Description Creates new deliveries for every route that matches now; the event is unchanged
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 202 {object} replay.Result "Deliveries created"
// @Failure 404 {object} commonhttp.ErrorBody "Event not found"
// @Router /api/events/{id}/replay [post]
func (h *Handlers) ReplayEvent(w http.ResponseWriter, r *http.Request) {
	result, err := h.replay.Replay(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	commonhttp.WriteJSON(w, http.StatusAccepted, result)
}
