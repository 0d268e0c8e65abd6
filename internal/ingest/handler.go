package ingest

import (
	"net/http"

	"github.com/gorilla/mux"

	"webhook-relay/internal/common/errors"
	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/netutil"
	"webhook-relay/internal/models"
)

// Response is the body returned to an admitted caller.
type Response struct {
	EventID    string             `json:"event_id"`
	Duplicate  bool               `json:"duplicate,omitempty"`
	Deliveries []DeliveryResponse `json:"deliveries"`
}

// DeliveryResponse summarises one delivery created for the event.
type DeliveryResponse struct {
	ID            string         `json:"id"`
	DestinationID string         `json:"destination_id"`
	Outcome       models.Outcome `json:"outcome"`
}

// Handler is the HTTP adapter of the Gateway.
type Handler struct {
	gateway    *Gateway
	trustProxy bool
	logger     logging.Logger
}

// NewHandler creates a Handler. With trustProxy the first X-Forwarded-For
// entry is taken as the caller address.
func NewHandler(gateway *Gateway, trustProxy bool, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Component("ingest")
	}
	return &Handler{gateway: gateway, trustProxy: trustProxy, logger: logger}
}

// RegisterRoutes mounts the ingest endpoints on r for every method. Extra
// middleware, such as the per-address throttle, wraps the handler.
func (h *Handler) RegisterRoutes(r *mux.Router, middleware ...mux.MiddlewareFunc) {
	var handler http.Handler = http.HandlerFunc(h.Ingest)
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}

	r.Handle("/ingest", handler)
	r.Handle("/ingest/{token}", handler)
	r.Handle("/ingest/{token}/{path:.*}", handler)
}

// Ingest admits one inbound call
// @Summary Ingest an inbound call
// @Description Authenticates the source token, stores the event and queues a delivery per matching route
// @Tags ingest
// @Accept */*
// @Produce json
// @Param token path string false "Source token; otherwise Authorization: Bearer"
// @Success 202 {object} Response "Event admitted"
// @Success 200 {object} Response "Duplicate of an earlier event"
// @Failure 401 {object} commonhttp.ErrorBody "Unknown or disabled token"
// @Failure 403 {object} commonhttp.ErrorBody "Caller address not allowed"
// @Failure 413 {object} commonhttp.ErrorBody "Body too large"
// @Failure 503 {object} commonhttp.ErrorBody "Event store unavailable"
// @Router /ingest/{token}/{path} [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, hasPathToken := vars["token"]
	path := "/"
	if hasPathToken {
		if suffix := vars["path"]; suffix != "" {
			path = "/" + suffix
		}
	} else {
		token = BearerToken(r.Header.Get("Authorization"))
	}

	admission, err := h.gateway.Admit(r.Context(), Request{
		Token:         token,
		Method:        r.Method,
		Path:          path,
		Query:         r.URL.RawQuery,
		Headers:       r.Header,
		RemoteIP:      netutil.ClientAddr(r, h.trustProxy),
		ContentLength: r.ContentLength,
		Body:          r.Body,
	})
	if err != nil {
		if errors.HTTPStatus(err) >= http.StatusInternalServerError {
			h.logger.Error("Ingestion failed", err, logging.String("method", r.Method))
		}
		commonhttp.WriteError(w, err)
		return
	}

	status := http.StatusAccepted
	if admission.Duplicate {
		status = http.StatusOK
	}
	commonhttp.WriteJSON(w, status, toResponse(admission))
}

func toResponse(admission *Admission) Response {
	resp := Response{
		EventID:    admission.Event.ID,
		Duplicate:  admission.Duplicate,
		Deliveries: make([]DeliveryResponse, 0, len(admission.Deliveries)),
	}
	for _, d := range admission.Deliveries {
		resp.Deliveries = append(resp.Deliveries, DeliveryResponse{
			ID:            d.ID,
			DestinationID: d.DestinationID,
			Outcome:       d.Outcome,
		})
	}
	return resp
}
