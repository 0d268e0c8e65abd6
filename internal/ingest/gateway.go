// Package ingest admits inbound calls. A call is authenticated by its source
// token, checked against the source's address allowlist and body limit,
// appended to the event store and then routed to the dispatcher. The caller
// is answered as soon as the event is durable.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/netutil"
	"webhook-relay/internal/common/utils"
	"webhook-relay/internal/models"
	"webhook-relay/internal/observability"
	"webhook-relay/internal/routing"
	"webhook-relay/internal/storage"
)

// IdempotencyHeader lets a caller make retries of the same call safe.
const IdempotencyHeader = "Idempotency-Key"

// routeTimeout bounds routing and enqueue once the event is stored.
const routeTimeout = 30 * time.Second

// TokenResolver maps a source token to its source.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.Source, error)
}

// Matcher selects the routes of an event.
type Matcher interface {
	Match(ctx context.Context, sourceID, contentType string) ([]routing.Match, error)
}

// Enqueuer hands deliveries to the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, event *models.Event, matches []routing.Match, replay bool) ([]*models.Delivery, error)
}

// Request is one inbound call.
type Request struct {
	Token    string
	Method   string
	Path     string
	Query    string
	Headers  http.Header
	RemoteIP netip.Addr
	// ContentLength is the declared length, or -1 when unknown.
	ContentLength int64
	Body          io.Reader
}

// Admission is the result of an admitted call.
type Admission struct {
	Event      *models.Event
	Deliveries []*models.Delivery
	// Duplicate is set when the idempotency key matched an earlier event.
	Duplicate bool
}

// Gateway admits inbound calls.
type Gateway struct {
	sources    TokenResolver
	events     storage.EventStore
	router     Matcher
	dispatcher Enqueuer
	metrics    *observability.Metrics
	logger     logging.Logger
	clock      *eventClock
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records admission metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithClock overrides the clock that stamps received_at.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.clock.now = now
		}
	}
}

// NewGateway creates a Gateway.
func NewGateway(sources TokenResolver, events storage.EventStore, router Matcher, dispatcher Enqueuer, opts ...Option) *Gateway {
	g := &Gateway{
		sources:    sources,
		events:     events,
		router:     router,
		dispatcher: dispatcher,
		logger:     logging.Component("ingest"),
		clock:      &eventClock{now: time.Now},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit runs the admission steps for req. Errors before the event is
// appended are returned to the caller; routing and enqueue problems after
// that are only logged and leave the event unrouted.
func (g *Gateway) Admit(ctx context.Context, req Request) (*Admission, error) {
	admission, err := g.admit(ctx, req)
	switch {
	case err != nil:
		g.metrics.RecordIngest(ctx, string(errors.GetType(err)), 0)
	case admission.Duplicate:
		g.metrics.RecordIngest(ctx, "duplicate", 0)
	default:
		g.metrics.RecordIngest(ctx, "accepted", admission.Event.BodySize)
	}
	return admission, err
}

func (g *Gateway) admit(ctx context.Context, req Request) (*Admission, error) {
	source, err := g.sources.ResolveToken(ctx, req.Token)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeUnauthorized) {
			return nil, err
		}
		return nil, errors.UnavailableError("source registry unavailable", err)
	}

	if err := g.checkAddress(source, req.RemoteIP); err != nil {
		return nil, err
	}

	body, err := readBody(req, source.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.Headers.Get(IdempotencyHeader))
	if key != "" {
		if admission, err := g.lookupDuplicate(ctx, source.ID, key); admission != nil || err != nil {
			return admission, err
		}
	}

	event := g.newEvent(source, req, body, key)
	if err := g.events.AppendEvent(ctx, event); err != nil {
		if key != "" && errors.IsType(err, errors.ErrTypeConflict) {
			// A concurrent call with the same key won the race.
			if admission, lookupErr := g.lookupDuplicate(ctx, source.ID, key); admission != nil {
				return admission, nil
			} else if lookupErr != nil {
				return nil, lookupErr
			}
		}
		return nil, errors.UnavailableError("event store unavailable", err)
	}

	logger := g.logger.WithFields(
		logging.String("event_id", event.ID),
		logging.String("source_id", source.ID),
	)

	// The event is durable; routing must not depend on the caller staying.
	routeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), routeTimeout)
	defer cancel()

	admission := &Admission{Event: event, Deliveries: []*models.Delivery{}}
	if deliveries := g.route(routeCtx, event, nil, logger); deliveries != nil {
		admission.Deliveries = deliveries
	}

	logger.Debug("Event admitted",
		logging.Int64("body_size", event.BodySize),
		logging.Int("deliveries", len(admission.Deliveries)),
	)
	return admission, nil
}

// route matches event, enqueues a delivery for every match not in existing
// and marks the event routed when nothing is left to create. Failures are
// logged; the event stays unrouted and Resume picks it up.
func (g *Gateway) route(ctx context.Context, event *models.Event, existing []*models.Delivery, logger logging.Logger) []*models.Delivery {
	matches, err := g.router.Match(ctx, event.SourceID, event.ContentType)
	if err != nil {
		logger.Error("Failed to route event", err)
		return nil
	}
	matches = withoutDelivered(matches, existing)

	var deliveries []*models.Delivery
	if len(matches) == 0 {
		logger.Debug("Event matched no new routes")
	} else {
		deliveries, err = g.dispatcher.Enqueue(ctx, event, matches, false)
		if err != nil {
			logger.Error("Failed to enqueue deliveries", err)
			return deliveries
		}
	}

	if err := g.events.MarkEventRouted(ctx, event.ID); err != nil {
		logger.Error("Failed to mark event routed", err)
		return deliveries
	}
	event.Routed = true
	return deliveries
}

// withoutDelivered drops matches whose route already has a delivery.
func withoutDelivered(matches []routing.Match, existing []*models.Delivery) []routing.Match {
	if len(existing) == 0 {
		return matches
	}
	seen := make(map[string]bool, len(existing))
	for _, delivery := range existing {
		seen[delivery.RouteID] = true
	}
	out := matches[:0:0]
	for _, match := range matches {
		if !seen[match.RouteID] {
			out = append(out, match)
		}
	}
	return out
}

// Resume routes events that were stored but never routed, typically once
// at start-up after the dispatcher has recovered pending deliveries. Routes
// that already have a delivery for an event are skipped. It returns how
// many events were resumed.
func (g *Gateway) Resume(ctx context.Context) (int, error) {
	events, err := g.events.ListUnroutedEvents(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list unrouted events: %w", err)
	}

	resumed := 0
	for _, event := range events {
		logger := g.logger.WithFields(
			logging.String("event_id", event.ID),
			logging.String("source_id", event.SourceID),
		)
		existing, err := g.events.ListDeliveries(ctx, event.ID)
		if err != nil {
			return resumed, fmt.Errorf("list deliveries of %s: %w", event.ID, err)
		}
		g.route(ctx, event, existing, logger)
		if event.Routed {
			resumed++
		}
	}

	if resumed > 0 {
		g.logger.Info("Resumed unrouted events", logging.Int("count", resumed))
	}
	return resumed, nil
}

func (g *Gateway) checkAddress(source *models.Source, addr netip.Addr) error {
	if len(source.IPAllowCIDRs) == 0 {
		return nil
	}
	prefixes, err := netutil.ParsePrefixes(source.IPAllowCIDRs)
	if err != nil {
		g.logger.Error("Source has an invalid allowlist", err, logging.String("source_id", source.ID))
		return errors.ForbiddenError("caller address not allowed")
	}
	if !netutil.Allowed(prefixes, addr) {
		return errors.ForbiddenError("caller address not allowed")
	}
	return nil
}

// readBody enforces limit before and while reading.
func readBody(req Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = models.DefaultMaxBodyBytes
	}
	if req.ContentLength > limit {
		return nil, errors.PayloadTooLargeError(limit)
	}
	if req.Body == nil {
		return []byte{}, nil
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("failed to read request body: %v", err))
	}
	if int64(len(body)) > limit {
		return nil, errors.PayloadTooLargeError(limit)
	}
	return body, nil
}

func (g *Gateway) lookupDuplicate(ctx context.Context, sourceID, key string) (*Admission, error) {
	existing, err := g.events.FindEventByIdempotencyKey(ctx, sourceID, key)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, nil
		}
		return nil, errors.UnavailableError("event store unavailable", err)
	}
	deliveries, err := g.events.ListDeliveries(ctx, existing.ID)
	if err != nil {
		return nil, errors.UnavailableError("event store unavailable", err)
	}
	return &Admission{Event: existing, Deliveries: deliveries, Duplicate: true}, nil
}

func (g *Gateway) newEvent(source *models.Source, req Request, body []byte, key string) *models.Event {
	sum := sha256.Sum256(body)
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	path := req.Path
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	event := &models.Event{
		ID:             utils.NewEventID(),
		SourceID:       source.ID,
		ReceivedAt:     g.clock.next(),
		Method:         method,
		Path:           path,
		Query:          req.Query,
		Headers:        storedHeaders(req.Headers, req.Token),
		Body:           body,
		ContentType:    req.Headers.Get("Content-Type"),
		BodySize:       int64(len(body)),
		BodySHA256:     hex.EncodeToString(sum[:]),
		IdempotencyKey: key,
	}
	if req.RemoteIP.IsValid() {
		event.RemoteIP = req.RemoteIP.String()
	}
	return event
}

// storedHeaders copies headers, dropping an Authorization header that
// carried the source token.
func storedHeaders(headers http.Header, token string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		if http.CanonicalHeaderKey(name) == "Authorization" && token != "" && bearerToken(values) == token {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func bearerToken(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return BearerToken(values[0])
}

// BearerToken extracts the token of an "Authorization: Bearer" value.
func BearerToken(value string) string {
	const prefix = "bearer "
	if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
		return strings.TrimSpace(value[len(prefix):])
	}
	return ""
}

// eventClock stamps events with strictly increasing times at microsecond
// precision, the resolution the stores keep.
type eventClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (c *eventClock) next() time.Time {
	t := c.now().UTC().Truncate(time.Microsecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
