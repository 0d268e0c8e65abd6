// Package memory is an in-process Storage used for tests and single-node
// deployments that can afford to lose history on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/config"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

func init() {
	storage.Register("memory", func(cfg *config.Config) (storage.Storage, error) {
		return New(), nil
	})
}

// Store keeps every record in maps guarded by one RWMutex. Records are
// copied on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	seq int64

	sources       map[string]*models.Source
	sourceOrder   []string
	retiredTokens map[string]struct{}

	destinations     map[string]*models.Destination
	destinationOrder []string

	routes     map[string]*models.Route
	routeOrder []string

	events      map[string]*storedEvent
	eventOrder  []string
	idempotency map[string]string

	deliveries    map[string]*models.Delivery
	deliveryOrder []string
	attempts      map[string][]*models.Attempt

	closed bool
}

type storedEvent struct {
	event *models.Event
	seq   int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sources:       make(map[string]*models.Source),
		retiredTokens: make(map[string]struct{}),
		destinations:  make(map[string]*models.Destination),
		routes:        make(map[string]*models.Route),
		events:        make(map[string]*storedEvent),
		idempotency:   make(map[string]string),
		deliveries:    make(map[string]*models.Delivery),
		attempts:      make(map[string][]*models.Attempt),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Store) checkOpen() error {
	if s.closed {
		return errors.UnavailableError("memory store is closed", nil)
	}
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkOpen()
}

// Close marks the store closed; later calls fail with unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Sources

func (s *Store) CreateSource(ctx context.Context, source *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.sources[source.ID]; exists {
		return errors.ConflictError("source id already exists")
	}
	for _, existing := range s.sources {
		if existing.Name == source.Name {
			return errors.ConflictError("source name already exists")
		}
		if existing.Token == source.Token {
			return errors.ConflictError("source token already exists")
		}
	}
	s.sources[source.ID] = cloneSource(source)
	s.sourceOrder = append(s.sourceOrder, source.ID)
	return nil
}

func (s *Store) GetSource(ctx context.Context, id string) (*models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	source, ok := s.sources[id]
	if !ok {
		return nil, errors.NotFoundError("source")
	}
	return cloneSource(source), nil
}

func (s *Store) GetSourceByName(ctx context.Context, name string) (*models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	for _, id := range s.sourceOrder {
		if s.sources[id].Name == name {
			return cloneSource(s.sources[id]), nil
		}
	}
	return nil, errors.NotFoundError("source")
}

func (s *Store) ListSources(ctx context.Context) ([]*models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.Source, 0, len(s.sourceOrder))
	for _, id := range s.sourceOrder {
		out = append(out, cloneSource(s.sources[id]))
	}
	return out, nil
}

func (s *Store) UpdateSource(ctx context.Context, source *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.sources[source.ID]; !ok {
		return errors.NotFoundError("source")
	}
	for id, existing := range s.sources {
		if id == source.ID {
			continue
		}
		if existing.Name == source.Name {
			return errors.ConflictError("source name already exists")
		}
		if existing.Token == source.Token {
			return errors.ConflictError("source token already exists")
		}
	}
	s.sources[source.ID] = cloneSource(source)
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.sources[id]; !ok {
		return errors.NotFoundError("source")
	}
	delete(s.sources, id)
	s.sourceOrder = removeID(s.sourceOrder, id)
	return nil
}

func (s *Store) RetireToken(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.retiredTokens[tokenHash] = struct{}{}
	return nil
}

func (s *Store) IsTokenRetired(ctx context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	_, retired := s.retiredTokens[tokenHash]
	return retired, nil
}

// Destinations

func (s *Store) CreateDestination(ctx context.Context, destination *models.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.destinations[destination.ID]; exists {
		return errors.ConflictError("destination id already exists")
	}
	for _, existing := range s.destinations {
		if existing.Name == destination.Name {
			return errors.ConflictError("destination name already exists")
		}
	}
	s.destinations[destination.ID] = cloneDestination(destination)
	s.destinationOrder = append(s.destinationOrder, destination.ID)
	return nil
}

func (s *Store) GetDestination(ctx context.Context, id string) (*models.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	destination, ok := s.destinations[id]
	if !ok {
		return nil, errors.NotFoundError("destination")
	}
	return cloneDestination(destination), nil
}

func (s *Store) GetDestinationByName(ctx context.Context, name string) (*models.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	for _, id := range s.destinationOrder {
		if s.destinations[id].Name == name {
			return cloneDestination(s.destinations[id]), nil
		}
	}
	return nil, errors.NotFoundError("destination")
}

func (s *Store) ListDestinations(ctx context.Context) ([]*models.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.Destination, 0, len(s.destinationOrder))
	for _, id := range s.destinationOrder {
		out = append(out, cloneDestination(s.destinations[id]))
	}
	return out, nil
}

func (s *Store) UpdateDestination(ctx context.Context, destination *models.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.destinations[destination.ID]; !ok {
		return errors.NotFoundError("destination")
	}
	for id, existing := range s.destinations {
		if id != destination.ID && existing.Name == destination.Name {
			return errors.ConflictError("destination name already exists")
		}
	}
	s.destinations[destination.ID] = cloneDestination(destination)
	return nil
}

func (s *Store) DeleteDestination(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.destinations[id]; !ok {
		return errors.NotFoundError("destination")
	}
	delete(s.destinations, id)
	s.destinationOrder = removeID(s.destinationOrder, id)
	return nil
}

// Routes

func (s *Store) CreateRoute(ctx context.Context, route *models.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.routes[route.ID]; exists {
		return errors.ConflictError("route id already exists")
	}
	route.Seq = s.nextSeq()
	s.routes[route.ID] = cloneRoute(route)
	s.routeOrder = append(s.routeOrder, route.ID)
	return nil
}

func (s *Store) GetRoute(ctx context.Context, id string) (*models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	route, ok := s.routes[id]
	if !ok {
		return nil, errors.NotFoundError("route")
	}
	return cloneRoute(route), nil
}

func (s *Store) ListRoutes(ctx context.Context, filter storage.RouteFilter) ([]*models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.Route, 0)
	for _, id := range s.routeOrder {
		route := s.routes[id]
		if filter.SourceID != "" && route.SourceID != filter.SourceID {
			continue
		}
		if filter.DestinationID != "" && route.DestinationID != filter.DestinationID {
			continue
		}
		out = append(out, cloneRoute(route))
	}
	return out, nil
}

func (s *Store) UpdateRoute(ctx context.Context, route *models.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	existing, ok := s.routes[route.ID]
	if !ok {
		return errors.NotFoundError("route")
	}
	updated := cloneRoute(route)
	updated.Seq = existing.Seq
	updated.CreatedAt = existing.CreatedAt
	s.routes[route.ID] = updated
	return nil
}

func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.routes[id]; !ok {
		return errors.NotFoundError("route")
	}
	delete(s.routes, id)
	s.routeOrder = removeID(s.routeOrder, id)
	return nil
}

// Events

func idempotencyIndex(sourceID, key string) string {
	return sourceID + "\x00" + key
}

func (s *Store) AppendEvent(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, exists := s.events[event.ID]; exists {
		return errors.ConflictError("event id already exists")
	}
	if event.IdempotencyKey != "" {
		index := idempotencyIndex(event.SourceID, event.IdempotencyKey)
		if _, exists := s.idempotency[index]; exists {
			return errors.ConflictError("idempotency key already used")
		}
		s.idempotency[index] = event.ID
	}
	s.events[event.ID] = &storedEvent{event: cloneEvent(event), seq: s.nextSeq()}
	s.eventOrder = append(s.eventOrder, event.ID)
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stored, ok := s.events[id]
	if !ok {
		return nil, errors.NotFoundError("event")
	}
	return cloneEvent(stored.event), nil
}

func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	matched := make([]*storedEvent, 0)
	for _, id := range s.eventOrder {
		stored := s.events[id]
		if filter.SourceID != "" && stored.event.SourceID != filter.SourceID {
			continue
		}
		matched = append(matched, stored)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.event.ReceivedAt.Equal(b.event.ReceivedAt) {
			return a.event.ReceivedAt.After(b.event.ReceivedAt)
		}
		return a.seq > b.seq
	})

	limit := storage.ClampLimit(filter.Limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*models.Event, len(matched))
	for i, stored := range matched {
		out[i] = cloneEvent(stored.event)
	}
	return out, nil
}

func (s *Store) MarkEventRouted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	stored, ok := s.events[id]
	if !ok {
		return errors.NotFoundError("event")
	}
	stored.event.Routed = true
	return nil
}

// ListUnroutedEvents walks events in append order.
func (s *Store) ListUnroutedEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.Event, 0)
	for _, id := range s.eventOrder {
		stored := s.events[id]
		if stored.event.Routed {
			continue
		}
		out = append(out, cloneEvent(stored.event))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) FindEventByIdempotencyKey(ctx context.Context, sourceID, key string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	id, ok := s.idempotency[idempotencyIndex(sourceID, key)]
	if !ok {
		return nil, errors.NotFoundError("event")
	}
	return cloneEvent(s.events[id].event), nil
}

// Deliveries

func (s *Store) CreateDelivery(ctx context.Context, delivery *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.events[delivery.EventID]; !ok {
		return errors.NotFoundError("event")
	}
	if _, exists := s.deliveries[delivery.ID]; exists {
		return errors.ConflictError("delivery id already exists")
	}
	copied := *delivery
	s.deliveries[delivery.ID] = &copied
	s.deliveryOrder = append(s.deliveryOrder, delivery.ID)
	return nil
}

func (s *Store) UpdateDelivery(ctx context.Context, delivery *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	existing, ok := s.deliveries[delivery.ID]
	if !ok {
		return errors.NotFoundError("delivery")
	}
	copied := *delivery
	copied.EventID = existing.EventID
	copied.DestinationID = existing.DestinationID
	copied.CreatedAt = existing.CreatedAt
	s.deliveries[delivery.ID] = &copied
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	delivery, ok := s.deliveries[id]
	if !ok {
		return nil, errors.NotFoundError("delivery")
	}
	copied := *delivery
	return &copied, nil
}

func (s *Store) ListDeliveries(ctx context.Context, eventID string) ([]*models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.Delivery, 0)
	for _, id := range s.deliveryOrder {
		delivery := s.deliveries[id]
		if delivery.EventID == eventID {
			copied := *delivery
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) ListPendingDeliveries(ctx context.Context, limit int) ([]*models.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*models.Delivery, 0)
	for _, id := range s.deliveryOrder {
		delivery := s.deliveries[id]
		if delivery.Outcome != models.OutcomePending {
			continue
		}
		copied := *delivery
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RecordAttempt(ctx context.Context, attempt *models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.events[attempt.EventID]; !ok {
		return errors.NotFoundError("event")
	}
	copied := *attempt
	s.attempts[attempt.EventID] = append(s.attempts[attempt.EventID], &copied)
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, eventID string) ([]*models.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stored := s.attempts[eventID]
	out := make([]*models.Attempt, len(stored))
	for i, attempt := range stored {
		copied := *attempt
		out[i] = &copied
	}
	return out, nil
}

func (s *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	pending := make(map[string]bool)
	for _, delivery := range s.deliveries {
		if delivery.Outcome == models.OutcomePending {
			pending[delivery.EventID] = true
		}
	}

	var purged int64
	kept := s.eventOrder[:0]
	for _, id := range s.eventOrder {
		stored := s.events[id]
		if !stored.event.ReceivedAt.Before(cutoff) || pending[id] || !stored.event.Routed {
			kept = append(kept, id)
			continue
		}
		if stored.event.IdempotencyKey != "" {
			delete(s.idempotency, idempotencyIndex(stored.event.SourceID, stored.event.IdempotencyKey))
		}
		delete(s.events, id)
		delete(s.attempts, id)
		purged++
	}
	s.eventOrder = kept

	if purged > 0 {
		keptDeliveries := s.deliveryOrder[:0]
		for _, id := range s.deliveryOrder {
			if _, ok := s.events[s.deliveries[id].EventID]; ok {
				keptDeliveries = append(keptDeliveries, id)
				continue
			}
			delete(s.deliveries, id)
		}
		s.deliveryOrder = keptDeliveries
	}

	return purged, nil
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
