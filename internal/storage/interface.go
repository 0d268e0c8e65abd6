// Package storage defines the persistence contracts of the relay: the
// configuration registry and the append-only event log.
package storage

import (
	"context"
	"time"

	"webhook-relay/internal/models"
)

// Listing limits for events.
const (
	DefaultEventLimit = 20
	MaxEventLimit     = 200
)

// RouteFilter narrows ListRoutes. Empty fields match everything.
type RouteFilter struct {
	SourceID      string
	DestinationID string
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	SourceID string
	Limit    int
}

// ClampLimit applies the default and maximum event listing limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultEventLimit
	}
	if limit > MaxEventLimit {
		return MaxEventLimit
	}
	return limit
}

// RegistryStore persists sources, destinations and routes. Lookups of
// missing records return a not_found AppError.
type RegistryStore interface {
	CreateSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	GetSourceByName(ctx context.Context, name string) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	UpdateSource(ctx context.Context, source *models.Source) error
	DeleteSource(ctx context.Context, id string) error

	// RetireToken records a rotated-out token hash so it is never issued again.
	RetireToken(ctx context.Context, tokenHash string) error
	IsTokenRetired(ctx context.Context, tokenHash string) (bool, error)

	CreateDestination(ctx context.Context, destination *models.Destination) error
	GetDestination(ctx context.Context, id string) (*models.Destination, error)
	GetDestinationByName(ctx context.Context, name string) (*models.Destination, error)
	ListDestinations(ctx context.Context) ([]*models.Destination, error)
	UpdateDestination(ctx context.Context, destination *models.Destination) error
	DeleteDestination(ctx context.Context, id string) error

	// CreateRoute assigns route.Seq, the creation order used as a tie-break.
	CreateRoute(ctx context.Context, route *models.Route) error
	GetRoute(ctx context.Context, id string) (*models.Route, error)
	ListRoutes(ctx context.Context, filter RouteFilter) ([]*models.Route, error)
	UpdateRoute(ctx context.Context, route *models.Route) error
	DeleteRoute(ctx context.Context, id string) error
}

// EventStore is the durable log of events and their delivery outcomes.
type EventStore interface {
	// AppendEvent stores an event. A duplicate (source, idempotency key)
	// yields a conflict AppError.
	AppendEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// ListEvents returns events most recent first.
	ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)
	FindEventByIdempotencyKey(ctx context.Context, sourceID, key string) (*models.Event, error)
	// MarkEventRouted records that the event's deliveries exist.
	MarkEventRouted(ctx context.Context, id string) error
	// ListUnroutedEvents returns events still waiting for routing, oldest
	// first. A limit of 0 means no limit.
	ListUnroutedEvents(ctx context.Context, limit int) ([]*models.Event, error)

	CreateDelivery(ctx context.Context, delivery *models.Delivery) error
	UpdateDelivery(ctx context.Context, delivery *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	ListDeliveries(ctx context.Context, eventID string) ([]*models.Delivery, error)
	ListPendingDeliveries(ctx context.Context, limit int) ([]*models.Delivery, error)

	RecordAttempt(ctx context.Context, attempt *models.Attempt) error
	ListAttempts(ctx context.Context, eventID string) ([]*models.Attempt, error)

	// PurgeEventsBefore deletes events received before cutoff together with
	// their deliveries and attempts. Events with a pending delivery, and
	// unrouted events, are kept.
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Storage is the full persistence surface of the relay.
type Storage interface {
	RegistryStore
	EventStore
	Ping(ctx context.Context) error
	Close() error
}
