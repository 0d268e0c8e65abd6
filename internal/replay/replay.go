// Package replay re-submits stored events through the router and the
// dispatcher using the current route configuration.
package replay

import (
	"context"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/models"
	"webhook-relay/internal/routing"
)

// EventLoader fetches a stored event.
type EventLoader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Matcher selects the routes of an event.
type Matcher interface {
	Match(ctx context.Context, sourceID, contentType string) ([]routing.Match, error)
}

// Enqueuer hands deliveries to the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, event *models.Event, matches []routing.Match, replay bool) ([]*models.Delivery, error)
}

// Result lists the deliveries a replay created.
type Result struct {
	EventID    string             `json:"event_id"`
	Deliveries []*models.Delivery `json:"deliveries"`
}

// Engine replays events.
type Engine struct {
	events     EventLoader
	router     Matcher
	dispatcher Enqueuer
	logger     logging.Logger
}

// NewEngine creates an Engine.
func NewEngine(events EventLoader, router Matcher, dispatcher Enqueuer, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Component("replay")
	}
	return &Engine{events: events, router: router, dispatcher: dispatcher, logger: logger}
}

// Replay routes the stored event eventID again. Routes and destinations are
// read as they are now, so configuration changes since the original
// receipt apply. The event itself is never modified.
func (e *Engine) Replay(ctx context.Context, eventID string) (*Result, error) {
	event, err := e.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil, errors.NotFoundError("event")
		}
		return nil, errors.UnavailableError("event store unavailable", err)
	}

	matches, err := e.router.Match(ctx, event.SourceID, event.ContentType)
	if err != nil {
		return nil, errors.UnavailableError("failed to load routes", err)
	}

	result := &Result{EventID: event.ID, Deliveries: []*models.Delivery{}}
	if len(matches) == 0 {
		e.logger.Info("Replay matched no routes", logging.String("event_id", event.ID))
		return result, nil
	}

	deliveries, err := e.dispatcher.Enqueue(ctx, event, matches, true)
	if deliveries != nil {
		result.Deliveries = deliveries
	}
	if err != nil {
		e.logger.Error("Replay enqueue incomplete", err,
			logging.String("event_id", event.ID),
			logging.Int("created", len(result.Deliveries)),
		)
		if len(result.Deliveries) == 0 {
			return nil, err
		}
	}

	e.logger.Info("Event replayed",
		logging.String("event_id", event.ID),
		logging.Int("deliveries", len(result.Deliveries)),
	)
	return result, nil
}
