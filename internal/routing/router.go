package routing

import (
	"context"
	"sort"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

// Match is one route selected for an event.
type Match struct {
	RouteID       string `json:"route_id"`
	DestinationID string `json:"destination_id"`
	Ord           int    `json:"ord"`
}

// RouteLister is the slice of the registry store the router reads.
type RouteLister interface {
	ListRoutes(ctx context.Context, filter storage.RouteFilter) ([]*models.Route, error)
}

// Router matches events to destinations.
type Router struct {
	routes   RouteLister
	patterns *PatternMatcher
	logger   logging.Logger
}

// NewRouter creates a router reading routes from routes.
func NewRouter(routes RouteLister, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Router{
		routes:   routes,
		patterns: NewPatternMatcher(),
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "router"}),
	}
}

// Match returns every active route of sourceID whose pattern accepts
// contentType, ordered by ord and then by creation.
func (r *Router) Match(ctx context.Context, sourceID, contentType string) ([]Match, error) {
	routes, err := r.routes.ListRoutes(ctx, storage.RouteFilter{SourceID: sourceID})
	if err != nil {
		return nil, err
	}

	selected := make([]*models.Route, 0, len(routes))
	for _, route := range routes {
		if route.Paused || route.SourceID != sourceID {
			continue
		}
		if r.patterns.Match(route.ContentTypeLike, contentType) {
			selected = append(selected, route)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Less(selected[j])
	})

	matches := make([]Match, len(selected))
	for i, route := range selected {
		matches[i] = Match{
			RouteID:       route.ID,
			DestinationID: route.DestinationID,
			Ord:           route.Ord,
		}
	}

	r.logger.Debug("Routes matched",
		logging.Field{Key: "source_id", Value: sourceID},
		logging.Field{Key: "content_type", Value: contentType},
		logging.Field{Key: "matches", Value: len(matches)},
	)
	return matches, nil
}

// DestinationIDs returns the destination of each match, in order.
func DestinationIDs(matches []Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.DestinationID
	}
	return ids
}
