// Package storagetest holds the behaviour every storage.Storage
// implementation must share. Adapters run it from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/models"
	"webhook-relay/internal/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Run executes the full conformance suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"SourceCRUD", testSourceCRUD},
		{"SourceUniqueName", testSourceUniqueName},
		{"RetiredTokens", testRetiredTokens},
		{"DestinationCRUD", testDestinationCRUD},
		{"RouteCRUDAndSeq", testRouteCRUDAndSeq},
		{"RouteFilter", testRouteFilter},
		{"AppendAndGetEvent", testAppendAndGetEvent},
		{"IdempotencyConflict", testIdempotencyConflict},
		{"ListEventsOrderAndLimit", testListEventsOrderAndLimit},
		{"Deliveries", testDeliveries},
		{"DeliveryForMissingEvent", testDeliveryForMissingEvent},
		{"Attempts", testAttempts},
		{"Purge", testPurge},
		{"UnroutedEvents", testUnroutedEvents},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSource(id, name string) *models.Source {
	return &models.Source{
		ID:           id,
		Name:         name,
		Token:        "tok-" + id,
		MaxBodyBytes: models.DefaultMaxBodyBytes,
		IPAllowCIDRs: []string{"10.0.0.0/8"},
		Enabled:      true,
		CreatedAt:    base,
	}
}

func newDestination(id, name string) *models.Destination {
	return &models.Destination{
		ID:                  id,
		Name:                name,
		URL:                 "https://example.com/hook",
		Headers:             map[string]string{"X-Team": "payments"},
		MaxRPS:              2.5,
		Burst:               4,
		MaxInflight:         3,
		AppendPath:          true,
		TimeoutSeconds:      15,
		ConnectTimeoutSecs:  5,
		VerifyTLS:           true,
		BreakerFailureRatio: 0.5,
		BreakerMinRequests:  20,
		BreakerCooldownSecs: 60,
		CreatedAt:           base,
		UpdatedAt:           base,
	}
}

func newEvent(id, sourceID string, receivedAt time.Time) *models.Event {
	return &models.Event{
		ID:          id,
		SourceID:    sourceID,
		ReceivedAt:  receivedAt,
		Method:      "POST",
		Path:        "/orders",
		Query:       "a=1",
		Headers:     map[string][]string{"Content-Type": {"application/json"}},
		Body:        []byte(`{"ok":true}`),
		ContentType: "application/json",
		BodySize:    11,
		BodySHA256:  "abc",
		RemoteIP:    "10.1.2.3",
		Routed:      true,
	}
}

func testSourceCRUD(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	src := newSource("s1", "shop")
	require.NoError(t, s.CreateSource(ctx, src))

	got, err := s.GetSource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "shop", got.Name)
	assert.Equal(t, "tok-s1", got.Token)
	assert.Equal(t, []string{"10.0.0.0/8"}, got.IPAllowCIDRs)
	assert.True(t, got.Enabled)
	assert.True(t, base.Equal(got.CreatedAt))

	byName, err := s.GetSourceByName(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, "s1", byName.ID)

	got.Enabled = false
	got.Token = "tok-rotated"
	require.NoError(t, s.UpdateSource(ctx, got))
	updated, err := s.GetSource(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "tok-rotated", updated.Token)

	require.NoError(t, s.CreateSource(ctx, newSource("s2", "crm")))
	list, err := s.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)

	require.NoError(t, s.DeleteSource(ctx, "s1"))
	_, err = s.GetSource(ctx, "s1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	assert.True(t, errors.IsType(s.DeleteSource(ctx, "s1"), errors.ErrTypeNotFound))
	assert.True(t, errors.IsType(s.UpdateSource(ctx, newSource("nope", "x")), errors.ErrTypeNotFound))
}

func testSourceUniqueName(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.CreateSource(ctx, newSource("s1", "shop")))
	dup := newSource("s2", "shop")
	err := s.CreateSource(ctx, dup)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict), "got %v", err)
}

func testRetiredTokens(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	retired, err := s.IsTokenRetired(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, retired)

	require.NoError(t, s.RetireToken(ctx, "h1"))
	require.NoError(t, s.RetireToken(ctx, "h1"))

	retired, err = s.IsTokenRetired(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, retired)
}

func testDestinationCRUD(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	dst := newDestination("d1", "billing")
	dst.Secret = "shh"
	require.NoError(t, s.CreateDestination(ctx, dst))

	got, err := s.GetDestination(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", got.URL)
	assert.Equal(t, map[string]string{"X-Team": "payments"}, got.Headers)
	assert.InDelta(t, 2.5, got.MaxRPS, 1e-9)
	assert.Equal(t, 4, got.Burst)
	assert.Equal(t, 3, got.MaxInflight)
	assert.True(t, got.AppendPath)
	assert.True(t, got.VerifyTLS)
	assert.Equal(t, "shh", got.Secret)

	byName, err := s.GetDestinationByName(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "d1", byName.ID)

	got.MaxRPS = 10
	got.URL = "https://example.com/v2"
	got.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, s.UpdateDestination(ctx, got))
	updated, err := s.GetDestination(ctx, "d1")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, updated.MaxRPS, 1e-9)
	assert.Equal(t, "https://example.com/v2", updated.URL)
	assert.True(t, base.Add(time.Minute).Equal(updated.UpdatedAt))

	err = s.CreateDestination(ctx, newDestination("d2", "billing"))
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))

	list, err := s.ListDestinations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteDestination(ctx, "d1"))
	_, err = s.GetDestinationByName(ctx, "billing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testRouteCRUDAndSeq(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	pattern := "application/*"
	first := &models.Route{ID: "r1", SourceID: "s1", DestinationID: "d1", ContentTypeLike: &pattern, CreatedAt: base}
	second := &models.Route{ID: "r2", SourceID: "s1", DestinationID: "d2", Ord: 5, CreatedAt: base}
	require.NoError(t, s.CreateRoute(ctx, first))
	require.NoError(t, s.CreateRoute(ctx, second))
	assert.Greater(t, second.Seq, first.Seq)

	got, err := s.GetRoute(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.ContentTypeLike)
	assert.Equal(t, "application/*", *got.ContentTypeLike)
	assert.Equal(t, first.Seq, got.Seq)

	noPattern, err := s.GetRoute(ctx, "r2")
	require.NoError(t, err)
	assert.Nil(t, noPattern.ContentTypeLike)

	got.Paused = true
	got.Ord = 9
	got.ContentTypeLike = nil
	require.NoError(t, s.UpdateRoute(ctx, got))
	updated, err := s.GetRoute(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, updated.Paused)
	assert.Equal(t, 9, updated.Ord)
	assert.Nil(t, updated.ContentTypeLike)
	assert.Equal(t, first.Seq, updated.Seq)

	require.NoError(t, s.DeleteRoute(ctx, "r1"))
	_, err = s.GetRoute(ctx, "r1")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testRouteFilter(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for _, r := range []*models.Route{
		{ID: "r1", SourceID: "s1", DestinationID: "d1", CreatedAt: base},
		{ID: "r2", SourceID: "s1", DestinationID: "d2", CreatedAt: base},
		{ID: "r3", SourceID: "s2", DestinationID: "d1", CreatedAt: base},
	} {
		require.NoError(t, s.CreateRoute(ctx, r))
	}

	all, err := s.ListRoutes(ctx, storage.RouteFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bySource, err := s.ListRoutes(ctx, storage.RouteFilter{SourceID: "s1"})
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	byDest, err := s.ListRoutes(ctx, storage.RouteFilter{DestinationID: "d1"})
	require.NoError(t, err)
	require.Len(t, byDest, 2)
	assert.Equal(t, "r1", byDest[0].ID)
	assert.Equal(t, "r3", byDest[1].ID)

	both, err := s.ListRoutes(ctx, storage.RouteFilter{SourceID: "s2", DestinationID: "d1"})
	require.NoError(t, err)
	assert.Len(t, both, 1)
}

func testAppendAndGetEvent(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	received := base.Add(123456 * time.Microsecond)
	evt := newEvent("e1", "s1", received)
	require.NoError(t, s.AppendEvent(ctx, evt))

	got, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, evt.Body, got.Body)
	assert.Equal(t, evt.Headers, got.Headers)
	assert.Equal(t, "a=1", got.Query)
	assert.Equal(t, "10.1.2.3", got.RemoteIP)
	assert.True(t, received.Equal(got.ReceivedAt))
	assert.Empty(t, got.IdempotencyKey)

	_, err = s.GetEvent(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testIdempotencyConflict(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	first := newEvent("e1", "s1", base)
	first.IdempotencyKey = "k1"
	require.NoError(t, s.AppendEvent(ctx, first))

	dup := newEvent("e2", "s1", base)
	dup.IdempotencyKey = "k1"
	err := s.AppendEvent(ctx, dup)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict), "got %v", err)

	other := newEvent("e3", "s2", base)
	other.IdempotencyKey = "k1"
	require.NoError(t, s.AppendEvent(ctx, other), "keys are scoped per source")

	found, err := s.FindEventByIdempotencyKey(ctx, "s1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "e1", found.ID)

	_, err = s.FindEventByIdempotencyKey(ctx, "s1", "k2")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testListEventsOrderAndLimit(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.AppendEvent(ctx, newEvent(id, "s1", base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.AppendEvent(ctx, newEvent("e4", "s2", base.Add(10*time.Second))))

	all, err := s.ListEvents(ctx, storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "e4", all[0].ID)
	assert.Equal(t, "e1", all[3].ID)

	limited, err := s.ListEvents(ctx, storage.EventFilter{SourceID: "s1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "e3", limited[0].ID)
	assert.Equal(t, "e2", limited[1].ID)
}

func testDeliveries(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, newEvent("e1", "s1", base)))

	d1 := &models.Delivery{ID: "dl1", EventID: "e1", DestinationID: "d1", RouteID: "r1",
		Outcome: models.OutcomePending, CreatedAt: base, UpdatedAt: base}
	d2 := &models.Delivery{ID: "dl2", EventID: "e1", DestinationID: "d2", RouteID: "r2",
		Outcome: models.OutcomePending, CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateDelivery(ctx, d1))
	require.NoError(t, s.CreateDelivery(ctx, d2))

	d1.AttemptCount = 1
	d1.LastStatus = 200
	d1.Outcome = models.OutcomeDelivered
	d1.UpdatedAt = base.Add(time.Second)
	require.NoError(t, s.UpdateDelivery(ctx, d1))

	got, err := s.GetDelivery(ctx, "dl1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDelivered, got.Outcome)
	assert.Equal(t, 200, got.LastStatus)
	assert.Equal(t, 1, got.AttemptCount)

	list, err := s.ListDeliveries(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dl1", list[0].ID)

	pending, err := s.ListPendingDeliveries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dl2", pending[0].ID)

	assert.True(t, errors.IsType(s.UpdateDelivery(ctx, &models.Delivery{ID: "nope"}), errors.ErrTypeNotFound))
}

func testDeliveryForMissingEvent(t *testing.T, s storage.Storage) {
	err := s.CreateDelivery(context.Background(), &models.Delivery{
		ID: "dl1", EventID: "ghost", DestinationID: "d1", Outcome: models.OutcomePending,
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testAttempts(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, newEvent("e1", "s1", base)))

	for i := 1; i <= 2; i++ {
		require.NoError(t, s.RecordAttempt(ctx, &models.Attempt{
			ID:              "a" + string(rune('0'+i)),
			DeliveryID:      "dl1",
			EventID:         "e1",
			DestinationID:   "d1",
			AttemptNo:       i,
			StatusCode:      500 + i,
			ResponseSnippet: "oops",
			DurationMs:      12,
			AttemptedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	attempts, err := s.ListAttempts(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].AttemptNo)
	assert.Equal(t, 502, attempts[1].StatusCode)
	assert.Equal(t, "oops", attempts[0].ResponseSnippet)

	empty, err := s.ListAttempts(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testPurge(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	old := newEvent("old", "s1", base.Add(-48*time.Hour))
	old.IdempotencyKey = "k-old"
	require.NoError(t, s.AppendEvent(ctx, old))
	require.NoError(t, s.AppendEvent(ctx, newEvent("stuck", "s1", base.Add(-48*time.Hour))))
	require.NoError(t, s.AppendEvent(ctx, newEvent("fresh", "s1", base)))
	unrouted := newEvent("unrouted", "s1", base.Add(-48*time.Hour))
	unrouted.Routed = false
	require.NoError(t, s.AppendEvent(ctx, unrouted))

	require.NoError(t, s.CreateDelivery(ctx, &models.Delivery{ID: "dl-old", EventID: "old", DestinationID: "d1",
		Outcome: models.OutcomeDelivered, CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, s.RecordAttempt(ctx, &models.Attempt{ID: "a-old", DeliveryID: "dl-old", EventID: "old",
		DestinationID: "d1", AttemptNo: 1, StatusCode: 200, AttemptedAt: base}))
	require.NoError(t, s.CreateDelivery(ctx, &models.Delivery{ID: "dl-stuck", EventID: "stuck", DestinationID: "d1",
		Outcome: models.OutcomePending, CreatedAt: base, UpdatedAt: base}))

	purged, err := s.PurgeEventsBefore(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = s.GetEvent(ctx, "old")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	_, err = s.GetDelivery(ctx, "dl-old")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	attempts, err := s.ListAttempts(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, attempts)

	_, err = s.GetEvent(ctx, "stuck")
	assert.NoError(t, err, "events with pending deliveries survive")
	_, err = s.GetEvent(ctx, "fresh")
	assert.NoError(t, err)
	_, err = s.GetEvent(ctx, "unrouted")
	assert.NoError(t, err, "unrouted events survive")

	reused := newEvent("reuse", "s1", base)
	reused.IdempotencyKey = "k-old"
	assert.NoError(t, s.AppendEvent(ctx, reused), "purged keys can be used again")
}

func testUnroutedEvents(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i, id := range []string{"e1", "e2", "e3"} {
		evt := newEvent(id, "s1", base.Add(time.Duration(i)*time.Second))
		evt.Routed = id == "e2"
		require.NoError(t, s.AppendEvent(ctx, evt))
	}

	unrouted, err := s.ListUnroutedEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unrouted, 2)
	assert.Equal(t, "e1", unrouted[0].ID)
	assert.Equal(t, "e3", unrouted[1].ID)
	assert.False(t, unrouted[0].Routed)

	limited, err := s.ListUnroutedEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "e1", limited[0].ID)

	require.NoError(t, s.MarkEventRouted(ctx, "e1"))
	require.NoError(t, s.MarkEventRouted(ctx, "e1"), "marking twice is harmless")
	got, err := s.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, got.Routed)

	unrouted, err = s.ListUnroutedEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, unrouted, 1)
	assert.Equal(t, "e3", unrouted[0].ID)

	err = s.MarkEventRouted(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testPing(t *testing.T, s storage.Storage) {
	assert.NoError(t, s.Ping(context.Background()))
}
