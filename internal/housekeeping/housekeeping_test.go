package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/common/utils"
	"webhook-relay/internal/locks"
	"webhook-relay/internal/models"
	"webhook-relay/internal/redis"
	"webhook-relay/internal/storage/memory"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func appendEvent(t *testing.T, store *memory.Store, receivedAt time.Time, outcome models.Outcome) *models.Event {
	t.Helper()
	ctx := context.Background()
	event := &models.Event{
		ID:         utils.NewEventID(),
		SourceID:   "src_1",
		ReceivedAt: receivedAt,
		Method:     "POST",
		Path:       "/",
		Body:       []byte("{}"),
		Routed:     true,
	}
	require.NoError(t, store.AppendEvent(ctx, event))
	if outcome != "" {
		require.NoError(t, store.CreateDelivery(ctx, &models.Delivery{
			ID:            utils.NewEventID(),
			EventID:       event.ID,
			DestinationID: "dst_1",
			Outcome:       outcome,
			CreatedAt:     receivedAt,
			UpdatedAt:     receivedAt,
		}))
	}
	return event
}

func newService(t *testing.T, store *memory.Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.NewNopLogger()),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	svc, err := New(Config{Schedule: "@every 1h", RetentionDays: 7}, store, locks.NewLocalManager(), opts...)
	require.NoError(t, err)
	return svc
}

func TestRunOnce_PurgesExpiredEvents(t *testing.T) {
	store := memory.New()
	old := appendEvent(t, store, fixedNow.Add(-8*24*time.Hour), models.OutcomeDelivered)
	pending := appendEvent(t, store, fixedNow.Add(-9*24*time.Hour), models.OutcomePending)
	recent := appendEvent(t, store, fixedNow.Add(-24*time.Hour), "")

	svc := newService(t, store)
	run, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.Purged)
	assert.Equal(t, fixedNow.Add(-7*24*time.Hour), run.Cutoff)
	assert.Empty(t, run.Error)

	ctx := context.Background()
	_, err = store.GetEvent(ctx, old.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	_, err = store.GetEvent(ctx, pending.ID)
	assert.NoError(t, err, "events with pending deliveries are kept")
	_, err = store.GetEvent(ctx, recent.ID)
	assert.NoError(t, err)

	last := svc.LastRun(ctx)
	require.NotNil(t, last)
	assert.Equal(t, int64(1), last.Purged)
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	store := memory.New()
	appendEvent(t, store, fixedNow.Add(-30*24*time.Hour), "")
	manager := locks.NewLocalManager()

	held, err := manager.TryAcquire(context.Background(), lockKey, time.Minute)
	require.NoError(t, err)
	defer held.Release(context.Background())

	svc, err := New(Config{Schedule: "@every 1h", RetentionDays: 7}, store, manager,
		WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	_, err = svc.RunOnce(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
	assert.Nil(t, svc.LastRun(context.Background()))
}

func TestRunOnce_ReleasesLock(t *testing.T) {
	svc := newService(t, memory.New())

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = svc.RunOnce(context.Background())
	require.NoError(t, err, "the lock is released after each run")
}

func TestRunOnce_StoreUnavailable(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	require.NoError(t, store.Close())

	run, err := svc.RunOnce(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))
	require.NotNil(t, run)
	assert.NotEmpty(t, run.Error)
}

func TestRunOnce_RetentionDisabled(t *testing.T) {
	svc, err := New(Config{Schedule: "@every 1h"}, memory.New(), nil, WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	_, err = svc.RunOnce(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestLastRun_SharedThroughRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	defer client.Close()

	store := memory.New()
	appendEvent(t, store, fixedNow.Add(-10*24*time.Hour), "")

	writer := newService(t, store, WithState(client))
	_, err = writer.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Exists(stateKey))

	reader := newService(t, memory.New(), WithState(client))
	last := reader.LastRun(context.Background())
	require.NotNil(t, last)
	assert.Equal(t, int64(1), last.Purged)
	assert.True(t, last.StartedAt.Equal(fixedNow))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Schedule: "every hour", RetentionDays: 7}, memory.New(), nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = New(Config{Schedule: "@every 1h", RetentionDays: -1}, memory.New(), nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = New(Config{Schedule: "@every 1h", RetentionDays: 7}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestStartStop(t *testing.T) {
	svc := newService(t, memory.New())
	svc.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.Stop(ctx))
}
