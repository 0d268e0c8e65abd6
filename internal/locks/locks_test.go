package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/redis"
)

func setupRedsync(t *testing.T) (*RedsyncManager, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	manager, err := NewRedsyncManager(client, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager, s
}

func TestRedsyncManager_TryAcquire(t *testing.T) {
	manager, s := setupRedsync(t)
	ctx := context.Background()

	lock, err := manager.TryAcquire(ctx, "housekeeping", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "housekeeping", lock.Key())
	assert.True(t, lock.IsHeld())
	assert.True(t, s.Exists(keyPrefix+"housekeeping"))

	_, err = manager.TryAcquire(ctx, "housekeeping", 30*time.Second)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))

	require.NoError(t, lock.Extend(ctx))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, lock.IsHeld())
	assert.False(t, s.Exists(keyPrefix+"housekeeping"))
	assert.NoError(t, lock.Release(ctx), "release is idempotent")

	again, err := manager.TryAcquire(ctx, "housekeeping", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedsyncManager_SeparateInstancesExclude(t *testing.T) {
	first, s := setupRedsync(t)

	client, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	defer client.Close()
	second, err := NewRedsyncManager(client, logging.NewNopLogger())
	require.NoError(t, err)

	ctx := context.Background()
	lock, err := first.TryAcquire(ctx, "purge", time.Minute)
	require.NoError(t, err)

	_, err = second.TryAcquire(ctx, "purge", time.Minute)
	assert.Error(t, err)

	require.NoError(t, first.Close())
	assert.False(t, lock.IsHeld())

	taken, err := second.TryAcquire(ctx, "purge", time.Minute)
	require.NoError(t, err)
	require.NoError(t, taken.Release(ctx))
}

func TestNewRedsyncManager_RequiresClient(t *testing.T) {
	_, err := NewRedsyncManager(nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestNewManager_FallsBackToLocal(t *testing.T) {
	manager := NewManager(nil, logging.NewNopLogger())
	_, ok := manager.(*LocalManager)
	assert.True(t, ok)
}

func TestLocalManager(t *testing.T) {
	manager := NewLocalManager()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return now }
	ctx := context.Background()

	lock, err := manager.TryAcquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, lock.IsHeld())

	_, err = manager.TryAcquire(ctx, "job", time.Minute)
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))

	now = now.Add(30 * time.Second)
	require.NoError(t, lock.Extend(ctx))
	now = now.Add(45 * time.Second)
	assert.True(t, lock.IsHeld(), "extension moved the expiry")

	now = now.Add(time.Minute)
	assert.False(t, lock.IsHeld())
	assert.Error(t, lock.Extend(ctx))

	taken, err := manager.TryAcquire(ctx, "job", time.Minute)
	require.NoError(t, err, "an expired lock can be taken over")

	require.NoError(t, lock.Release(ctx))
	assert.True(t, taken.IsHeld(), "a stale holder cannot release the new one")
	require.NoError(t, taken.Release(ctx))
	assert.False(t, taken.IsHeld())
}

func TestLocalManager_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalManager().TryAcquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenewInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, renewInterval(30*time.Second))
	assert.Equal(t, time.Second, renewInterval(time.Second))
}
