package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("sets default pool size", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
		assert.NotNil(t, client.Redis())
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}

func TestClient_Health(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Health())

	mr.Close()
	assert.Error(t, client.Health())
}

func TestClient_KeyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "plain", "value", 0))
	got, err := client.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	type state struct {
		Purged int64 `json:"purged"`
	}
	require.NoError(t, client.Set(ctx, "json", state{Purged: 7}, time.Minute))
	var decoded state
	require.NoError(t, client.GetJSON(ctx, "json", &decoded))
	assert.Equal(t, int64(7), decoded.Purged)
	assert.Greater(t, mr.TTL("json"), time.Duration(0))

	require.NoError(t, client.Delete(ctx, "plain"))
	_, err = client.Get(ctx, "plain")
	assert.Equal(t, Nil, err)
}

func TestClient_RunScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	script := redis.NewScript(`return redis.call('INCRBY', KEYS[1], ARGV[1])`)
	result, err := client.RunScript(ctx, script, []string{"counter"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result)

	result, err = client.RunScript(ctx, script, []string{"counter"}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), result)
}

func TestClient_DecrFloor(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("if:dst", "2"))

	require.NoError(t, client.DecrFloor(ctx, "if:dst"))
	v, err := mr.Get("if:dst")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, client.DecrFloor(ctx, "if:dst"))
	assert.False(t, mr.Exists("if:dst"))

	require.NoError(t, client.DecrFloor(ctx, "if:dst"), "decrementing a missing key is a no-op")
	assert.False(t, mr.Exists("if:dst"))
}
