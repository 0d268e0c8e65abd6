package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupRedisLimiter(t *testing.T) (*Redis, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	return NewRedis(client, WithRedisClock(clock.Now)), mr, clock
}

func TestRedis_BurstAndInflight(t *testing.T) {
	l, mr, _ := setupRedisLimiter(t)
	ctx := context.Background()
	limits := Limits{RPS: 1, Burst: 3, MaxInflight: 2}

	p1, err := l.Acquire(ctx, "dst", limits)
	require.NoError(t, err)
	p2, err := l.Acquire(ctx, "dst", limits)
	require.NoError(t, err)

	inflight, err := mr.Get("if:dst")
	require.NoError(t, err)
	assert.Equal(t, "2", inflight)
	assert.True(t, mr.Exists("rl:dst"))

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "dst", limits)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "both slots are taken")

	p1.Release()
	p1.Release()
	inflight, err = mr.Get("if:dst")
	require.NoError(t, err)
	assert.Equal(t, "1", inflight)

	p3, err := l.Acquire(ctx, "dst", limits)
	require.NoError(t, err, "the third token is still in the bucket")

	p2.Release()
	p3.Release()
	assert.False(t, mr.Exists("if:dst"))
}

func TestRedis_WaitsForRefill(t *testing.T) {
	l, _, clock := setupRedisLimiter(t)
	ctx := context.Background()
	limits := Limits{RPS: 10, Burst: 1, MaxInflight: 10}

	p, err := l.Acquire(ctx, "dst", limits)
	require.NoError(t, err)
	p.Release()

	done := make(chan error, 1)
	go func() {
		p, err := l.Acquire(ctx, "dst", limits)
		if err == nil {
			p.Release()
		}
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("admitted without a token")
	case <-time.After(30 * time.Millisecond):
	}

	clock.Advance(100 * time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("not admitted after the refill interval")
	}

	s, ok := l.Stats("dst")
	require.True(t, ok)
	assert.Equal(t, limits, s.Limits)
	assert.Equal(t, 0, s.Inflight)
}

func TestRedis_Unavailable(t *testing.T) {
	l, mr, _ := setupRedisLimiter(t)
	mr.Close()

	_, err := l.Acquire(context.Background(), "dst", Limits{RPS: 1, Burst: 1, MaxInflight: 1})
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))
}

func TestRedis_StatsUnknownKey(t *testing.T) {
	l, _, _ := setupRedisLimiter(t)
	_, ok := l.Stats("missing")
	assert.False(t, ok)
}

func TestFIFOGate(t *testing.T) {
	var g fifoGate
	ctx := context.Background()

	require.NoError(t, g.enter(ctx))

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := g.enter(ctx); err != nil {
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			g.leave()
		}(i)
		require.Eventually(t, func() bool { return g.waiting() == i+2 }, time.Second, time.Millisecond)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, g.enter(cancelled), context.Canceled)

	g.leave()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, 0, g.waiting())
}
