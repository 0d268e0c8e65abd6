package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/redis"
)

// acquireScript refills the bucket at KEYS[1] and, when a token and an
// inflight slot at KEYS[2] are both free, takes them. It returns
// {allowed, wait_ms}.
var acquireScript = goredis.NewScript(`
local rl = KEYS[1]; local infl = KEYS[2]
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rps = tonumber(ARGV[3])
local max_inflight = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local t = redis.call('HMGET', rl, 'tokens', 'ts')
local tokens = tonumber(t[1]) or burst
local ts = tonumber(t[2]) or now
local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + delta * rps / 1000.0)

local inflight = tonumber(redis.call('GET', infl) or '0')
if inflight >= max_inflight then
  redis.call('HSET', rl, 'tokens', tostring(tokens), 'ts', tostring(now))
  redis.call('PEXPIRE', rl, ttl)
  return {0, -1}
end

if tokens >= 1.0 then
  tokens = tokens - 1.0
  redis.call('HSET', rl, 'tokens', tostring(tokens), 'ts', tostring(now))
  redis.call('PEXPIRE', rl, ttl)
  redis.call('INCR', infl)
  redis.call('PEXPIRE', infl, ttl)
  return {1, 0}
end

redis.call('HSET', rl, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', rl, ttl)
return {0, math.ceil(1000.0 * (1.0 - tokens) / rps)}
`)

// Polling bounds for the redis limiter.
const (
	minRedisPoll    = 5 * time.Millisecond
	maxRedisPoll    = time.Second
	inflightPoll    = 50 * time.Millisecond
	defaultKeyTTL   = 10 * time.Minute
	releaseDeadline = 2 * time.Second
)

// Redis is a limiter shared by every process pointed at the same server.
// Callers in one process are served in arrival order; across processes
// ordering is best-effort.
type Redis struct {
	client *redis.Client
	logger logging.Logger
	now    func() time.Time
	ttl    time.Duration

	mu    sync.Mutex
	gates map[string]*fifoGate
}

// RedisOption configures a Redis limiter.
type RedisOption func(*Redis)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger logging.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRedisClock overrides the clock whose milliseconds are sent to the script.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

// WithKeyTTL sets how long idle bucket and inflight keys survive. It also
// bounds how long a slot leaked by a crashed process stays taken.
func WithKeyTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// NewRedis creates a limiter backed by client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		logger: logging.NewNopLogger(),
		now:    time.Now,
		ttl:    defaultKeyTTL,
		gates:  make(map[string]*fifoGate),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(logging.Field{Key: "component", Value: "ratelimit"})
	return r
}

func bucketKey(key string) string   { return "rl:" + key }
func inflightKey(key string) string { return "if:" + key }

func (r *Redis) gate(key string) *fifoGate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[key]
	if !ok {
		g = &fifoGate{}
		r.gates[key] = g
	}
	return g
}

// Acquire implements Limiter.
func (r *Redis) Acquire(ctx context.Context, key string, limits Limits) (Permit, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	g := r.gate(key)
	if err := g.enter(ctx); err != nil {
		return nil, err
	}
	defer g.leave()
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()

	keys := []string{bucketKey(key), inflightKey(key)}
	for {
		result, err := r.client.RunScript(ctx, acquireScript, keys,
			r.now().UnixMilli(), limits.Burst, limits.RPS, limits.MaxInflight, r.ttl.Milliseconds())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.UnavailableError("rate limiter unavailable", err)
		}

		allowed, wait, err := parseAcquireResult(result)
		if err != nil {
			return nil, errors.InternalError("unexpected rate limiter reply", err)
		}
		if allowed {
			return &redisPermit{limiter: r, key: key}, nil
		}

		timer := time.NewTimer(pollInterval(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func pollInterval(wait time.Duration) time.Duration {
	switch {
	case wait < 0:
		return inflightPoll
	case wait < minRedisPoll:
		return minRedisPoll
	case wait > maxRedisPoll:
		return maxRedisPoll
	default:
		return wait
	}
}

func parseAcquireResult(result interface{}) (bool, time.Duration, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("expected a two element array, got %T", result)
	}
	allowed, ok1 := values[0].(int64)
	waitMs, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("expected integers, got %T and %T", values[0], values[1])
	}
	return allowed == 1, time.Duration(waitMs) * time.Millisecond, nil
}

// Stats implements Limiter. Waiting counts only callers in this process.
func (r *Redis) Stats(key string) (Stats, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rdb := r.client.Redis()
	fields, err := rdb.HMGet(ctx, bucketKey(key), "tokens").Result()
	if err != nil || len(fields) == 0 || fields[0] == nil {
		return Stats{}, false
	}

	stats := Stats{}
	if s, ok := fields[0].(string); ok {
		stats.Tokens, _ = strconv.ParseFloat(s, 64)
	}
	if n, err := rdb.Get(ctx, inflightKey(key)).Int(); err == nil {
		stats.Inflight = n
	}

	r.mu.Lock()
	if g, ok := r.gates[key]; ok {
		stats.Waiting = g.waiting()
		g.mu.Lock()
		stats.Limits = g.limits
		g.mu.Unlock()
	}
	r.mu.Unlock()
	return stats, true
}

type redisPermit struct {
	once    sync.Once
	limiter *Redis
	key     string
}

func (p *redisPermit) Release() {
	p.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseDeadline)
		defer cancel()
		if err := p.limiter.client.DecrFloor(ctx, inflightKey(p.key)); err != nil {
			p.limiter.logger.Warn("Failed to release inflight slot",
				logging.Field{Key: "key", Value: p.key},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	})
}

// fifoGate lets one caller at a time through, in arrival order.
type fifoGate struct {
	mu     sync.Mutex
	busy   bool
	queue  list.List
	limits Limits
}

func (g *fifoGate) enter(ctx context.Context) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	turn := make(chan struct{})
	elem := g.queue.PushBack(turn)
	g.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
	}

	g.mu.Lock()
	select {
	case <-turn:
		// The turn arrived while cancelling; pass it on.
		g.mu.Unlock()
		g.leave()
		return ctx.Err()
	default:
	}
	g.queue.Remove(elem)
	g.mu.Unlock()
	return ctx.Err()
}

func (g *fifoGate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if front := g.queue.Front(); front != nil {
		close(g.queue.Remove(front).(chan struct{}))
		return
	}
	g.busy = false
}

func (g *fifoGate) waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.queue.Len()
	if g.busy {
		n++
	}
	return n
}
