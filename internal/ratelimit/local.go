package ratelimit

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"
)

// Local is the in-process limiter. Waiters on a key are admitted strictly
// in arrival order.
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// LocalOption configures a Local limiter.
type LocalOption func(*Local)

// WithClock overrides time.Now for refill computations.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

// NewLocal creates an in-process limiter.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type bucket struct {
	mu       sync.Mutex
	now      func() time.Time
	limits   Limits
	tokens   float64
	last     time.Time
	inflight int
	waiters  list.List
	timer    *time.Timer
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

type localPermit struct {
	once   sync.Once
	bucket *bucket
}

func (p *localPermit) Release() {
	p.once.Do(p.bucket.release)
}

// bucketFor returns the bucket of key, creating it full on first use.
func (l *Local) bucketFor(key string, limits Limits) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			now:    l.now,
			limits: limits,
			tokens: float64(limits.Burst),
			last:   l.now(),
		}
		l.buckets[key] = b
	}
	return b
}

// Acquire implements Limiter.
func (l *Local) Acquire(ctx context.Context, key string, limits Limits) (Permit, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := l.bucketFor(key, limits)

	b.mu.Lock()
	b.reconfigure(limits)
	b.refill()
	if b.waiters.Len() == 0 && b.take() {
		b.mu.Unlock()
		return &localPermit{bucket: b}, nil
	}

	w := &waiter{ready: make(chan struct{})}
	elem := b.waiters.PushBack(w)
	b.schedule()
	b.mu.Unlock()

	select {
	case <-w.ready:
		return &localPermit{bucket: b}, nil
	case <-ctx.Done():
	}

	b.mu.Lock()
	if w.granted {
		// Admitted while cancelling; hand the slot back.
		b.mu.Unlock()
		b.release()
		return nil, ctx.Err()
	}
	b.waiters.Remove(elem)
	b.dispatch()
	b.mu.Unlock()
	return nil, ctx.Err()
}

// Stats implements Limiter.
func (l *Local) Stats(key string) (Stats, bool) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return Stats{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return Stats{
		Limits:   b.limits,
		Tokens:   b.tokens,
		Inflight: b.inflight,
		Waiting:  b.waiters.Len(),
	}, true
}

// The methods below require b.mu.

func (b *bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(b.limits.Burst), b.tokens+elapsed*b.limits.RPS)
	}
	b.last = now
}

func (b *bucket) reconfigure(limits Limits) {
	if limits == b.limits {
		return
	}
	// Accrue at the old rate up to now before switching.
	b.refill()
	b.limits = limits
	if b.tokens > float64(limits.Burst) {
		b.tokens = float64(limits.Burst)
	}
	b.dispatch()
}

func (b *bucket) take() bool {
	if b.inflight >= b.limits.MaxInflight || b.tokens < 1 {
		return false
	}
	b.tokens--
	b.inflight++
	return true
}

// dispatch admits waiters from the head of the queue while capacity lasts,
// then arms the refill timer for the next one.
func (b *bucket) dispatch() {
	b.refill()
	for front := b.waiters.Front(); front != nil; front = b.waiters.Front() {
		if !b.take() {
			break
		}
		w := b.waiters.Remove(front).(*waiter)
		w.granted = true
		close(w.ready)
	}
	b.schedule()
}

func (b *bucket) schedule() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.waiters.Len() == 0 || b.inflight >= b.limits.MaxInflight || b.tokens >= 1 {
		// Nothing to wait for, or only a Release can help.
		return
	}
	deficit := 1 - b.tokens
	wait := time.Duration(math.Ceil(deficit / b.limits.RPS * float64(time.Second)))
	b.timer = time.AfterFunc(wait, b.onTimer)
}

func (b *bucket) onTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	b.dispatch()
}

func (b *bucket) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight > 0 {
		b.inflight--
	}
	b.dispatch()
}
