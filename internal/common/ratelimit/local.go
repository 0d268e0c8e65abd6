package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key.
type KeyedLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry
	now      func() time.Time

	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewKeyedLimiter creates a keyed limiter using golang.org/x/time/rate
func NewKeyedLimiter(config Config) (*KeyedLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &KeyedLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		now:         time.Now,
		lastCleanup: time.Now(),
	}, nil
}

// Allow reports whether a request for key may proceed now.
func (rl *KeyedLimiter) Allow(key string) bool {
	if !rl.config.Enabled {
		return true
	}
	return rl.limiterFor(key).AllowN(rl.now(), 1)
}

// RetryAfter estimates how long key must wait for its next token.
func (rl *KeyedLimiter) RetryAfter(key string) time.Duration {
	if !rl.config.Enabled {
		return 0
	}
	now := rl.now()
	r := rl.limiterFor(key).ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// limiterFor gets or creates the limiter of key
func (rl *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > rl.config.CleanupPeriod {
		rl.cleanup(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[key] = entry

		if len(rl.limiters) > rl.config.MaxKeys {
			rl.cleanup(now)
		}
	}
	entry.lastUsed = now

	return entry.limiter
}

// cleanup removes limiters that haven't been used for a cleanup period
func (rl *KeyedLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.config.CleanupPeriod)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastCleanup = now
}

// Stats returns rate limiter statistics
func (rl *KeyedLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"enabled":             rl.config.Enabled,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst_size":          rl.config.BurstSize,
		"active_keys":         len(rl.limiters),
		"max_keys":            rl.config.MaxKeys,
		"last_cleanup":        rl.lastCleanup.Format(time.RFC3339),
	}
}
