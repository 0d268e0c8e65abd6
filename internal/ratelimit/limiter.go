// Package ratelimit admits outbound calls per destination. Each key has a
// token bucket refilled continuously at Limits.RPS and a cap on calls in
// flight; a call needs both a token and a free slot.
package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/redis"
)

// Backends accepted by New.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Limits configures one key.
type Limits struct {
	RPS         float64 `json:"rps"`
	Burst       int     `json:"burst"`
	MaxInflight int     `json:"max_inflight"`
}

// Validate rejects limits under which no call could ever be admitted.
func (l Limits) Validate() error {
	switch {
	case l.RPS <= 0:
		return errors.ValidationError(fmt.Sprintf("rps must be positive, got %v", l.RPS))
	case l.Burst < 1:
		return errors.ValidationError(fmt.Sprintf("burst must be at least 1, got %d", l.Burst))
	case l.MaxInflight < 1:
		return errors.ValidationError(fmt.Sprintf("max_inflight must be at least 1, got %d", l.MaxInflight))
	}
	return nil
}

// Stats is a point-in-time view of one key.
type Stats struct {
	Limits   Limits  `json:"limits"`
	Tokens   float64 `json:"tokens"`
	Inflight int     `json:"inflight"`
	Waiting  int     `json:"waiting"`
}

// Permit is held for the duration of one call. Release may be called more
// than once; only the first call returns the slot.
type Permit interface {
	Release()
}

// Limiter admits calls for a key.
type Limiter interface {
	// Acquire blocks until a token and an inflight slot are both available
	// or ctx is done.
	Acquire(ctx context.Context, key string, limits Limits) (Permit, error)
	// Stats reports the state of key, if it has been seen.
	Stats(key string) (Stats, bool)
}

// New builds the limiter for backend. The redis backend requires client.
func New(backend string, client *redis.Client, logger logging.Logger) (Limiter, error) {
	switch strings.ToLower(backend) {
	case "", BackendLocal:
		return NewLocal(), nil
	case BackendRedis:
		if client == nil {
			return nil, errors.ConfigError("redis client is required for the redis rate limiter")
		}
		return NewRedis(client, WithRedisLogger(logger)), nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported rate limiter backend: %s", backend))
	}
}
