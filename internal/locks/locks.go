// Package locks provides the exclusive locks that keep periodic jobs from
// running on more than one relay instance at a time. With Redis configured
// the locks are Redlock mutexes from go-redsync; without it they only
// exclude goroutines of the current process.
//
// Example usage:
//
//	manager := locks.NewManager(redisClient, logger)
//	defer manager.Close()
//
//	lock, err := manager.TryAcquire(ctx, "housekeeping", time.Minute)
//	if err != nil {
//		return err // held elsewhere
//	}
//	defer lock.Release(ctx)
package locks

import (
	"context"
	"time"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/redis"
)

// Lock is an acquired lock.
type Lock interface {
	// Key returns the lock name.
	Key() string

	// Extend resets the expiry to the ttl the lock was taken with.
	Extend(ctx context.Context) error

	// Release gives the lock up. The lock must not be used afterwards.
	Release(ctx context.Context) error

	// IsHeld reports whether this instance still holds the lock. It reads
	// local state only.
	IsHeld() bool
}

// Manager hands out locks.
type Manager interface {
	// TryAcquire takes key without waiting. It fails with a conflict error
	// when another holder has it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)

	// Close releases every lock still held.
	Close() error
}

// NewManager returns a Redlock manager when client is set and an
// in-process manager otherwise.
func NewManager(client *redis.Client, logger logging.Logger) Manager {
	if logger == nil {
		logger = logging.Component("locks")
	}
	if client == nil {
		return NewLocalManager()
	}
	manager, err := NewRedsyncManager(client, logger)
	if err != nil {
		logger.Warn("Falling back to in-process locks", logging.Err(err))
		return NewLocalManager()
	}
	return manager
}

// renewInterval renews at a third of the ttl, at least once a second.
func renewInterval(ttl time.Duration) time.Duration {
	interval := ttl / 3
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
