package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/redis"
)

const keyPrefix = "webhook-relay:lock:"

// RedsyncManager implements Manager with the Redlock algorithm from
// go-redsync/redsync/v4. Held locks are renewed in the background until
// they are released or renewal fails.
type RedsyncManager struct {
	redsync *redsync.Redsync
	logger  logging.Logger

	mu    sync.Mutex
	locks map[string]*RedsyncLock
}

// RedsyncLock wraps a redsync.Mutex.
type RedsyncLock struct {
	mutex   *redsync.Mutex
	key     string
	ttl     time.Duration
	held    chan struct{}
	once    sync.Once
	manager *RedsyncManager
}

// NewRedsyncManager creates a RedsyncManager on client.
func NewRedsyncManager(client *redis.Client, logger logging.Logger) (*RedsyncManager, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if logger == nil {
		logger = logging.Component("locks")
	}

	pool := goredis.NewPool(client.Redis())
	return &RedsyncManager{
		redsync: redsync.New(pool),
		logger:  logger,
		locks:   make(map[string]*RedsyncLock),
	}, nil
}

// TryAcquire makes a single attempt to take key.
func (rm *RedsyncManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(keyPrefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		appErr := errors.ConflictError(fmt.Sprintf("lock %q is held elsewhere", key))
		appErr.Cause = err
		return nil, appErr
	}

	lock := &RedsyncLock{
		mutex:   mutex,
		key:     key,
		ttl:     ttl,
		held:    make(chan struct{}),
		manager: rm,
	}

	rm.mu.Lock()
	rm.locks[key] = lock
	rm.mu.Unlock()

	go rm.renew(lock)

	return lock, nil
}

func (rm *RedsyncManager) renew(lock *RedsyncLock) {
	ticker := time.NewTicker(renewInterval(lock.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-lock.held:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.logger.Warn("Lost distributed lock",
					logging.String("key", lock.key),
					logging.Err(err),
				)
				lock.drop()
				return
			}
		}
	}
}

// Close releases every held lock.
func (rm *RedsyncManager) Close() error {
	rm.mu.Lock()
	held := make([]*RedsyncLock, 0, len(rm.locks))
	for _, lock := range rm.locks {
		held = append(held, lock)
	}
	rm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, lock := range held {
		_ = lock.Release(ctx)
	}
	return nil
}

// Key returns the lock name.
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Extend resets the expiry in Redis.
func (rl *RedsyncLock) Extend(ctx context.Context) error {
	if !rl.IsHeld() {
		return errors.ConflictError(fmt.Sprintf("lock %q is no longer held", rl.key))
	}
	ok, err := rl.mutex.ExtendContext(ctx)
	if err != nil {
		return errors.InternalError("failed to extend lock", err)
	}
	if !ok {
		rl.drop()
		return errors.ConflictError(fmt.Sprintf("lock %q is no longer held", rl.key))
	}
	return nil
}

// Release stops renewal and deletes the lock in Redis.
func (rl *RedsyncLock) Release(ctx context.Context) error {
	if !rl.IsHeld() {
		return nil
	}
	rl.drop()
	if _, err := rl.mutex.UnlockContext(ctx); err != nil {
		return errors.InternalError("failed to release lock", err)
	}
	return nil
}

// IsHeld reports whether the lock has not been released or lost.
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.held:
		return false
	default:
		return true
	}
}

func (rl *RedsyncLock) drop() {
	rl.once.Do(func() {
		close(rl.held)
		rl.manager.mu.Lock()
		if rl.manager.locks[rl.key] == rl {
			delete(rl.manager.locks, rl.key)
		}
		rl.manager.mu.Unlock()
	})
}

var _ Manager = (*RedsyncManager)(nil)
