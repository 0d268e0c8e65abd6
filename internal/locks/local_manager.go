package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"webhook-relay/internal/common/errors"
)

// LocalManager excludes holders within one process. Expired locks can be
// taken over, matching the Redis behaviour.
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]*LocalLock
	now   func() time.Time
}

// LocalLock is a lock held in a LocalManager.
type LocalLock struct {
	key     string
	ttl     time.Duration
	expires time.Time
	manager *LocalManager
}

// NewLocalManager creates an in-process Manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{
		locks: make(map[string]*LocalLock),
		now:   time.Now,
	}
}

// TryAcquire takes key unless a live holder has it.
func (lm *LocalManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if current, ok := lm.locks[key]; ok && now.Before(current.expires) {
		return nil, errors.ConflictError(fmt.Sprintf("lock %q is held elsewhere", key))
	}

	lock := &LocalLock{key: key, ttl: ttl, expires: now.Add(ttl), manager: lm}
	lm.locks[key] = lock
	return lock, nil
}

// Close drops every lock.
func (lm *LocalManager) Close() error {
	lm.mu.Lock()
	lm.locks = make(map[string]*LocalLock)
	lm.mu.Unlock()
	return nil
}

// Key returns the lock name.
func (l *LocalLock) Key() string {
	return l.key
}

// Extend resets the expiry.
func (l *LocalLock) Extend(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	if !l.heldLocked() {
		return errors.ConflictError(fmt.Sprintf("lock %q is no longer held", l.key))
	}
	l.expires = l.manager.now().Add(l.ttl)
	return nil
}

// Release gives the lock up.
func (l *LocalLock) Release(ctx context.Context) error {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	if l.manager.locks[l.key] == l {
		delete(l.manager.locks, l.key)
	}
	return nil
}

// IsHeld reports whether the lock is still current and unexpired.
func (l *LocalLock) IsHeld() bool {
	l.manager.mu.Lock()
	defer l.manager.mu.Unlock()
	return l.heldLocked()
}

func (l *LocalLock) heldLocked() bool {
	return l.manager.locks[l.key] == l && l.manager.now().Before(l.expires)
}

var _ Manager = (*LocalManager)(nil)
