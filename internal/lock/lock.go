// Package lock provides short-lived mutual exclusion for provisioning
// flows that touch both local and remote state.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld reports that another holder owns the key.
var ErrHeld = errors.New("lock: already held")

// Locker acquires a named lock. On success it returns a release func that
// the caller must invoke when the critical section ends; the ttl bounds
// how long a crashed holder can block others.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker keeps locks in process memory. Suitable for single-instance
// deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker constructs an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

// Acquire takes the key unless an unexpired holder exists.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.locks[key]; ok && time.Now().Before(expiry) {
		return nil, ErrHeld
	}
	l.locks[key] = time.Now().Add(ttl)
	return func() {
		l.mu.Lock()
		delete(l.locks, key)
		l.mu.Unlock()
	}, nil
}
