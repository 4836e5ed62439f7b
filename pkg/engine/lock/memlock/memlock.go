// Package memlock is an in-process Lock adapter used by the engine's own
// unit tests to exercise SEQUENTIAL-mode admission without a real Redis or
// etcd instance.
package memlock

import (
	"context"
	"sync"
	"time"

	"github.com/RobinCK/flowmesh/pkg/engine"
)

type entry struct {
	owner   string
	expires time.Time
}

// Lock is a sync.Mutex-guarded map with TTL-based expiry, the in-process
// analogue of the lock contract's Redis/etcd-backed production adapters.
type Lock struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty Lock.
func New() *Lock {
	return &Lock{entries: make(map[string]entry), now: time.Now}
}

func (l *Lock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.entries[key]; ok && e.expires.After(now) {
		return false, nil
	}
	l.entries[key] = entry{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *Lock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}

func (l *Lock) IsLocked(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return ok && e.expires.After(l.now()), nil
}

func (l *Lock) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || !e.expires.After(l.now()) {
		return false, nil
	}
	e.expires = l.now().Add(ttl)
	l.entries[key] = e
	return true, nil
}

var _ engine.Lock = (*Lock)(nil)
