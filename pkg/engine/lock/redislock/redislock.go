// Package redislock is a reference Lock adapter backed by Redis, grounded
// on the teacher's distributed worker registry's RedisBackend (SETNX-style
// registration with a TTL, existence probe, and TTL refresh).
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock wraps a *redis.Client behind the engine.Lock contract. Acquire uses
// SETNX so two callers racing for the same key never both win, matching
// §5's "atomic compare-and-set — returns true iff the key was unset (or
// expired)".
type Lock struct {
	client *redis.Client
	prefix string
}

// New wraps client. prefix namespaces keys (e.g. "flowmesh:lock:").
func New(client *redis.Client, prefix string) *Lock {
	return &Lock{client: client, prefix: prefix}
}

func (l *Lock) k(key string) string { return l.prefix + key }

func (l *Lock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.k(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redislock: acquire %q: %w", key, err)
	}
	return ok, nil
}

func (l *Lock) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.k(key)).Err(); err != nil {
		return fmt.Errorf("redislock: release %q: %w", key, err)
	}
	return nil
}

func (l *Lock) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.k(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redislock: probe %q: %w", key, err)
	}
	return n > 0, nil
}

func (l *Lock) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.Expire(ctx, l.k(key), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redislock: extend %q: %w", key, err)
	}
	return ok, nil
}
