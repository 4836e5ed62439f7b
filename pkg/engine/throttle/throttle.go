// Package throttle is an alternative THROTTLE-mode capacity source backed
// by a local token bucket, adapted from the teacher's pkg/ratelimit
// TokenBucketLimiter (golang.org/x/time/rate). Unlike the persistence-count
// probe §4.2 describes as the default THROTTLE implementation, this trades
// cross-process accuracy for a cheap, dependency-free admission check
// useful within a single process.
package throttle

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucket rate-limits admission per key with an independent bucket for
// each key seen.
type TokenBucket struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	// buckets is intentionally unbounded: callers are expected to use a
	// small, stable set of groupIds per workflow, not one per execution.
	buckets map[string]*rate.Limiter
}

// New creates a TokenBucket allowing rps admissions per second per key, with
// burst capacity burst.
func New(rps float64, burst int) *TokenBucket {
	return &TokenBucket{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether key may be admitted right now, consuming one token
// if so.
func (t *TokenBucket) Allow(ctx context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.buckets[key]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.buckets[key] = l
	}
	return l.Allow()
}
