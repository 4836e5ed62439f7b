package engine

import (
	"context"
	"time"
)

// Filter narrows Persistence.Find. Unspecified (nil/empty) fields do not
// constrain the search.
type Filter struct {
	Status       []Status
	GroupID      string
	WorkflowName string
	CurrentState string
}

// Persistence is the abstract store Execution records are kept in (§6).
// Implementations are free to separate immutable history from the mutable
// main row; if they do, history rows must carry a uniqueness key of
// (executionId, stateName, startedAt) and inserts on that key must be
// idempotent, so that a retried save cannot duplicate a transition.
type Persistence interface {
	Save(ctx context.Context, e *Execution) error
	Load(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, id string, patch func(*Execution)) error
	Find(ctx context.Context, filter Filter) ([]*Execution, error)
}

// ErrNotFound is returned by Load when no execution exists under the given
// id, and by Update when it is asked to patch an unknown id.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "engine: execution not found" }

// Lock is the distributed-mutex contract §5 describes: an atomic
// compare-and-set acquire with TTL, an unconditional release, a probe, and a
// TTL-only extend. TTL expiration is the only garbage-collection mechanism
// for locks orphaned by a crashed executor.
type Lock interface {
	// Acquire returns true iff key was unset (or its TTL had expired),
	// atomically claiming it for owner until ttl elapses.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release unconditionally deletes key.
	Release(ctx context.Context, key string) error
	// IsLocked probes whether key is currently held.
	IsLocked(ctx context.Context, key string) (bool, error)
	// Extend refreshes key's TTL only if it is still held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Logger is the minimal adapter the executor emits diagnostics through
// (§6). No ordering or flushing guarantees are required of implementations.
type Logger interface {
	Log(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, err error, ctx ...interface{})
}

// Plugin wraps lifecycle observation around every execution. AfterExecute
// and OnError are best-effort: an error from a plugin hook never overrides
// the error handler's decision. A non-nil Context returned by ExtendContext
// is passed to later plugins' BeforeExecute/ExtendContext and to the
// workflow OnStart hook, and its underlying context.Context is used for the
// rest of the execution. State handlers and the other hooks receive Contexts
// built afresh from the execution record, so the replacement's other fields
// do not reach them.
type Plugin interface {
	OnInit() error
	BeforeExecute(ctx *Context) error
	AfterExecute(ctx *Context) error
	OnError(ctx *Context, err error) error
	ExtendContext(ctx *Context) (*Context, error)
}

// NopPlugin is a Plugin that does nothing; embed it to implement only the
// hooks you need.
type NopPlugin struct{}

func (NopPlugin) OnInit() error { return nil }
func (NopPlugin) BeforeExecute(ctx *Context) error { return nil }
func (NopPlugin) AfterExecute(ctx *Context) error { return nil }
func (NopPlugin) OnError(ctx *Context, err error) error { return nil }
func (NopPlugin) ExtendContext(ctx *Context) (*Context, error) { return ctx, nil }
