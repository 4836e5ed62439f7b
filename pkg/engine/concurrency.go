package engine

import (
	"context"
	"fmt"
	"time"
)

// lockTTL bounds how long a SEQUENTIAL hard lock is held before it must be
// extended; the executor extends it on every loop iteration while the
// execution remains admitted.
const lockTTL = 30 * time.Second

// ConcurrencyManager interprets a workflow's ConcurrencyConfig and enforces
// SEQUENTIAL / PARALLEL / THROTTLE admission (§4.2). It never recomputes
// groupId — the Executor pins it once at execution start (I5) and passes it
// in on every call.
type ConcurrencyManager struct {
	lock        Lock
	persistence Persistence
}

// NewConcurrencyManager wires a ConcurrencyManager to its Lock and
// Persistence collaborators. Either may be nil if a workflow never uses
// SEQUENTIAL/THROTTLE modes.
func NewConcurrencyManager(lock Lock, persistence Persistence) *ConcurrencyManager {
	return &ConcurrencyManager{lock: lock, persistence: persistence}
}

// Key formats the admission-control bucket identifier, §4.2. workflowName
// is accepted for call-site symmetry with the THROTTLE persistence query
// but, per the literal key format, does not appear in the string: two
// workflows sharing a groupId intentionally share one admission bucket.
func Key(workflowName, groupID string) string {
	return fmt.Sprintf("workflow:group:%s", groupID)
}

// ResolveGroupID derives groupId from cfg and data, per §4.2: a function if
// GroupByFunc is set, else the string value at data[GroupByName]. An unset
// GroupBy disables concurrency regardless of mode, signaled by "" with ok
// false.
func ResolveGroupID(cfg *ConcurrencyConfig, data map[string]interface{}) (string, bool) {
	if cfg == nil {
		return "", false
	}
	if cfg.GroupByFunc != nil {
		return cfg.GroupByFunc(data), true
	}
	if cfg.GroupByName == "" {
		return "", false
	}
	v, ok := data[cfg.GroupByName]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Acquire admits executionID into the group, per the mode's acquire column.
func (m *ConcurrencyManager) Acquire(ctx context.Context, cfg *ConcurrencyConfig, workflowName, groupID, executionID string) error {
	if cfg == nil {
		return nil
	}
	key := Key(workflowName, groupID)
	switch cfg.Mode {
	case ModeSequential:
		if m.lock == nil {
			return &LockAcquisitionError{Key: key, Cause: fmt.Errorf("no lock adapter configured")}
		}
		ok, err := m.lock.Acquire(ctx, key, executionID, lockTTL)
		if err != nil {
			return &LockAcquisitionError{Key: key, Cause: err}
		}
		if !ok {
			return &LockAcquisitionError{Key: key}
		}
		return nil
	case ModeThrottle:
		return m.acquireThrottle(ctx, cfg, workflowName, groupID, key)
	default: // ModeParallel
		return nil
	}
}

func (m *ConcurrencyManager) acquireThrottle(ctx context.Context, cfg *ConcurrencyConfig, workflowName, groupID, key string) error {
	if cfg.RateLimiter != nil {
		if !cfg.RateLimiter.Allow(ctx, key) {
			return &LockAcquisitionError{Key: key, Cause: fmt.Errorf("token bucket exhausted")}
		}
		return nil
	}

	if m.persistence == nil {
		return &LockAcquisitionError{Key: key, Cause: fmt.Errorf("no persistence adapter configured")}
	}
	active, err := m.persistence.Find(ctx, Filter{
		Status:       []Status{StatusRunning},
		GroupID:      groupID,
		WorkflowName: workflowName,
	})
	if err != nil {
		return &LockAcquisitionError{Key: key, Cause: err}
	}
	limit := cfg.MaxConcurrentAfterUnlock
	if limit <= 0 {
		limit = 1
	}
	// Executions past an UnlockAfter state have already released their
	// claim on the group's capacity even though Status is still RUNNING.
	count := 0
	for _, a := range active {
		if !a.ThrottlePast {
			count++
		}
	}
	if count >= limit {
		return &LockAcquisitionError{Key: key, Cause: fmt.Errorf("throttle cap %d reached", limit)}
	}
	return nil
}

// ReleaseAfterState is called when the current state is flagged
// UnlockAfter, immediately after the handler succeeds (step 3g).
// SEQUENTIAL releases the hard lock early; the other modes are no-ops.
func (m *ConcurrencyManager) ReleaseAfterState(ctx context.Context, cfg *ConcurrencyConfig, workflowName, groupID string) error {
	if cfg == nil || cfg.Mode != ModeSequential || m.lock == nil {
		return nil
	}
	return m.lock.Release(ctx, Key(workflowName, groupID))
}

// Release is the unconditional end-of-execution release (step 4). It is
// idempotent so that an earlier ReleaseAfterState never causes a double
// release to surface as an error.
func (m *ConcurrencyManager) Release(ctx context.Context, cfg *ConcurrencyConfig, workflowName, groupID string) error {
	if cfg == nil || cfg.Mode != ModeSequential || m.lock == nil {
		return nil
	}
	return m.lock.Release(ctx, Key(workflowName, groupID))
}

// Extend refreshes the SEQUENTIAL hard lock's TTL; the Executor calls this
// once per main-loop iteration so a long-running execution never loses its
// lock to expiry while still legitimately running.
func (m *ConcurrencyManager) Extend(ctx context.Context, cfg *ConcurrencyConfig, workflowName, groupID string) error {
	if cfg == nil || cfg.Mode != ModeSequential || m.lock == nil {
		return nil
	}
	_, err := m.lock.Extend(ctx, Key(workflowName, groupID), lockTTL)
	return err
}
