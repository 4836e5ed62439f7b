// Package memstore is an in-memory Persistence adapter used by the engine's
// own unit tests, where a hermetic, dependency-free store matters more than
// durability.
package memstore

import (
	"context"
	"sync"

	"github.com/RobinCK/flowmesh/pkg/engine"
)

// Store is a mutex-guarded map of executions.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*engine.Execution
}

// New creates an empty Store.
func New() *Store {
	return &Store{executions: make(map[string]*engine.Execution)}
}

func (s *Store) Save(ctx context.Context, e *engine.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = e.Clone()
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*engine.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, patch func(*engine.Execution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return engine.ErrNotFound
	}
	patch(e)
	return nil
}

func (s *Store) Find(ctx context.Context, filter engine.Filter) ([]*engine.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*engine.Execution
	for _, e := range s.executions {
		if !matches(e, filter) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func matches(e *engine.Execution, f engine.Filter) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.GroupID != "" && e.GroupID() != f.GroupID {
		return false
	}
	if f.WorkflowName != "" && e.WorkflowName != f.WorkflowName {
		return false
	}
	if f.CurrentState != "" && e.CurrentState != f.CurrentState {
		return false
	}
	return true
}
