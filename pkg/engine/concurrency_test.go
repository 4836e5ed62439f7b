package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinCK/flowmesh/pkg/engine"
	"github.com/RobinCK/flowmesh/pkg/engine/lock/memlock"
	"github.com/RobinCK/flowmesh/pkg/engine/persistence/memstore"
)

func TestKeyFormatOmitsWorkflowName(t *testing.T) {
	assert.Equal(t, "workflow:group:u1", engine.Key("orders", "u1"))
	assert.Equal(t, engine.Key("orders", "u1"), engine.Key("shipping", "u1"))
}

func TestResolveGroupIDFromName(t *testing.T) {
	cfg := &engine.ConcurrencyConfig{GroupByName: "userId", Mode: engine.ModeSequential}
	id, ok := engine.ResolveGroupID(cfg, map[string]interface{}{"userId": "u1"})
	require.True(t, ok)
	assert.Equal(t, "u1", id)
}

func TestResolveGroupIDDisabledWithoutGroupBy(t *testing.T) {
	cfg := &engine.ConcurrencyConfig{Mode: engine.ModeSequential}
	_, ok := engine.ResolveGroupID(cfg, map[string]interface{}{"userId": "u1"})
	assert.False(t, ok)
}

func TestResolveGroupIDFromFunc(t *testing.T) {
	cfg := &engine.ConcurrencyConfig{
		GroupByFunc: func(data map[string]interface{}) string { return "fixed" },
		Mode:        engine.ModeSequential,
	}
	id, ok := engine.ResolveGroupID(cfg, nil)
	require.True(t, ok)
	assert.Equal(t, "fixed", id)
}

func TestConcurrencyManagerSequentialExclusion(t *testing.T) {
	m := engine.NewConcurrencyManager(memlock.New(), memstore.New())
	cfg := &engine.ConcurrencyConfig{Mode: engine.ModeSequential}
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, cfg, "wf", "g1", "exec-1"))
	err := m.Acquire(ctx, cfg, "wf", "g1", "exec-2")
	var lockErr *engine.LockAcquisitionError
	assert.ErrorAs(t, err, &lockErr)

	require.NoError(t, m.Release(ctx, cfg, "wf", "g1"))
	assert.NoError(t, m.Acquire(ctx, cfg, "wf", "g1", "exec-2"))
}

func TestConcurrencyManagerParallelIsNoop(t *testing.T) {
	m := engine.NewConcurrencyManager(nil, nil)
	cfg := &engine.ConcurrencyConfig{Mode: engine.ModeParallel}
	assert.NoError(t, m.Acquire(context.Background(), cfg, "wf", "g1", "exec-1"))
	assert.NoError(t, m.Acquire(context.Background(), cfg, "wf", "g1", "exec-2"))
}

func TestConcurrencyManagerThrottleCaps(t *testing.T) {
	store := memstore.New()
	m := engine.NewConcurrencyManager(nil, store)
	cfg := &engine.ConcurrencyConfig{Mode: engine.ModeThrottle, MaxConcurrentAfterUnlock: 1}
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &engine.Execution{
		ID: "running-1", WorkflowName: "wf", Status: engine.StatusRunning,
		Data: map[string]interface{}{}, Outputs: map[string]interface{}{},
	}))

	err := m.Acquire(ctx, cfg, "wf", "", "exec-2")
	var lockErr *engine.LockAcquisitionError
	assert.ErrorAs(t, err, &lockErr)
}
