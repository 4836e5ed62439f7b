package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinCK/flowmesh/pkg/engine"
)

type stubHandler struct{}

func (stubHandler) Execute(ctx *engine.Context, actions *engine.Actions) error {
	actions.Next(nil)
	return nil
}

type multiStateHandler struct{ values []string }

func (multiStateHandler) Execute(ctx *engine.Context, actions *engine.Actions) error {
	actions.Next(nil)
	return nil
}

func (h multiStateHandler) StateValues() []string { return h.values }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := engine.NewRegistry()
	r.Register("A", stubHandler{})

	h, ok := r.Get("A")
	require.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryAutoRegister(t *testing.T) {
	r := engine.NewRegistry()
	r.AutoRegister(multiStateHandler{values: []string{"PENDING", "RETRYING"}})

	_, ok := r.Get("PENDING")
	assert.True(t, ok)
	_, ok = r.Get("RETRYING")
	assert.True(t, ok)
}

func TestRegistryDiscoverStatesMissing(t *testing.T) {
	r := engine.NewRegistry()
	r.Register("A", stubHandler{})

	_, err := r.DiscoverStates([]string{"A", "B"})
	assert.ErrorContains(t, err, "B")
}

func TestRegistryDiscoverStatesScoped(t *testing.T) {
	r := engine.NewRegistry()
	r.Register("A", stubHandler{})
	r.Register("OTHER_WORKFLOW_STATE", stubHandler{})

	found, err := r.DiscoverStates([]string{"A"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	_, ok := found["A"]
	assert.True(t, ok)
}

func TestGlobalRegistryIsSingleton(t *testing.T) {
	assert.Same(t, engine.Global(), engine.Global())
}
