package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinCK/flowmesh/pkg/engine"
)

func noopHandler() engine.StateHandlerFunc {
	return func(ctx *engine.Context, actions *engine.Actions) error {
		actions.Next(nil)
		return nil
	}
}

func TestBuilderRejectsUndeclaredInitialState(t *testing.T) {
	_, err := engine.NewDefinitionBuilder("wf", []string{"A"}, "B").
		BindState("A", engine.StateSpec{Handler: noopHandler()}).
		Build()
	assert.ErrorContains(t, err, "initial state")
}

func TestBuilderRejectsUnknownStateBinding(t *testing.T) {
	_, err := engine.NewDefinitionBuilder("wf", []string{"A"}, "A").
		BindState("B", engine.StateSpec{Handler: noopHandler()}).
		Build()
	assert.ErrorContains(t, err, "not declared")
}

func TestBuilderRejectsNilHandler(t *testing.T) {
	_, err := engine.NewDefinitionBuilder("wf", []string{"A"}, "A").
		BindState("A", engine.StateSpec{}).
		Build()
	assert.ErrorContains(t, err, "nil handler")
}

func TestBuilderRejectsTransitionToUndeclaredState(t *testing.T) {
	_, err := engine.NewDefinitionBuilder("wf", []string{"A"}, "A").
		BindState("A", engine.StateSpec{Handler: noopHandler()}).
		AddTransition(engine.Transition{From: []string{"A"}, To: "Z"}).
		Build()
	assert.ErrorContains(t, err, "undeclared state")
}

func TestBuilderRejectsConditionalDefaultToUndeclaredState(t *testing.T) {
	_, err := engine.NewDefinitionBuilder("wf", []string{"A", "B"}, "A").
		BindState("A", engine.StateSpec{Handler: noopHandler()}).
		BindState("B", engine.StateSpec{Handler: noopHandler()}).
		AddConditional(engine.ConditionalTransition{From: "A", Default: "Z"}).
		Build()
	assert.ErrorContains(t, err, "undeclared state")
}

func TestBuilderBuildsValidDefinition(t *testing.T) {
	def, err := engine.NewDefinitionBuilder("wf", []string{"A", "B"}, "A").
		BindState("A", engine.StateSpec{Handler: noopHandler()}).
		BindState("B", engine.StateSpec{Handler: noopHandler()}).
		AddTransition(engine.Transition{From: []string{"A"}, To: "B"}).
		Build()
	require.NoError(t, err)
	assert.Equal(t, "wf", def.Name)
	assert.Equal(t, "A", def.InitialState)
}

func TestBuilderBindFromRegistry(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("A", stubHandler{})
	reg.Register("B", stubHandler{})

	def, err := engine.NewDefinitionBuilder("wf", []string{"A", "B"}, "A").
		BindFromRegistry(reg, map[string]engine.StateSpec{
			"A": {Timeout: 0},
		}).
		Build()
	require.NoError(t, err)

	spec, ok := def.State("B")
	require.True(t, ok)
	assert.NotNil(t, spec.Handler)
}

func TestBuilderBindFromRegistryMissingStateFails(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("A", stubHandler{})

	_, err := engine.NewDefinitionBuilder("wf", []string{"A", "B"}, "A").
		BindFromRegistry(reg, nil).
		Build()
	assert.ErrorContains(t, err, "B")
}
