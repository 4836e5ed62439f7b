package engine

import "fmt"

// DefinitionBuilder assembles a Definition from registry lookups and
// declarative configuration. It exists so that wiring a workflow reads as a
// short, explicit sequence at construction time rather than via reflection
// over struct tags (§9's dynamic-dispatch note).
type DefinitionBuilder struct {
	def *Definition
	err error
}

// NewDefinitionBuilder starts building a workflow named name with the given
// state enumeration (order matters — it is the automatic-fallthrough order)
// and initial state.
func NewDefinitionBuilder(name string, states []string, initialState string) *DefinitionBuilder {
	return &DefinitionBuilder{
		def: &Definition{
			Name:         name,
			States:       states,
			InitialState: initialState,
			stateSpecs:   make(map[string]StateSpec, len(states)),
		},
	}
}

// BindState attaches a handler (and optional per-state metadata) to one of
// the declared state values.
func (b *DefinitionBuilder) BindState(name string, spec StateSpec) *DefinitionBuilder {
	if b.err != nil {
		return b
	}
	if !b.hasState(name) {
		b.err = fmt.Errorf("engine: state %q is not declared in workflow %q", name, b.def.Name)
		return b
	}
	if spec.Handler == nil {
		b.err = fmt.Errorf("engine: state %q registered with a nil handler", name)
		return b
	}
	b.def.stateSpecs[name] = spec
	return b
}

// BindFromRegistry resolves every declared state against reg's State
// Registry and binds each with the given per-state metadata (defaulting to
// zero-value StateSpec.Timeout/Retry/Delay/UnlockAfter/Hooks for states not
// present in meta). Use this when handlers are registered centrally (e.g.
// at package init via Global()) rather than wired one-by-one with
// BindState.
func (b *DefinitionBuilder) BindFromRegistry(reg *Registry, meta map[string]StateSpec) *DefinitionBuilder {
	if b.err != nil {
		return b
	}
	handlers, err := reg.DiscoverStates(b.def.States)
	if err != nil {
		b.err = err
		return b
	}
	for name, handler := range handlers {
		spec := meta[name]
		spec.Handler = handler
		b.def.stateSpecs[name] = spec
	}
	return b
}

// AddTransition declares an explicit edge.
func (b *DefinitionBuilder) AddTransition(t Transition) *DefinitionBuilder {
	b.def.Transitions = append(b.def.Transitions, t)
	return b
}

// AddConditional declares a conditional-transition table entry for one
// from-state.
func (b *DefinitionBuilder) AddConditional(c ConditionalTransition) *DefinitionBuilder {
	b.def.ConditionalTransitions = append(b.def.ConditionalTransitions, c)
	return b
}

// WithConcurrency sets the admission-control policy.
func (b *DefinitionBuilder) WithConcurrency(c ConcurrencyConfig) *DefinitionBuilder {
	b.def.Concurrency = &c
	return b
}

// WithErrorHandler sets the workflow-scoped error handler.
func (b *DefinitionBuilder) WithErrorHandler(h ErrorHandler) *DefinitionBuilder {
	b.def.ErrorHandler = h
	return b
}

// WithHooks sets the five workflow-scoped lifecycle hooks.
func (b *DefinitionBuilder) WithHooks(h WorkflowHooks) *DefinitionBuilder {
	b.def.Hooks = h
	return b
}

func (b *DefinitionBuilder) hasState(name string) bool {
	for _, s := range b.def.States {
		if s == name {
			return true
		}
	}
	return false
}

// Build validates and returns the completed Definition.
func (b *DefinitionBuilder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.def.States) == 0 {
		return nil, fmt.Errorf("engine: workflow %q declares no states", b.def.Name)
	}
	if !b.hasState(b.def.InitialState) {
		return nil, fmt.Errorf("engine: initial state %q is not in the declared enumeration", b.def.InitialState)
	}
	for _, t := range b.def.Transitions {
		if !b.hasState(t.To) {
			return nil, fmt.Errorf("engine: transition targets undeclared state %q", t.To)
		}
		for _, from := range t.From {
			if !b.hasState(from) {
				return nil, fmt.Errorf("engine: transition sources undeclared state %q", from)
			}
		}
	}
	for _, c := range b.def.ConditionalTransitions {
		if !b.hasState(c.From) {
			return nil, fmt.Errorf("engine: conditional transition sources undeclared state %q", c.From)
		}
		for _, br := range c.Branches {
			if !b.hasState(br.To) {
				return nil, fmt.Errorf("engine: conditional branch targets undeclared state %q", br.To)
			}
		}
		if c.Default != "" && !b.hasState(c.Default) {
			return nil, fmt.Errorf("engine: conditional default targets undeclared state %q", c.Default)
		}
	}
	return b.def, nil
}
