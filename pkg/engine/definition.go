package engine

import (
	"context"
	"time"
)

// ConcurrencyMode selects how the Concurrency Manager admits executions of
// one workflow group.
type ConcurrencyMode string

const (
	ModeSequential ConcurrencyMode = "SEQUENTIAL"
	ModeParallel   ConcurrencyMode = "PARALLEL"
	ModeThrottle   ConcurrencyMode = "THROTTLE"
)

// GroupByFunc derives a groupId from execution data. A workflow's
// ConcurrencyConfig may instead set GroupByName, a plain property name resolved
// against Data by the Concurrency Manager.
type GroupByFunc func(data map[string]interface{}) string

// RateLimiter is the alternative THROTTLE capacity source selectable by
// workflow config in place of the default persistence-backed counter
// (§4.2). *throttle.TokenBucket satisfies this.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// ConcurrencyConfig is a workflow's admission-control policy.
type ConcurrencyConfig struct {
	GroupByName              string
	GroupByFunc              GroupByFunc
	Mode                     ConcurrencyMode
	MaxConcurrentAfterUnlock int
	// RateLimiter, if set, replaces the default persistence-backed
	// counter as THROTTLE mode's capacity source.
	RateLimiter RateLimiter
}

// Condition evaluates against the running context to decide transitions.
type Condition func(ctx *Context) bool

// OutputValue is either a literal JSON-able value or a callable resolved at
// the moment a conditional transition fires. Used for virtual outputs.
type OutputValue interface{}

// OutputResolver lets a virtual output be computed rather than literal; it
// may perform blocking work and observe ctx.Context() for cancellation.
type OutputResolver func(ctx *Context) (interface{}, error)

// Transition is an explicit edge. From may name one or more source states.
type Transition struct {
	From      []string
	To        string
	Condition Condition
}

// ConditionalBranch is one arm of a ConditionalTransition.
type ConditionalBranch struct {
	Condition      Condition
	To             string
	VirtualOutputs map[string]interface{}
}

// ConditionalTransition evaluates branches in declared order; first true
// wins. If none match, Default (if set) is used.
type ConditionalTransition struct {
	From                  string
	Branches              []ConditionalBranch
	Default               string
	DefaultVirtualOutputs map[string]interface{}
}

// Decision is what an ErrorHandler returns after observing a failure.
type Decision struct {
	Kind       DecisionKind
	Target     string
	Output     interface{}
	hasTarget  bool
	hasOutput  bool
}

// DecisionKind enumerates the six dispatch outcomes of §4.1.6.
type DecisionKind int

const (
	DecisionContinue DecisionKind = iota
	DecisionExit
	DecisionFail
	DecisionFailNoPersist
	DecisionStopRetry
	DecisionTransitionTo
)

// Continue swallows the error; the executor proceeds as if the failing step
// had succeeded.
func Continue() Decision { return Decision{Kind: DecisionContinue} }

// Exit stops the loop without marking the execution failed.
func Exit() Decision { return Decision{Kind: DecisionExit} }

// Fail marks the execution FAILED and persists it. The error is not
// re-raised: Execute/Resume return the FAILED record with a nil error, and
// for a failing state the error text is kept on the failure self-transition
// in History.
func Fail() Decision { return Decision{Kind: DecisionFail} }

// FailNoPersist re-raises without persisting the terminal record.
func FailNoPersist() Decision { return Decision{Kind: DecisionFailNoPersist} }

// StopRetry abandons the retry loop for the current state and behaves as
// Fail for that state.
func StopRetry() Decision { return Decision{Kind: DecisionStopRetry} }

// TransitionTo records an error_recovery self-transition then moves the
// execution to targetState, optionally assigning output to the failing
// state's output slot.
func TransitionTo(targetState string, output ...interface{}) Decision {
	d := Decision{Kind: DecisionTransitionTo, Target: targetState, hasTarget: true}
	if len(output) > 0 {
		d.Output = output[0]
		d.hasOutput = true
	}
	return d
}

// ErrorPhase names where in the execution loop an error originated.
type ErrorPhase string

const (
	PhaseWorkflowStart    ErrorPhase = "workflow_start"
	PhaseBeforeState      ErrorPhase = "before_state"
	PhaseAfterState       ErrorPhase = "after_state"
	PhaseWorkflowComplete ErrorPhase = "workflow_complete"
	PhaseStateExecute     ErrorPhase = "state_execute"
)

// ErrorContext is what the executor hands an ErrorHandler.
type ErrorContext struct {
	Error       error
	Phase       ErrorPhase
	Execution   *Execution
	StateName   string
	Attempt     int
	MaxAttempts int
}

// ErrorHandler is the workflow-scoped recovery seam, §4.1.6.
type ErrorHandler interface {
	Handle(ctx context.Context, errCtx ErrorContext) (Decision, error)
}

// ErrorHandlerFunc adapts a plain function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, errCtx ErrorContext) (Decision, error)

func (f ErrorHandlerFunc) Handle(ctx context.Context, errCtx ErrorContext) (Decision, error) {
	return f(ctx, errCtx)
}

// WorkflowHooks are the five workflow-scoped lifecycle points. Any hook left
// nil is skipped.
type WorkflowHooks struct {
	OnStart     func(ctx *Context) error
	BeforeState func(ctx *Context) error
	AfterState  func(ctx *Context) error
	OnComplete  func(ctx *Context) error
	OnError     func(ctx *Context, err error) error
}

// StateHooks are the four state-scoped lifecycle points.
type StateHooks struct {
	OnStart   func(ctx *Context) error
	OnSuccess func(ctx *Context) error
	OnFailure func(ctx *Context, err error) error
	OnFinish  func(ctx *Context) error
}

// RetryStrategy selects the backoff formula used between handler retries.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// RetryConfig is a state's retry policy.
type RetryConfig struct {
	MaxAttempts  int
	Strategy     RetryStrategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// StateSpec is the per-state metadata attached at registration: timeout,
// retry, delay, and whether passing through releases the concurrency lock.
type StateSpec struct {
	Handler     StateHandler
	Timeout     time.Duration
	Retry       *RetryConfig
	Delay       time.Duration
	UnlockAfter bool
	Hooks       StateHooks
}

// Definition is a compiled, non-persistent workflow description built once
// at registration time (§3's WorkflowDefinition).
type Definition struct {
	Name                   string
	States                 []string
	InitialState           string
	stateSpecs             map[string]StateSpec
	Transitions            []Transition
	ConditionalTransitions []ConditionalTransition
	Concurrency            *ConcurrencyConfig
	ErrorHandler           ErrorHandler
	Hooks                  WorkflowHooks
}

// State returns the registered spec for a state name declared by this
// workflow, or false if the state was never bound.
func (d *Definition) State(name string) (StateSpec, bool) {
	spec, ok := d.stateSpecs[name]
	return spec, ok
}

// transitionsFrom returns the explicit transitions whose From includes the
// given state, in declared order.
func (d *Definition) transitionsFrom(state string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		for _, from := range t.From {
			if from == state {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// conditionalFrom returns the conditional transition declared for state, if
// any.
func (d *Definition) conditionalFrom(state string) (ConditionalTransition, bool) {
	for _, c := range d.ConditionalTransitions {
		if c.From == state {
			return c, true
		}
	}
	return ConditionalTransition{}, false
}

// hasExplicitOrConditional reports whether state has any declared
// transition, which disables automatic fallthrough for it (§9).
func (d *Definition) hasExplicitOrConditional(state string) bool {
	if len(d.transitionsFrom(state)) > 0 {
		return true
	}
	_, ok := d.conditionalFrom(state)
	return ok
}

// nextInEnumeration returns the state after `state` in declared order, or
// "" if `state` is last.
func (d *Definition) nextInEnumeration(state string) string {
	for i, s := range d.States {
		if s == state && i+1 < len(d.States) {
			return d.States[i+1]
		}
	}
	return ""
}
