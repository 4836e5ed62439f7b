package engine

import "context"

// Context is what a StateHandler observes: the execution's live view plus a
// standard context.Context for cancellation (the handler's own
// responsibility to honor — the engine cannot forcibly stop a timed-out
// handler, only stop waiting for it, §9).
type Context struct {
	ctx          context.Context
	ExecutionID  string
	GroupID      string
	CurrentState string
	Data         map[string]interface{}
	Outputs      map[string]interface{}
	History      []StateTransition
	Metadata     Metadata
}

// Context returns the underlying context.Context for cancellation-aware
// handler code.
func (c *Context) Context() context.Context { return c.ctx }

func newContext(ctx context.Context, e *Execution) *Context {
	return &Context{
		ctx:          ctx,
		ExecutionID:  e.ID,
		GroupID:      e.GroupID(),
		CurrentState: e.CurrentState,
		Data:         e.Data,
		Outputs:      e.Outputs,
		History:      e.History,
		Metadata:     e.Metadata,
	}
}

// actionKind distinguishes which of the four actions a handler last staged.
type actionKind int

const (
	actionNone actionKind = iota
	actionNext
	actionGoto
	actionSuspend
	actionComplete
)

// Actions is the last-call-wins builder handed to every StateHandler
// invocation (§4.1.2, §9). Each method overwrites whatever was previously
// staged in the same invocation; only the final call is read once the
// handler returns.
type Actions struct {
	kind       actionKind
	target     string
	dataPatch  map[string]interface{}
	output     interface{}
	hasOutput  bool
	waitingFor string
}

// Next stages a transition to the successor resolved by §4.1.4.
func (a *Actions) Next(dataPatch map[string]interface{}, output ...interface{}) {
	a.stageOutput(output)
	a.dataPatch = dataPatch
	a.kind = actionNext
}

// Goto stages a transition to an explicit target, validated against the
// workflow's transition table.
func (a *Actions) Goto(target string, dataPatch map[string]interface{}, output ...interface{}) {
	a.stageOutput(output)
	a.dataPatch = dataPatch
	a.target = target
	a.kind = actionGoto
}

// Suspend stages a park at StatusSuspended.
func (a *Actions) Suspend(waitingFor string, dataPatch map[string]interface{}, output ...interface{}) {
	a.stageOutput(output)
	a.dataPatch = dataPatch
	a.waitingFor = waitingFor
	a.kind = actionSuspend
}

// Complete stages terminal completion.
func (a *Actions) Complete(dataPatch map[string]interface{}, output ...interface{}) {
	a.stageOutput(output)
	a.dataPatch = dataPatch
	a.kind = actionComplete
}

func (a *Actions) stageOutput(output []interface{}) {
	if len(output) > 0 {
		a.output = output[0]
		a.hasOutput = true
	} else {
		a.output = nil
		a.hasOutput = false
	}
}

// StateHandler is the single-operation contract every state implements.
type StateHandler interface {
	Execute(ctx *Context, actions *Actions) error
}

// StateHandlerFunc adapts a plain function to StateHandler.
type StateHandlerFunc func(ctx *Context, actions *Actions) error

func (f StateHandlerFunc) Execute(ctx *Context, actions *Actions) error { return f(ctx, actions) }
