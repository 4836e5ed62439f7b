package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RobinCK/flowmesh/pkg/engine/metrics"
	"github.com/RobinCK/flowmesh/pkg/engine/tracing"
)

// ExecuteOptions are the inputs to a fresh execution.
type ExecuteOptions struct {
	Data        map[string]interface{}
	ExecutionID string
}

// ResumeStrategy selects how a SUSPENDED execution re-enters the loop
// (§4.1.7).
type ResumeStrategy string

const (
	ResumeRetry ResumeStrategy = "RETRY"
	ResumeSkip  ResumeStrategy = "SKIP"
	ResumeGoto  ResumeStrategy = "GOTO"
)

// ResumeOptions are the inputs to resume.
type ResumeOptions struct {
	Strategy    ResumeStrategy
	Data        map[string]interface{}
	TargetState string
	Output      interface{}
}

// Executor drives one workflow definition's execution loop: transition
// resolution, action arbitration, timeout/retry/delay, lifecycle hooks,
// history and output accumulation, suspend/resume, and error-handler
// dispatch (§4.1).
type Executor struct {
	def         *Definition
	persistence Persistence
	concurrency *ConcurrencyManager
	logger      Logger
	plugins     []Plugin
	breaker     BreakerGate
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
	clock       func() time.Time
}

// BreakerGate lets an optional resilience seam wrap state invocation. The
// zero value (nil) disables circuit breaking entirely — the executor then
// calls handlers directly.
type BreakerGate interface {
	Execute(key string, fn func() error) error
}

// NewExecutor wires an Executor for one workflow definition.
func NewExecutor(def *Definition, persistence Persistence, concurrency *ConcurrencyManager, logger Logger, plugins ...Plugin) *Executor {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Executor{
		def:         def,
		persistence: persistence,
		concurrency: concurrency,
		logger:      logger,
		plugins:     plugins,
		clock:       time.Now,
	}
}

// WithBreaker attaches an optional per-state circuit breaker seam.
func (x *Executor) WithBreaker(b BreakerGate) *Executor {
	x.breaker = b
	return x
}

// WithMetrics attaches an optional Prometheus seam. A nil *metrics.Collector
// is safe to pass through unchanged — every Record call on it no-ops.
func (x *Executor) WithMetrics(m *metrics.Collector) *Executor {
	x.metrics = m
	return x
}

// WithTracer attaches an optional OpenTelemetry seam that wraps each state
// invocation in a span.
func (x *Executor) WithTracer(t *tracing.Tracer) *Executor {
	x.tracer = t
	return x
}

// Execute starts a fresh execution and drives it to a terminal status.
func (x *Executor) Execute(ctx context.Context, opts ExecuteOptions) (*Execution, error) {
	id := opts.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	now := x.clock()
	data := opts.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	e := &Execution{
		ID:           id,
		WorkflowName: x.def.Name,
		CurrentState: x.def.InitialState,
		Status:       StatusRunning,
		Data:         data,
		Outputs:      map[string]interface{}{},
		History:      nil,
		Metadata:     Metadata{StartedAt: now, UpdatedAt: now},
	}

	groupID, enabled := "", false
	if x.def.Concurrency != nil {
		groupID, enabled = ResolveGroupID(x.def.Concurrency, e.Data)
	}
	if enabled {
		e.SetGroupIDOnce(groupID)
	}

	for _, p := range x.plugins {
		if err := p.OnInit(); err != nil {
			return nil, fmt.Errorf("engine: plugin OnInit: %w", err)
		}
	}

	if err := x.concurrency.Acquire(ctx, x.def.Concurrency, x.def.Name, e.GroupID(), e.ID); err != nil {
		x.metrics.RecordLockAcquisition(x.def.Name, concurrencyModeLabel(x.def.Concurrency), "denied")
		return nil, err
	}
	x.metrics.RecordLockAcquisition(x.def.Name, concurrencyModeLabel(x.def.Concurrency), "granted")
	lockReleased := x.def.Concurrency == nil || x.def.Concurrency.Mode != ModeSequential

	result, err := x.run(ctx, e, &lockReleased)
	if !lockReleased {
		_ = x.concurrency.Release(ctx, x.def.Concurrency, x.def.Name, e.GroupID())
	}
	return result, err
}

// Resume continues a SUSPENDED execution (§4.1.7).
func (x *Executor) Resume(ctx context.Context, executionID string, opts ResumeOptions) (*Execution, error) {
	if x.persistence == nil {
		return nil, fmt.Errorf("engine: resume requires a persistence adapter")
	}
	e, err := x.persistence.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusSuspended {
		return nil, &NotSuspendedError{ExecutionID: executionID, Status: e.Status}
	}
	if opts.Strategy == ResumeGoto && opts.TargetState == "" {
		return nil, &MissingTargetStateError{ExecutionID: executionID}
	}

	for k, v := range opts.Data {
		e.Data[k] = v
	}
	e.Suspension = nil
	e.Status = StatusRunning

	// Advisory re-acquisition: failure here is not fatal if the execution
	// had already passed an unlockAfter state before suspending (§4.1.7).
	lockReleased := x.def.Concurrency == nil || x.def.Concurrency.Mode != ModeSequential
	if err := x.concurrency.Acquire(ctx, x.def.Concurrency, x.def.Name, e.GroupID(), e.ID); err != nil {
		x.metrics.RecordLockAcquisition(x.def.Name, concurrencyModeLabel(x.def.Concurrency), "denied")
		if !e.ThrottlePast {
			return nil, err
		}
		lockReleased = true
	} else {
		x.metrics.RecordLockAcquisition(x.def.Name, concurrencyModeLabel(x.def.Concurrency), "granted")
	}

	switch opts.Strategy {
	case ResumeSkip:
		from := e.CurrentState
		next := x.resolveNext(e, from, nil)
		x.appendTransition(e, from, next, TransitionSuccess, nil, x.clock(), x.clock())
		e.CurrentState = next
	case ResumeGoto:
		from := e.CurrentState
		x.appendTransition(e, from, opts.TargetState, TransitionSuccess, nil, x.clock(), x.clock())
		e.CurrentState = opts.TargetState
	default: // ResumeRetry
	}

	result, err := x.run(ctx, e, &lockReleased)
	if !lockReleased {
		_ = x.concurrency.Release(ctx, x.def.Concurrency, x.def.Name, e.GroupID())
	}
	return result, err
}

// run is the shared main loop for both Execute and Resume, steps 2-4 of
// §4.1.1.
func (x *Executor) run(ctx context.Context, e *Execution, lockReleased *bool) (result *Execution, rerr error) {
	wfCtx := newContext(ctx, e)
	for _, p := range x.plugins {
		if err := p.BeforeExecute(wfCtx); err != nil {
			x.logger.Warn("engine: plugin BeforeExecute failed", "execution", e.ID, "error", err)
		}
		extended, err := p.ExtendContext(wfCtx)
		if err != nil {
			x.logger.Warn("engine: plugin ExtendContext failed", "execution", e.ID, "error", err)
			continue
		}
		if extended != nil {
			wfCtx = extended
			ctx = extended.ctx
		}
	}
	defer func() {
		finalCtx := newContext(ctx, e)
		for _, p := range x.plugins {
			if err := p.AfterExecute(finalCtx); err != nil {
				x.logger.Warn("engine: plugin AfterExecute failed", "execution", e.ID, "error", err)
			}
		}
		if rerr != nil || e.Status == StatusFailed {
			reportErr := rerr
			if reportErr == nil {
				reportErr = fmt.Errorf("execution %s failed in state %s", e.ID, e.CurrentState)
			}
			for _, p := range x.plugins {
				if err := p.OnError(finalCtx, reportErr); err != nil {
					x.logger.Warn("engine: plugin OnError failed", "execution", e.ID, "error", err)
				}
			}
		}
	}()

	if x.def.Hooks.OnStart != nil {
		if err := x.def.Hooks.OnStart(wfCtx); err != nil {
			decision, decErr := x.dispatchError(ctx, e, PhaseWorkflowStart, e.CurrentState, err, 0, 0)
			if decErr != nil {
				return e, decErr
			}
			if decision.Kind == DecisionFail {
				e.Status = StatusFailed
			}
		}
	}

	for e.Status == StatusRunning {
		if err := x.step(ctx, e, lockReleased); err != nil {
			if _, exit := err.(errExit); exit {
				break
			}
			return e, err
		}
	}

	switch e.Status {
	case StatusCompleted:
		if x.def.Hooks.OnComplete != nil {
			_ = x.def.Hooks.OnComplete(newContext(ctx, e))
		}
	case StatusFailed:
		if x.def.Hooks.OnError != nil {
			_ = x.def.Hooks.OnError(newContext(ctx, e), fmt.Errorf("execution %s failed in state %s", e.ID, e.CurrentState))
		}
	}

	if x.persistence != nil {
		if err := x.persistence.Save(ctx, e); err != nil {
			return e, err
		}
	}
	return e, nil
}

// step runs one iteration of the main loop (§4.1.1 step 3, a-i).
func (x *Executor) step(ctx context.Context, e *Execution, lockReleased *bool) error {
	wfCtx := newContext(ctx, e)
	if x.def.Hooks.BeforeState != nil {
		if err := x.def.Hooks.BeforeState(wfCtx); err != nil {
			if err := x.routeHookError(ctx, e, PhaseBeforeState, err); err != nil {
				return err
			}
		}
	}

	spec, ok := x.def.State(e.CurrentState)
	if !ok {
		return &UnknownStateError{WorkflowName: x.def.Name, StateName: e.CurrentState}
	}

	if spec.Delay > 0 {
		sleep(ctx, spec.Delay)
	}

	if spec.Hooks.OnStart != nil {
		_ = spec.Hooks.OnStart(newContext(ctx, e))
	}

	from := e.CurrentState
	started := x.clock()
	e.Metadata.TotalAttempts++

	actions, err := x.invokeWithRetryAndTimeout(ctx, e, spec, from)
	if err != nil {
		decision, derr := x.dispatchError(ctx, e, PhaseStateExecute, from, err, e.Metadata.TotalAttempts, retryMaxAttempts(spec.Retry))
		if derr != nil {
			return derr
		}
		return x.applyDecision(ctx, e, spec, from, started, decision, err)
	}
	x.metrics.RecordStateDuration(x.def.Name, from, x.clock().Sub(started))

	if spec.Hooks.OnSuccess != nil {
		_ = spec.Hooks.OnSuccess(newContext(ctx, e))
	}
	if spec.Hooks.OnFinish != nil {
		_ = spec.Hooks.OnFinish(newContext(ctx, e))
	}

	if err := x.interpretAction(ctx, e, spec, from, started, actions); err != nil {
		return err
	}

	if spec.UnlockAfter {
		if !*lockReleased {
			if err := x.concurrency.ReleaseAfterState(ctx, x.def.Concurrency, x.def.Name, e.GroupID()); err != nil {
				return err
			}
			*lockReleased = true
		}
		e.ThrottlePast = true
	} else if !*lockReleased {
		_ = x.concurrency.Extend(ctx, x.def.Concurrency, x.def.Name, e.GroupID())
	}

	e.Metadata.UpdatedAt = x.clock()
	if x.persistence != nil {
		if err := x.persistence.Save(ctx, e); err != nil {
			return err
		}
	}

	if x.def.Hooks.AfterState != nil {
		if err := x.def.Hooks.AfterState(newContext(ctx, e)); err != nil {
			if err := x.routeHookError(ctx, e, PhaseAfterState, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (x *Executor) routeHookError(ctx context.Context, e *Execution, phase ErrorPhase, err error) error {
	decision, derr := x.dispatchError(ctx, e, phase, e.CurrentState, err, 0, 0)
	if derr != nil {
		return derr
	}
	if decision.Kind == DecisionFail {
		e.Status = StatusFailed
		if x.persistence != nil {
			return x.persistence.Save(ctx, e)
		}
	}
	return nil
}

// invokeWithRetryAndTimeout runs spec.Handler under the state's timeout and
// retry policy (§4.1.3), returning the staged Actions on eventual success.
func (x *Executor) invokeWithRetryAndTimeout(ctx context.Context, e *Execution, spec StateSpec, stateName string) (*Actions, error) {
	maxAttempts := 1
	if spec.Retry != nil {
		maxAttempts = spec.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		actions, err := x.invokeOnce(ctx, e, spec, stateName)
		if err == nil {
			return actions, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			failStart := x.clock()
			x.appendTransition(e, stateName, stateName, TransitionFailure, err, failStart, x.clock())
			x.metrics.RecordRetry(x.def.Name, stateName)
			if spec.Retry != nil {
				d := nextDelay(spec.Retry, attempt)
				sleep(ctx, d)
			}
			continue
		}
		if spec.Retry != nil {
			return nil, &RetryExhaustedError{StateName: stateName, Attempts: maxAttempts, Cause: lastErr}
		}
		return nil, lastErr
	}
	return nil, lastErr
}

func (x *Executor) invokeOnce(ctx context.Context, e *Execution, spec StateSpec, stateName string) (*Actions, error) {
	if x.tracer != nil {
		var end func()
		ctx, end = x.startSpan(ctx, stateName)
		defer end()
	}

	actions := &Actions{}
	call := func() error {
		return spec.Handler.Execute(newContext(ctx, e), actions)
	}
	if x.breaker != nil {
		call = x.wrapBreaker(stateName, call)
	}

	if spec.Timeout <= 0 {
		if err := call(); err != nil {
			return nil, err
		}
		return actions, nil
	}

	started := x.clock()
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return actions, nil
	case <-time.After(spec.Timeout):
		x.metrics.RecordTimeout(x.def.Name, stateName)
		return nil, &StateTimeoutError{StateName: stateName, Timeout: spec.Timeout, Elapsed: x.clock().Sub(started)}
	}
}

// startSpan opens a tracing span for one state invocation, returning a
// closure that ends it so callers need not import the tracing package's
// span type directly.
func (x *Executor) startSpan(ctx context.Context, stateName string) (context.Context, func()) {
	spanCtx, span := x.tracer.StartStateSpan(ctx, x.def.Name, stateName)
	return spanCtx, span.End
}

func (x *Executor) wrapBreaker(stateName string, fn func() error) func() error {
	key := fmt.Sprintf("%s:%s", x.def.Name, stateName)
	return func() error {
		called := false
		err := x.breaker.Execute(key, func() error {
			called = true
			return fn()
		})
		if err != nil && !called {
			return &CircuitOpenError{Key: key, Cause: err}
		}
		return err
	}
}

// interpretAction applies the last-call-wins staged action (§4.1.2).
func (x *Executor) interpretAction(ctx context.Context, e *Execution, spec StateSpec, from string, started time.Time, a *Actions) error {
	if a.dataPatch != nil {
		for k, v := range a.dataPatch {
			e.Data[k] = v
		}
	}

	switch a.kind {
	case actionGoto:
		if !x.isValidGotoTarget(from, a.target) {
			return &InvalidTransitionError{WorkflowName: x.def.Name, From: from, To: a.target}
		}
		x.finishTransition(e, from, a.target, TransitionSuccess, nil, started, a)
		e.CurrentState = a.target
		return nil
	case actionSuspend:
		completed := x.clock()
		e.History = append(e.History, StateTransition{
			From: from, To: from, StartedAt: started, CompletedAt: &completed,
			Duration: durationPtr(completed.Sub(started)), Status: TransitionSuspended,
		})
		if a.hasOutput {
			e.Outputs[from] = a.output
		}
		e.Status = StatusSuspended
		e.Suspension = &Suspension{WaitingFor: a.waitingFor, SuspendedAt: completed}
		return nil
	case actionComplete:
		completed := x.clock()
		x.finishTransition(e, from, from, TransitionSuccess, nil, started, a)
		e.Status = StatusCompleted
		e.Metadata.CompletedAt = &completed
		return nil
	default: // actionNext or actionNone
		next := x.resolveNext(e, from, a)
		if next == "" {
			completed := x.clock()
			e.Status = StatusCompleted
			e.Metadata.CompletedAt = &completed
			if a.hasOutput {
				e.Outputs[from] = a.output
			}
			return nil
		}
		x.finishTransition(e, from, next, TransitionSuccess, nil, started, a)
		e.CurrentState = next
		return nil
	}
}

func (x *Executor) finishTransition(e *Execution, from, to string, status TransitionStatus, err error, started time.Time, a *Actions) {
	x.appendTransition(e, from, to, status, err, started, x.clock())
	if a != nil && a.hasOutput {
		e.Outputs[from] = a.output
	}
}

func (x *Executor) appendTransition(e *Execution, from, to string, status TransitionStatus, err error, started, completed time.Time) {
	t := StateTransition{
		From: from, To: to, StartedAt: started, CompletedAt: &completed,
		Duration: durationPtr(completed.Sub(started)), Status: status,
	}
	if err != nil {
		t.Error = err.Error()
	}
	e.History = append(e.History, t)
	x.metrics.RecordTransition(x.def.Name, from, to, string(status))
}

func (x *Executor) isValidGotoTarget(from, to string) bool {
	explicit := x.def.transitionsFrom(from)
	if len(explicit) == 0 {
		// No explicit transitions declared for `from`: without an
		// explicit table to validate against, any declared state is
		// reachable via goto.
		for _, s := range x.def.States {
			if s == to {
				return true
			}
		}
		return false
	}
	for _, t := range explicit {
		if t.To == to {
			return true
		}
	}
	return false
}

// resolveNext implements §4.1.4's priority order for a `next` action (or no
// staged action, treated as next).
func (x *Executor) resolveNext(e *Execution, from string, a *Actions) string {
	if cond, ok := x.def.conditionalFrom(from); ok {
		wfCtx := newContext(context.Background(), e)
		for _, branch := range cond.Branches {
			if branch.Condition(wfCtx) {
				x.applyVirtualOutputs(e, branch.VirtualOutputs, wfCtx)
				return branch.To
			}
		}
		if cond.Default != "" {
			x.applyVirtualOutputs(e, cond.DefaultVirtualOutputs, wfCtx)
			return cond.Default
		}
		return ""
	}

	explicit := x.def.transitionsFrom(from)
	if len(explicit) > 0 {
		wfCtx := newContext(context.Background(), e)
		for _, t := range explicit {
			if t.Condition == nil || t.Condition(wfCtx) {
				return t.To
			}
		}
		return ""
	}

	// Automatic fallthrough (§4.1.4.3, disabled whenever `from` has any
	// explicit/conditional transition — already excluded by the two
	// branches above).
	return x.def.nextInEnumeration(from)
}

func (x *Executor) applyVirtualOutputs(e *Execution, values map[string]interface{}, wfCtx *Context) {
	for state, v := range values {
		if resolver, ok := v.(OutputResolver); ok {
			resolved, err := resolver(wfCtx)
			if err != nil {
				x.logger.Error("engine: virtual output resolver failed", err, "state", state)
				continue
			}
			e.Outputs[state] = resolved
			continue
		}
		e.Outputs[state] = v
	}
}

// applyDecision interprets an ErrorHandler's Decision for the failing state
// (§4.1.6).
func (x *Executor) applyDecision(ctx context.Context, e *Execution, spec StateSpec, from string, started time.Time, decision Decision, cause error) error {
	switch decision.Kind {
	case DecisionContinue:
		return x.interpretAction(ctx, e, spec, from, started, &Actions{kind: actionNext})
	case DecisionExit:
		// Status is left untouched per §4.1.6; the sentinel only tells run()
		// to stop iterating.
		return errExit{}
	case DecisionFail:
		x.appendTransition(e, from, from, TransitionFailure, cause, started, x.clock())
		e.Status = StatusFailed
		if spec.Hooks.OnFailure != nil {
			_ = spec.Hooks.OnFailure(newContext(ctx, e), cause)
		}
		return nil
	case DecisionFailNoPersist:
		return cause
	case DecisionStopRetry:
		x.appendTransition(e, from, from, TransitionFailure, cause, started, x.clock())
		e.Status = StatusFailed
		return nil
	case DecisionTransitionTo:
		completed := x.clock()
		e.History = append(e.History, StateTransition{
			From: from, To: from, StartedAt: started, CompletedAt: &completed,
			Duration: durationPtr(completed.Sub(started)), Status: TransitionErrorRecovery,
			Error: cause.Error(),
		})
		if decision.hasOutput {
			e.Outputs[from] = decision.Output
		}
		if !x.isValidGotoTarget(from, decision.Target) {
			return &InvalidTransitionError{WorkflowName: x.def.Name, From: from, To: decision.Target}
		}
		x.appendTransition(e, from, decision.Target, TransitionSuccess, nil, completed, x.clock())
		e.CurrentState = decision.Target
		return nil
	default:
		return cause
	}
}

// dispatchError builds an ErrorContext and calls the workflow's error
// handler. Absent a handler, every error behaves as DecisionFail (§4.1.6).
func (x *Executor) dispatchError(ctx context.Context, e *Execution, phase ErrorPhase, stateName string, err error, attempt, maxAttempts int) (Decision, error) {
	if x.def.ErrorHandler == nil {
		return Fail(), nil
	}
	decision, herr := x.def.ErrorHandler.Handle(ctx, ErrorContext{
		Error: err, Phase: phase, Execution: e, StateName: stateName,
		Attempt: attempt, MaxAttempts: maxAttempts,
	})
	if herr != nil {
		return Decision{}, herr
	}
	return decision, nil
}

// concurrencyModeLabel reports the metrics label for a workflow's
// concurrency mode, treating an absent config as PARALLEL (its admission
// behavior: no-op).
func concurrencyModeLabel(cfg *ConcurrencyConfig) string {
	if cfg == nil {
		return string(ModeParallel)
	}
	return string(cfg.Mode)
}

func retryMaxAttempts(cfg *RetryConfig) int {
	if cfg == nil {
		return 0
	}
	return cfg.MaxAttempts
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// errExit is a sentinel signaling the main loop should stop, used by
// DecisionExit (§4.1.6: "stop the loop, leave status untouched"). run still
// saves the record (status unchanged) and the plugins' AfterExecute hooks
// still fire; the workflow OnComplete/OnError hooks do not.
type errExit struct{}

func (errExit) Error() string { return "engine: execution halted by error handler (EXIT)" }
