package engine

import (
	"context"
	"sync"

	"github.com/RobinCK/flowmesh/pkg/engine/metrics"
	"github.com/RobinCK/flowmesh/pkg/engine/tracing"
)

// Engine is the thin façade: it holds one Executor per workflow name,
// auto-registering on first use, and wires persistence/lock/hooks through
// to each (§4.4, §2 "Engine facade ≈15%, thin orchestrator").
type Engine struct {
	mu          sync.RWMutex
	executors   map[string]*Executor
	defs        map[string]*Definition
	persistence Persistence
	lock        Lock
	logger      Logger
	plugins     []Plugin
	breaker     BreakerGate
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
}

// New constructs an Engine. lock may be nil for workflows that only use
// PARALLEL concurrency; persistence may be nil for fire-and-forget,
// unresumable executions (findExecutions/getExecution then return
// empty/nil, §4.4).
func New(persistence Persistence, lock Lock, logger Logger, plugins ...Plugin) *Engine {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Engine{
		executors:   make(map[string]*Executor),
		defs:        make(map[string]*Definition),
		persistence: persistence,
		lock:        lock,
		logger:      logger,
		plugins:     plugins,
	}
}

// WithBreaker attaches an optional circuit-breaker seam to every executor
// this Engine creates from now on.
func (en *Engine) WithBreaker(b BreakerGate) *Engine {
	en.breaker = b
	return en
}

// WithMetrics attaches an optional Prometheus seam to every executor this
// Engine creates from now on.
func (en *Engine) WithMetrics(m *metrics.Collector) *Engine {
	en.metrics = m
	return en
}

// WithTracer attaches an optional OpenTelemetry seam to every executor this
// Engine creates from now on.
func (en *Engine) WithTracer(t *tracing.Tracer) *Engine {
	en.tracer = t
	return en
}

// Register compiles and binds a workflow definition, making it available to
// Execute/Resume under def.Name.
func (en *Engine) Register(def *Definition) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.defs[def.Name] = def
	concurrency := NewConcurrencyManager(en.lock, en.persistence)
	x := NewExecutor(def, en.persistence, concurrency, en.logger, en.plugins...)
	if en.breaker != nil {
		x = x.WithBreaker(en.breaker)
	}
	if en.metrics != nil {
		x = x.WithMetrics(en.metrics)
	}
	if en.tracer != nil {
		x = x.WithTracer(en.tracer)
	}
	en.executors[def.Name] = x
}

func (en *Engine) executor(workflowName string) (*Executor, error) {
	en.mu.RLock()
	defer en.mu.RUnlock()
	x, ok := en.executors[workflowName]
	if !ok {
		return nil, &UnknownWorkflowError{WorkflowName: workflowName}
	}
	return x, nil
}

// Execute starts a fresh execution of the named workflow.
func (en *Engine) Execute(ctx context.Context, workflowName string, opts ExecuteOptions) (*Execution, error) {
	x, err := en.executor(workflowName)
	if err != nil {
		return nil, err
	}
	return x.Execute(ctx, opts)
}

// Resume continues a SUSPENDED execution of the named workflow.
func (en *Engine) Resume(ctx context.Context, workflowName, executionID string, opts ResumeOptions) (*Execution, error) {
	x, err := en.executor(workflowName)
	if err != nil {
		return nil, err
	}
	return x.Resume(ctx, executionID, opts)
}

// FindExecutions delegates to the persistence adapter; it returns an empty
// slice when no persistence is configured (§4.4).
func (en *Engine) FindExecutions(ctx context.Context, filter Filter) ([]*Execution, error) {
	if en.persistence == nil {
		return nil, nil
	}
	return en.persistence.Find(ctx, filter)
}

// GetExecution delegates to the persistence adapter; it returns nil when no
// persistence is configured.
func (en *Engine) GetExecution(ctx context.Context, id string) (*Execution, error) {
	if en.persistence == nil {
		return nil, nil
	}
	e, err := en.persistence.Load(ctx, id)
	if err == ErrNotFound {
		return nil, nil
	}
	return e, err
}

// Definition returns the compiled definition registered under name, if any.
func (en *Engine) Definition(name string) (*Definition, bool) {
	en.mu.RLock()
	defer en.mu.RUnlock()
	d, ok := en.defs[name]
	return d, ok
}

type nopLogger struct{}

func (nopLogger) Log(msg string, ctx ...interface{}) {}
func (nopLogger) Debug(msg string, ctx ...interface{}) {}
func (nopLogger) Warn(msg string, ctx ...interface{}) {}
func (nopLogger) Error(msg string, err error, ctx ...interface{}) {}
