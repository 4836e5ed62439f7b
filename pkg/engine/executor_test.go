package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinCK/flowmesh/pkg/engine"
	"github.com/RobinCK/flowmesh/pkg/engine/lock/memlock"
	"github.com/RobinCK/flowmesh/pkg/engine/persistence/memstore"
)

func newTestEngine() *engine.Engine {
	return engine.New(memstore.New(), memlock.New(), nil)
}

// S1. Linear 3-state: all three handlers call next with an incrementing
// step output, no transitions declared (automatic fallthrough).
func TestScenarioLinearThreeState(t *testing.T) {
	step := func(n int) engine.StateHandlerFunc {
		return func(ctx *engine.Context, actions *engine.Actions) error {
			actions.Next(nil, map[string]interface{}{"step": n})
			return nil
		}
	}

	def, err := engine.NewDefinitionBuilder("linear", []string{"A", "B", "C"}, "A").
		BindState("A", engine.StateSpec{Handler: step(1)}).
		BindState("B", engine.StateSpec{Handler: step(2)}).
		BindState("C", engine.StateSpec{Handler: step(3)}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	result, err := en.Execute(context.Background(), "linear", engine.ExecuteOptions{
		Data: map[string]interface{}{"counter": 0},
	})
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCompleted, result.Status)
	assert.Equal(t, "C", result.CurrentState)
	require.Len(t, result.History, 2)
	assert.Equal(t, "A", result.History[0].From)
	assert.Equal(t, "B", result.History[0].To)
	assert.Equal(t, engine.TransitionSuccess, result.History[0].Status)
	assert.Equal(t, "B", result.History[1].From)
	assert.Equal(t, "C", result.History[1].To)

	assert.Equal(t, map[string]interface{}{"step": 1}, result.Outputs["A"])
	assert.Equal(t, map[string]interface{}{"step": 2}, result.Outputs["B"])
	assert.Equal(t, map[string]interface{}{"step": 3}, result.Outputs["C"])
}

// S2. Conditional routing: START branches on `value`, default from
// HIGH/MEDIUM/LOW to END.
func TestScenarioConditionalRouting(t *testing.T) {
	passthrough := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		actions.Next(nil, map[string]interface{}{"visited": ctx.CurrentState})
		return nil
	})

	states := []string{"START", "HIGH", "MEDIUM", "LOW", "END"}
	builder := engine.NewDefinitionBuilder("routing", states, "START")
	for _, s := range states {
		builder = builder.BindState(s, engine.StateSpec{Handler: passthrough})
	}
	def, err := builder.
		AddConditional(engine.ConditionalTransition{
			From: "START",
			Branches: []engine.ConditionalBranch{
				{Condition: func(ctx *engine.Context) bool { return ctx.Data["value"].(int) > 100 }, To: "HIGH"},
				{Condition: func(ctx *engine.Context) bool { return ctx.Data["value"].(int) > 50 }, To: "MEDIUM"},
			},
			Default: "LOW",
		}).
		AddConditional(engine.ConditionalTransition{From: "HIGH", Default: "END"}).
		AddConditional(engine.ConditionalTransition{From: "MEDIUM", Default: "END"}).
		AddConditional(engine.ConditionalTransition{From: "LOW", Default: "END"}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	result, err := en.Execute(context.Background(), "routing", engine.ExecuteOptions{
		Data: map[string]interface{}{"value": 75},
	})
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCompleted, result.Status)
	require.Len(t, result.History, 2)
	assert.Equal(t, "START", result.History[0].From)
	assert.Equal(t, "MEDIUM", result.History[0].To)
	assert.Equal(t, "MEDIUM", result.History[1].From)
	assert.Equal(t, "END", result.History[1].To)

	_, hasMedium := result.Outputs["MEDIUM"]
	assert.True(t, hasMedium)
	_, hasHigh := result.Outputs["HIGH"]
	assert.False(t, hasHigh)
	_, hasLow := result.Outputs["LOW"]
	assert.False(t, hasLow)
}

// S3. Retry exhaustion routes through the error handler's TRANSITION_TO.
func TestScenarioRetryExhaustionTransitionsToRecovery(t *testing.T) {
	boom := errors.New("processing failed")
	processing := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		return boom
	})
	recovery := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		actions.Complete(nil)
		return nil
	})

	def, err := engine.NewDefinitionBuilder("recover", []string{"PROCESSING", "RECOVERY"}, "PROCESSING").
		BindState("PROCESSING", engine.StateSpec{
			Handler: processing,
			Retry: &engine.RetryConfig{
				MaxAttempts:  3,
				Strategy:     engine.RetryFixed,
				InitialDelay: time.Millisecond,
			},
		}).
		BindState("RECOVERY", engine.StateSpec{Handler: recovery}).
		WithErrorHandler(engine.ErrorHandlerFunc(func(ctx context.Context, errCtx engine.ErrorContext) (engine.Decision, error) {
			return engine.TransitionTo("RECOVERY", map[string]interface{}{
				"recovered": false,
				"reason":    errCtx.Error.Error(),
			}), nil
		})).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	result, err := en.Execute(context.Background(), "recover", engine.ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCompleted, result.Status)
	output, ok := result.Outputs["PROCESSING"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, output["recovered"])
	assert.Contains(t, output["reason"], boom.Error())

	var errorRecovery, success int
	for _, tr := range result.History {
		switch tr.Status {
		case engine.TransitionErrorRecovery:
			errorRecovery++
			assert.Equal(t, "PROCESSING", tr.From)
			assert.Equal(t, "PROCESSING", tr.To)
		case engine.TransitionSuccess:
			if tr.From == "PROCESSING" && tr.To == "RECOVERY" {
				success++
			}
		}
	}
	assert.Equal(t, 1, errorRecovery)
	assert.Equal(t, 1, success)

	// P6: failure self-transitions are bounded by maxAttempts-1.
	var failures int
	for _, tr := range result.History {
		if tr.Status == engine.TransitionFailure && tr.From == "PROCESSING" {
			failures++
		}
	}
	assert.LessOrEqual(t, failures, 2)
}

// S4. Suspend then resume with strategy RETRY.
func TestScenarioSuspendResume(t *testing.T) {
	waiting := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		payment := ctx.Data["payment"].(map[string]interface{})
		if payment["status"] == "pending" {
			actions.Suspend("payment_approval", nil)
			return nil
		}
		actions.Complete(nil)
		return nil
	})

	def, err := engine.NewDefinitionBuilder("payment", []string{"WAITING"}, "WAITING").
		BindState("WAITING", engine.StateSpec{Handler: waiting}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	result, err := en.Execute(context.Background(), "payment", engine.ExecuteOptions{
		Data: map[string]interface{}{"payment": map[string]interface{}{"status": "pending"}},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuspended, result.Status)
	assert.Equal(t, "WAITING", result.CurrentState)
	require.NotNil(t, result.Suspension)
	assert.Equal(t, "payment_approval", result.Suspension.WaitingFor)
	historyAtSuspend := len(result.History)

	resumed, err := en.Resume(context.Background(), "payment", result.ID, engine.ResumeOptions{
		Strategy: engine.ResumeRetry,
		Data:     map[string]interface{}{"payment": map[string]interface{}{"status": "approved"}},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, resumed.Status)
	assert.Nil(t, resumed.Suspension)
	assert.Greater(t, len(resumed.History), historyAtSuspend)
}

// S5. SEQUENTIAL admission: two concurrent executions sharing a groupId
// contend for one lock; distinct groupIds both complete.
func TestScenarioSequentialAdmission(t *testing.T) {
	slow := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		time.Sleep(20 * time.Millisecond)
		actions.Complete(nil)
		return nil
	})

	def, err := engine.NewDefinitionBuilder("seq", []string{"ONLY"}, "ONLY").
		BindState("ONLY", engine.StateSpec{Handler: slow}).
		WithConcurrency(engine.ConcurrencyConfig{GroupByName: "userId", Mode: engine.ModeSequential}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var completed, lockErrors int
	run := func(userID string) {
		defer wg.Done()
		_, err := en.Execute(context.Background(), "seq", engine.ExecuteOptions{
			Data: map[string]interface{}{"userId": userID},
		})
		mu.Lock()
		defer mu.Unlock()
		var lockErr *engine.LockAcquisitionError
		if errors.As(err, &lockErr) {
			lockErrors++
		} else if err == nil {
			completed++
		}
	}

	wg.Add(2)
	go run("u1")
	go run("u1")
	wg.Wait()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, lockErrors)

	completed, lockErrors = 0, 0
	wg.Add(2)
	go run("u1")
	go run("u2")
	wg.Wait()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 0, lockErrors)
}

// S6. Virtual outputs skip real execution of the states they name.
func TestScenarioVirtualOutputsSkipExecution(t *testing.T) {
	var invoked []string
	var mu sync.Mutex
	track := func(name string) engine.StateHandlerFunc {
		return func(ctx *engine.Context, actions *engine.Actions) error {
			mu.Lock()
			invoked = append(invoked, name)
			mu.Unlock()
			actions.Next(nil)
			return nil
		}
	}

	states := []string{"START", "VALIDATION", "PAYMENT", "SHIPPING", "END"}
	builder := engine.NewDefinitionBuilder("checkout", states, "START")
	for _, s := range states {
		builder = builder.BindState(s, engine.StateSpec{Handler: track(s)})
	}
	def, err := builder.
		AddConditional(engine.ConditionalTransition{
			From: "START",
			Branches: []engine.ConditionalBranch{
				{
					Condition: func(ctx *engine.Context) bool { return ctx.Data["isPremium"] == true },
					To:        "END",
					VirtualOutputs: map[string]interface{}{
						"VALIDATION": map[string]interface{}{"skipped": true},
						"PAYMENT":    map[string]interface{}{"skipped": true},
						"SHIPPING":   map[string]interface{}{"skipped": true},
					},
				},
			},
		}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	result, err := en.Execute(context.Background(), "checkout", engine.ExecuteOptions{
		Data: map[string]interface{}{"isPremium": true},
	})
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCompleted, result.Status)
	require.Len(t, result.History, 1)
	assert.Equal(t, "START", result.History[0].From)
	assert.Equal(t, "END", result.History[0].To)

	assert.Equal(t, map[string]interface{}{"skipped": true}, result.Outputs["VALIDATION"])
	assert.Equal(t, map[string]interface{}{"skipped": true}, result.Outputs["PAYMENT"])
	assert.Equal(t, map[string]interface{}{"skipped": true}, result.Outputs["SHIPPING"])

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, invoked, "VALIDATION")
	assert.NotContains(t, invoked, "PAYMENT")
	assert.NotContains(t, invoked, "SHIPPING")
}

// P7: a state's self-transition duration never exceeds its declared timeout
// by more than implementation overhead.
func TestTimeoutBoundedness(t *testing.T) {
	blocked := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		time.Sleep(200 * time.Millisecond)
		actions.Next(nil)
		return nil
	})

	def, err := engine.NewDefinitionBuilder("timeout", []string{"SLOW"}, "SLOW").
		BindState("SLOW", engine.StateSpec{Handler: blocked, Timeout: 20 * time.Millisecond}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)

	result, err := en.Execute(context.Background(), "timeout", engine.ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFailed, result.Status)

	require.Len(t, result.History, 1)
	require.NotNil(t, result.History[0].Duration)
	assert.LessOrEqual(t, *result.History[0].Duration, 100*time.Millisecond)
}

// P1: history entries are wall-clock monotone, completedAt[i] <= startedAt[i+1].
func TestHistoryMonotonicity(t *testing.T) {
	step := func(n int) engine.StateHandlerFunc {
		return func(ctx *engine.Context, actions *engine.Actions) error {
			actions.Next(nil, fmt.Sprintf("out-%d", n))
			return nil
		}
	}
	def, err := engine.NewDefinitionBuilder("mono", []string{"A", "B", "C"}, "A").
		BindState("A", engine.StateSpec{Handler: step(1)}).
		BindState("B", engine.StateSpec{Handler: step(2)}).
		BindState("C", engine.StateSpec{Handler: step(3)}).
		Build()
	require.NoError(t, err)

	en := newTestEngine()
	en.Register(def)
	result, err := en.Execute(context.Background(), "mono", engine.ExecuteOptions{})
	require.NoError(t, err)

	for i := 0; i < len(result.History)-1; i++ {
		require.NotNil(t, result.History[i].CompletedAt)
		assert.False(t, result.History[i].CompletedAt.After(result.History[i+1].StartedAt))
	}
}
