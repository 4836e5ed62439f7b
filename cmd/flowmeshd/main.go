package main

import (
	"context"
	"fmt"

	"github.com/RobinCK/flowmesh/pkg/config"
	"github.com/RobinCK/flowmesh/pkg/engine"
	"github.com/RobinCK/flowmesh/pkg/engine/lock/memlock"
	"github.com/RobinCK/flowmesh/pkg/engine/persistence/memstore"
	"github.com/RobinCK/flowmesh/pkg/logger"
)

// onboarding is a minimal three-state workflow used to demonstrate wiring an
// Engine end to end: validate, provision, notify.
func registerOnboarding(en *engine.Engine) {
	validate := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		email, _ := ctx.Data["email"].(string)
		if email == "" {
			actions.Suspend("missing_email", nil)
			return nil
		}
		actions.Next(nil, map[string]interface{}{"validated": true})
		return nil
	})
	provision := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		actions.Next(nil, map[string]interface{}{"accountId": "acct_demo"})
		return nil
	})
	notify := engine.StateHandlerFunc(func(ctx *engine.Context, actions *engine.Actions) error {
		actions.Complete(nil, map[string]interface{}{"notified": true})
		return nil
	})

	def, err := engine.NewDefinitionBuilder("onboarding", []string{"VALIDATE", "PROVISION", "NOTIFY"}, "VALIDATE").
		BindState("VALIDATE", engine.StateSpec{Handler: validate}).
		BindState("PROVISION", engine.StateSpec{Handler: provision}).
		BindState("NOTIFY", engine.StateSpec{Handler: notify}).
		WithErrorHandler(engine.ErrorHandlerFunc(func(ctx context.Context, errCtx engine.ErrorContext) (engine.Decision, error) {
			return engine.Fail(), nil
		})).
		Build()
	if err != nil {
		panic(fmt.Errorf("register onboarding: %w", err))
	}
	en.Register(def)
}

func main() {
	cfg, err := config.Load("flowmeshd")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger.ToLoggerConfig())

	en := engine.New(memstore.New(), memlock.New(), engine.LoggerAdapter{L: log})
	registerOnboarding(en)

	ctx := context.Background()
	result, err := en.Execute(ctx, "onboarding", engine.ExecuteOptions{
		Data: map[string]interface{}{"email": "demo@example.com"},
	})
	if err != nil {
		log.Fatal("onboarding execution failed", "error", err)
	}

	log.Info("onboarding execution finished",
		"executionId", result.ID,
		"status", result.Status,
		"currentState", result.CurrentState,
	)
}
