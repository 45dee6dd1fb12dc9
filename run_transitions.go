package lintscale

import (
	"context"

	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
	"github.com/rs/zerolog"
)

// RunComponents are the collaborators the state machine drives.
type RunComponents struct {
	Catalog    Catalog
	Selector   Selector
	Executor   Executor
	Normalizer Normalizer
	Observer   Observer
	Logger     zerolog.Logger
}

// CreateRunStateMachine builds the state machine for one run.
func CreateRunStateMachine(components RunComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)
	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateSelecting, createSelectingTransition(components))
	sm.RegisterTransition(StateExecuting, createExecutingTransition(components))
	sm.RegisterTransition(StateNormalizing, createNormalizingTransition(components))
	return sm
}

// publish is a no-op without a bus. Events outlive the run's cancellation.
func publish(ctx context.Context, eb eventbus.EventBus, evt eventbus.Event) {
	if eb == nil {
		return
	}
	_ = eb.Publish(context.WithoutCancel(ctx), evt)
}

func publishFailure(ctx context.Context, eb eventbus.EventBus, runID, stage string, err error) {
	publish(ctx, eb, eventbus.New(eventbus.EventRunFailed, runID).
		WithSource(stage).
		With("stage", stage).
		With("error", err.Error()))
}

func createInitTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		components.Logger.Info().
			Str("run_id", rc.RunID).
			Str("root", rc.Facts.Root).
			Int("files", len(rc.Facts.Files)).
			Msg("run started")
		publish(ctx, eb, eventbus.New(eventbus.EventRunStarted, rc.RunID).
			WithSource("init").
			With("root", rc.Facts.Root).
			With("files", len(rc.Facts.Files)))
		return StateSelecting, nil
	}
}

func createSelectingTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		publish(ctx, eb, eventbus.New(eventbus.EventSelectionStarted, rc.RunID).WithSource("selecting"))

		plan, err := components.Selector.Select(components.Catalog, rc.Facts, rc.Modifiers)
		if err != nil {
			components.Logger.Error().Err(err).Str("run_id", rc.RunID).Msg("tool selection failed")
			publish(ctx, eb, eventbus.New(eventbus.EventSelectionFailed, rc.RunID).WithSource("selecting").With("error", err.Error()))
			publishFailure(ctx, eb, rc.RunID, "selection", err)
			return StateError, err
		}

		components.Logger.Info().
			Str("run_id", rc.RunID).
			Strs("tools", plan.ToolIDs()).
			Int("entries", len(plan.Entries)).
			Msg("plan selected")
		publish(ctx, eb, eventbus.New(eventbus.EventSelectionCompleted, rc.RunID).
			WithSource("selecting").
			With("tools", plan.ToolIDs()).
			With("entries", len(plan.Entries)))
		rc.Plan = plan
		return StateExecuting, nil
	}
}

func createExecutingTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		var observers Observers
		if eb != nil {
			observers = append(observers, NewBusObserver(ctx, eb, rc.RunID))
		}
		if components.Observer != nil {
			observers = append(observers, components.Observer)
		}

		exec, err := components.Executor.Execute(ctx, rc.Plan, rc.Facts, observers)
		if err != nil {
			publishFailure(ctx, eb, rc.RunID, "execution", err)
			return StateError, NewInternalError("execution", "plan execution failed", err)
		}
		rc.Execution = exec
		return StateNormalizing, nil
	}
}

func createNormalizingTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		publish(ctx, eb, eventbus.New(eventbus.EventNormalizationStarted, rc.RunID).
			WithSource("normalizing").
			With("outcomes", len(rc.Execution.Outcomes)))

		result, err := components.Normalizer.Normalize(rc.Execution, rc.Plan, rc.Facts)
		if err != nil {
			publishFailure(ctx, eb, rc.RunID, "normalization", err)
			return StateError, err
		}
		result.RunID = rc.RunID

		publish(ctx, eb, eventbus.New(eventbus.EventNormalizationCompleted, rc.RunID).
			WithSource("normalizing").
			With("diagnostics", len(result.Diagnostics)).
			With("suppressed", result.Suppressed).
			With("deduplicated", result.Deduplicated))

		final := eventbus.EventRunCompleted
		if result.Cancelled {
			final = eventbus.EventRunCancelled
		}
		publish(ctx, eb, eventbus.New(final, rc.RunID).
			WithSource("normalizing").
			With("exit_code", result.ExitCode).
			With("diagnostics", len(result.Diagnostics)).
			With("cache_hit_ratio", result.Stats.CacheHitRatio()))
		components.Logger.Info().
			Str("run_id", rc.RunID).
			Int("diagnostics", len(result.Diagnostics)).
			Int("exit_code", result.ExitCode).
			Bool("cancelled", result.Cancelled).
			Msg("run finished")

		rc.Complete(result)
		return StateComplete, nil
	}
}
