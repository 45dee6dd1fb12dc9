// Package lintscale selects, schedules, caches and normalizes the results of
// code-quality tools run over a workspace.
package lintscale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine drives runs through selection, execution and normalization.
type Engine struct {
	// Core components
	catalog    Catalog
	selector   Selector
	executor   Executor
	normalizer Normalizer
	observer   Observer
	eventBus   eventbus.EventBus
	ownsBus    bool

	config Config
	logger zerolog.Logger

	// Async runs
	asyncRuns      map[string]*RunContext
	asyncRunsMutex sync.RWMutex
}

// Config holds the engine's runtime options.
type Config struct {
	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int

	// AsyncRetention is the default age after which CleanupCompletedRuns drops finished runs.
	AsyncRetention time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnableEventBus:      false,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 2,
		AsyncRetention:      10 * time.Minute,
	}
}

// Option is a function that configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithCatalog sets the tool catalog.
func WithCatalog(catalog Catalog) Option {
	return func(e *Engine) {
		e.catalog = catalog
	}
}

// WithSelector sets the selection stage.
func WithSelector(selector Selector) Option {
	return func(e *Engine) {
		e.selector = selector
	}
}

// WithExecutor sets the execution stage.
func WithExecutor(executor Executor) Option {
	return func(e *Engine) {
		e.executor = executor
	}
}

// WithNormalizer sets the normalization stage.
func WithNormalizer(normalizer Normalizer) Option {
	return func(e *Engine) {
		e.normalizer = normalizer
	}
}

// WithObserver adds an observer notified during every run.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an Engine with the provided options.
func New(options ...Option) (*Engine, error) {
	e := &Engine{
		config:    DefaultConfig(),
		logger:    zerolog.Nop(),
		asyncRuns: make(map[string]*RunContext),
	}
	for _, option := range options {
		option(e)
	}

	if e.catalog == nil {
		return nil, NewConfigurationError("catalog is required", nil)
	}
	if e.selector == nil {
		return nil, NewConfigurationError("selector is required", nil)
	}
	if e.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}
	if e.normalizer == nil {
		return nil, NewConfigurationError("normalizer is required", nil)
	}

	if e.config.EnableEventBus && e.eventBus == nil {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
			eventbus.WithLogger(e.logger),
		)
		e.ownsBus = true
		e.logger.Debug().Msg("initialized default channel-based event bus")
	}
	return e, nil
}

// Catalog returns the engine's tool catalog.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// EventBus returns the bus run events are published on, or nil.
func (e *Engine) EventBus() eventbus.EventBus {
	return e.eventBus
}

// Close releases the event bus if the engine created it.
func (e *Engine) Close() error {
	if e.ownsBus && e.eventBus != nil {
		return e.eventBus.Close()
	}
	return nil
}

// Plan computes the plan a run would execute without running anything.
func (e *Engine) Plan(facts WorkspaceFacts, mods SelectionModifiers) (*Plan, error) {
	return e.selector.Select(e.catalog, facts, mods)
}

// Run performs one complete run. A SelectionError aborts the run before anything is
// launched; a cancellation before execution returns the context error; a cancellation
// during execution yields a partial result flagged Cancelled.
func (e *Engine) Run(ctx context.Context, facts WorkspaceFacts, mods SelectionModifiers) (*RunResult, error) {
	rc := NewRunContext(uuid.New().String(), facts, mods)
	return e.createStateMachine().Execute(ctx, rc)
}

// createStateMachine builds a state machine wired to the engine's components.
func (e *Engine) createStateMachine() *StateMachine {
	components := RunComponents{
		Catalog:    e.catalog,
		Selector:   e.selector,
		Executor:   e.executor,
		Normalizer: e.normalizer,
		Observer:   e.observer,
		Logger:     e.logger,
	}
	return CreateRunStateMachine(components, e.EventBus())
}

// RunAsync starts a run in the background and returns its id.
// The run is detached from ctx; use CancelAsyncRun to stop it.
func (e *Engine) RunAsync(ctx context.Context, facts WorkspaceFacts, mods SelectionModifiers) (string, error) {
	runID := uuid.New().String()
	rc := NewRunContext(runID, facts, mods)
	asyncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rc.cancel = cancel

	e.asyncRunsMutex.Lock()
	e.asyncRuns[runID] = rc
	e.asyncRunsMutex.Unlock()

	bus := e.EventBus()
	publish(ctx, bus, eventbus.New(eventbus.EventRunAsyncStarted, runID).With("root", facts.Root))

	sm := e.createStateMachine()
	go func() {
		defer cancel()
		result, err := sm.Execute(asyncCtx, rc)

		evt := eventbus.New(eventbus.EventRunAsyncSuccess, runID).
			With("duration_ms", rc.GetTotalDuration().Milliseconds())
		switch {
		case err != nil:
			_, stage := rc.Err()
			evt.Type = eventbus.EventRunAsyncFailure
			evt = evt.With("error", err.Error()).With("stage", stage)
		case result != nil && result.Cancelled:
			evt.Type = eventbus.EventRunAsyncCancelled
		}
		if result != nil {
			evt = evt.With("exit_code", result.ExitCode)
		}
		publish(context.Background(), bus, evt)
	}()

	return runID, nil
}

func (e *Engine) lookupRun(runID string) (*RunContext, error) {
	e.asyncRunsMutex.RLock()
	defer e.asyncRunsMutex.RUnlock()
	rc, exists := e.asyncRuns[runID]
	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}
	return rc, nil
}
