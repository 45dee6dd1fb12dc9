package lintscale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
)

// RunState is the current stage of a run.
type RunState string

const (
	// StateInit is the initial state of a run
	StateInit RunState = "init"
	// StateSelecting computes the plan
	StateSelecting RunState = "selecting"
	// StateExecuting runs the plan
	StateExecuting RunState = "executing"
	// StateNormalizing turns outcomes into diagnostics
	StateNormalizing RunState = "normalizing"
	// StateError represents an error state
	StateError RunState = "error"
	// StateComplete represents the completed state
	StateComplete RunState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled RunState = "cancelled"
	// StateUnknown is reported when the state of an async run cannot be determined.
	StateUnknown RunState = "unknown"
)

// RunContext carries the inputs and intermediate products of one run.
// The state machine is the only writer; status accessors may be called concurrently.
type RunContext struct {
	RunID     string
	Facts     WorkspaceFacts
	Modifiers SelectionModifiers

	// Intermediate results
	Plan      *Plan
	Execution *Execution

	mu              sync.RWMutex
	result          *RunResult
	lastError       error
	errorStage      string
	currentState    RunState
	history         []RunState
	startTime       time.Time
	endTime         time.Time
	stateStartTimes map[RunState]time.Time
	cancel          context.CancelFunc
}

// NewRunContext creates a run context in the init state.
func NewRunContext(runID string, facts WorkspaceFacts, mods SelectionModifiers) *RunContext {
	now := time.Now()
	return &RunContext{
		RunID:           runID,
		Facts:           facts,
		Modifiers:       mods,
		currentState:    StateInit,
		startTime:       now,
		stateStartTimes: map[RunState]time.Time{StateInit: now},
	}
}

// State returns the current state.
func (rc *RunContext) State() RunState {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.currentState
}

// History returns the states the run has left, oldest first.
func (rc *RunContext) History() []RunState {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return append([]RunState(nil), rc.history...)
}

func (rc *RunContext) transition(state RunState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.enter(state)
}

// enter must be called with mu held.
func (rc *RunContext) enter(state RunState) {
	if state == rc.currentState {
		return
	}
	rc.history = append(rc.history, rc.currentState)
	rc.currentState = state
	rc.stateStartTimes[state] = time.Now()
}

// IsTerminal reports whether the run is complete, failed or cancelled.
func (rc *RunContext) IsTerminal() bool {
	switch rc.State() {
	case StateComplete, StateError, StateCancelled:
		return true
	}
	return false
}

// SetError records err and moves the run to StateError.
func (rc *RunContext) SetError(err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.lastError = err
	rc.errorStage = stage
	rc.enter(StateError)
	rc.endTime = time.Now()
}

// SetCancelled records the cancellation cause and moves the run to StateCancelled.
func (rc *RunContext) SetCancelled(err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.lastError = err
	rc.errorStage = stage
	rc.enter(StateCancelled)
	rc.endTime = time.Now()
}

// Complete stores the result and marks the run complete.
func (rc *RunContext) Complete(result *RunResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.result = result
	rc.enter(StateComplete)
	rc.endTime = time.Now()
}

// Result returns the final result and the error that ended the run, if any.
func (rc *RunContext) Result() (*RunResult, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.result, rc.lastError
}

// Err returns the last error and the stage it was recorded in.
func (rc *RunContext) Err() (error, string) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.lastError, rc.errorStage
}

// StartTime returns when the run was created.
func (rc *RunContext) StartTime() time.Time {
	return rc.startTime
}

// EndTime returns when the run reached a terminal state, or the zero time.
func (rc *RunContext) EndTime() time.Time {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.endTime
}

// GetStateDuration returns how long the run has been in state, if it is the current one.
func (rc *RunContext) GetStateDuration(state RunState) time.Duration {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	start, ok := rc.stateStartTimes[state]
	if !ok || state != rc.currentState {
		return 0
	}
	return time.Since(start)
}

// GetTotalDuration returns the total duration of the run so far.
func (rc *RunContext) GetTotalDuration() time.Duration {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if !rc.endTime.IsZero() {
		return rc.endTime.Sub(rc.startTime)
	}
	return time.Since(rc.startTime)
}

// StateTransition runs one state and returns the next.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, rc *RunContext) (RunState, error)

// StateMachine drives a RunContext through its transitions.
type StateMachine struct {
	transitions map[RunState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine publishing on eventBus, which may be nil.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[RunState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state RunState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until it reaches a terminal state.
// Cancellation is honoured between states until execution has produced outcomes;
// from then on the partial execution is still normalized into a result.
func (sm *StateMachine) Execute(ctx context.Context, rc *RunContext) (*RunResult, error) {
	for !rc.IsTerminal() {
		state := rc.State()
		if rc.Execution == nil && ctx.Err() != nil {
			rc.SetCancelled(ctx.Err(), string(state))
			break
		}

		transition, exists := sm.transitions[state]
		if !exists {
			rc.SetError(NewInternalError(string(state), fmt.Sprintf("no transition defined for state: %s", state), nil), string(state))
			break
		}

		next, err := transition(ctx, sm.eventBus, rc)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rc.SetCancelled(err, string(state))
			} else if !rc.IsTerminal() {
				rc.SetError(err, string(state))
			}
			continue
		}
		if !rc.IsTerminal() {
			rc.transition(next)
		}
	}
	return rc.Result()
}
