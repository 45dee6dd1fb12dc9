package lintscale

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
)

// AsyncRunStatus represents the status information for an async run.
type AsyncRunStatus struct {
	RunID        string        `json:"run_id"`
	Root         string        `json:"root"`
	CurrentState RunState      `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	IsCancelled  bool          `json:"is_cancelled"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// GetAsyncStatus retrieves the current status of an async run.
func (e *Engine) GetAsyncStatus(runID string) (*AsyncRunStatus, error) {
	rc, err := e.lookupRun(runID)
	if err != nil {
		return nil, err
	}

	state := rc.State()
	status := &AsyncRunStatus{
		RunID:        runID,
		Root:         rc.Facts.Root,
		CurrentState: state,
		StartTime:    rc.StartTime(),
		Duration:     rc.GetTotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateError,
		IsCancelled:  state == StateCancelled,
	}
	if lastErr, stage := rc.Err(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = stage
	}
	if result, _ := rc.Result(); result != nil && result.Cancelled {
		status.IsCancelled = true
	}
	return status, nil
}

// GetAsyncResult retrieves the result of a finished async run.
// Returns an error if the run is still in progress, failed or was cancelled before execution.
func (e *Engine) GetAsyncResult(runID string) (*RunResult, error) {
	rc, err := e.lookupRun(runID)
	if err != nil {
		return nil, err
	}

	switch state := rc.State(); state {
	case StateComplete:
		result, _ := rc.Result()
		return result, nil
	case StateError, StateCancelled:
		lastErr, stage := rc.Err()
		return nil, fmt.Errorf("run ended in state '%s' during stage '%s': %w", state, stage, lastErr)
	default:
		return nil, fmt.Errorf("run is still in progress (current state: %s)", state)
	}
}

// CancelAsyncRun cancels an ongoing async run.
// Returns true if the run was signalled, false if it had already finished.
// A run cancelled during execution still completes with a partial, cancelled result.
func (e *Engine) CancelAsyncRun(runID string) (bool, error) {
	rc, err := e.lookupRun(runID)
	if err != nil {
		return false, err
	}
	if rc.IsTerminal() {
		return false, nil
	}
	if rc.cancel == nil {
		return false, fmt.Errorf("cannot cancel run: cancel function not found")
	}
	rc.cancel()

	publish(context.Background(), e.EventBus(), eventbus.New(eventbus.EventRunAsyncCancelled, runID).
		WithSource("cancel").
		With("duration_ms", rc.GetTotalDuration().Milliseconds()))
	return true, nil
}

// ListAsyncRuns returns all async run ids and their current states.
func (e *Engine) ListAsyncRuns() map[string]string {
	e.asyncRunsMutex.RLock()
	defer e.asyncRunsMutex.RUnlock()

	result := make(map[string]string, len(e.asyncRuns))
	for id, rc := range e.asyncRuns {
		result[id] = string(rc.State())
	}
	return result
}

// CleanupCompletedRuns removes finished runs that ended more than olderThan ago.
// A non-positive olderThan uses Config.AsyncRetention.
func (e *Engine) CleanupCompletedRuns(olderThan time.Duration) int {
	if olderThan <= 0 {
		olderThan = e.config.AsyncRetention
	}
	e.asyncRunsMutex.Lock()
	defer e.asyncRunsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, rc := range e.asyncRuns {
		if !rc.IsTerminal() {
			continue
		}
		if end := rc.EndTime(); !end.IsZero() && now.Sub(end) > olderThan {
			delete(e.asyncRuns, id)
			count++
		}
	}
	return count
}

// WaitAsyncRun blocks until the run finishes or ctx is done.
func (e *Engine) WaitAsyncRun(ctx context.Context, runID string) (*RunResult, error) {
	rc, err := e.lookupRun(runID)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !rc.IsTerminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return e.GetAsyncResult(runID)
}
