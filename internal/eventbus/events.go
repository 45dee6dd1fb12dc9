package eventbus

import (
	"context"
	"slices"
	"time"
)

// EventType names a run lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventRunCancelled EventType = "run_cancelled"

	EventSelectionStarted   EventType = "selection_started"
	EventSelectionCompleted EventType = "selection_completed"
	EventSelectionFailed    EventType = "selection_failed"

	EventPhaseStarted   EventType = "phase_started"
	EventPhaseCompleted EventType = "phase_completed"
	EventToolCompleted  EventType = "tool_completed"
	EventToolFailed     EventType = "tool_failed"
	EventToolCacheHit   EventType = "tool_cache_hit"
	EventToolSkipped    EventType = "tool_skipped"

	EventNormalizationStarted   EventType = "normalization_started"
	EventNormalizationCompleted EventType = "normalization_completed"

	EventRunAsyncStarted   EventType = "run_async_started"
	EventRunAsyncSuccess   EventType = "run_async_success"
	EventRunAsyncFailure   EventType = "run_async_failure"
	EventRunAsyncCancelled EventType = "run_async_cancelled"
)

// Terminal reports whether t ends a run.
func (t EventType) Terminal() bool {
	switch t {
	case EventRunCompleted, EventRunFailed, EventRunCancelled:
		return true
	}
	return false
}

// Event is one notification about a run. Phase and ToolID are empty for run-level events.
type Event struct {
	Type   EventType
	RunID  string
	Phase  string
	ToolID string
	Source string
	Time   time.Time
	Fields map[string]any
}

// New creates an event of type t for run runID, stamped with the current time.
func New(t EventType, runID string) Event {
	return Event{Type: t, RunID: runID, Time: time.Now()}
}

// WithSource records which stage emitted the event.
func (e Event) WithSource(source string) Event {
	e.Source = source
	return e
}

// WithPhase scopes the event to a phase.
func (e Event) WithPhase(phase string) Event {
	e.Phase = phase
	return e
}

// WithTool scopes the event to a tool.
func (e Event) WithTool(toolID string) Event {
	e.ToolID = toolID
	return e
}

// With returns a copy of e carrying key=value. The receiver's fields are not modified.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Field returns a field value, or nil.
func (e Event) Field(key string) any {
	return e.Fields[key]
}

// Handler reacts to one event. A returned error makes the bus retry the delivery.
type Handler func(context.Context, Event) error

// Filter selects the events a subscription receives. The zero Filter matches everything.
type Filter struct {
	Types []EventType
	RunID string
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

// EventBus dispatches run events to subscribers.
type EventBus interface {
	// Publish queues an event. Events of the same run are delivered in publish order.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers handler for events matching filter and returns the subscription id.
	Subscribe(filter Filter, handler Handler) (string, error)

	Unsubscribe(subscriptionID string) error

	// Close stops delivery. Queued but undelivered events are dropped.
	Close() error
}
