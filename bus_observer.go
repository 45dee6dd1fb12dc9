package lintscale

import (
	"context"

	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
)

// BusObserver republishes orchestrator progress as event-bus events.
type BusObserver struct {
	ctx   context.Context
	bus   eventbus.EventBus
	runID string
}

// NewBusObserver creates an observer that tags every event with runID.
func NewBusObserver(ctx context.Context, bus eventbus.EventBus, runID string) *BusObserver {
	return &BusObserver{ctx: context.WithoutCancel(ctx), bus: bus, runID: runID}
}

func (b *BusObserver) OnPhaseStart(phase Phase, entries int) {
	_ = b.bus.Publish(b.ctx, eventbus.New(eventbus.EventPhaseStarted, b.runID).
		WithPhase(string(phase)).
		With("entries", entries))
}

func (b *BusObserver) OnOutcome(o Outcome, stats RunStats) {
	eventType := eventbus.EventToolCompleted
	switch {
	case o.Status == StatusSkipped:
		eventType = eventbus.EventToolSkipped
	case o.Status == StatusLaunchFailed || o.Status == StatusFailed:
		eventType = eventbus.EventToolFailed
	case o.CacheHit:
		eventType = eventbus.EventToolCacheHit
	}
	evt := eventbus.New(eventType, b.runID).
		WithPhase(string(o.Phase)).
		WithTool(o.ToolID).
		With("action", o.ActionID).
		With("status", string(o.Status)).
		With("exit_code", o.ExitCode).
		With("completed", stats.Completed).
		With("planned", stats.Planned)
	if o.Error != "" {
		evt = evt.With("error", o.Error)
	}
	_ = b.bus.Publish(b.ctx, evt)
}

func (b *BusObserver) OnPhaseEnd(phase Phase, stats RunStats) {
	_ = b.bus.Publish(b.ctx, eventbus.New(eventbus.EventPhaseCompleted, b.runID).
		WithPhase(string(phase)).
		With("completed", stats.Completed).
		With("failed", stats.Failed))
}

var _ Observer = (*BusObserver)(nil)
