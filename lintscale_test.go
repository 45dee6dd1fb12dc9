package lintscale

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
)

type fakeCatalog struct{ tools []Tool }

func (f *fakeCatalog) Tools() []Tool { return f.tools }
func (f *fakeCatalog) Get(id string) (Tool, bool) {
	for _, t := range f.tools {
		if t.ID == id {
			return t, true
		}
	}
	return Tool{}, false
}
func (f *fakeCatalog) Category(name string) (Category, bool) { return Category{}, false }
func (f *fakeCatalog) Duplicates() []DuplicateRule           { return nil }

type fakeSelector struct {
	err error
}

func (f *fakeSelector) Select(catalog Catalog, facts WorkspaceFacts, mods SelectionModifiers) (*Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	plan := &Plan{}
	for _, t := range catalog.Tools() {
		plan.Entries = append(plan.Entries, PlanEntry{Tool: t, Action: t.Actions[0]})
	}
	return plan, nil
}

type fakeExecutor struct {
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, plan *Plan, facts WorkspaceFacts, obs Observer) (*Execution, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	exec := &Execution{Cancelled: ctx.Err() != nil}
	for _, p := range plan.Phases() {
		obs.OnPhaseStart(p, len(plan.EntriesFor(p)))
	}
	for _, e := range plan.Entries {
		o := Outcome{ToolID: e.Tool.ID, ActionID: e.Action.ID, Phase: e.Tool.Phase, Status: StatusPassed}
		if exec.Cancelled {
			o.Status = StatusCancelled
		}
		exec.Outcomes = append(exec.Outcomes, o)
		exec.Stats.Completed++
		obs.OnOutcome(o, exec.Stats)
	}
	for _, p := range plan.Phases() {
		obs.OnPhaseEnd(p, exec.Stats)
	}
	return exec, nil
}

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(exec *Execution, plan *Plan, facts WorkspaceFacts) (*RunResult, error) {
	r := &RunResult{Outcomes: exec.Outcomes, Cancelled: exec.Cancelled, Stats: exec.Stats}
	if exec.Cancelled {
		r.ExitCode = ExitCancelled
	}
	return r, nil
}

type countingObserver struct {
	outcomes atomic.Int32
}

func (c *countingObserver) OnPhaseStart(Phase, int)     {}
func (c *countingObserver) OnOutcome(Outcome, RunStats) { c.outcomes.Add(1) }
func (c *countingObserver) OnPhaseEnd(Phase, RunStats)  {}

func testTools() []Tool {
	return []Tool{
		{ID: "ruff", Phase: PhaseLint, Actions: []Action{{ID: "lint", Capability: CapabilityLint}}},
		{ID: "mypy", Phase: PhaseTypeCheck, Actions: []Action{{ID: "lint", Capability: CapabilityLint}}},
	}
}

func newTestEngine(t *testing.T, sel Selector, exec Executor, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithCatalog(&fakeCatalog{tools: testTools()}),
		WithSelector(sel),
		WithExecutor(exec),
		WithNormalizer(fakeNormalizer{}),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNew_RequiresComponents(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"no catalog", []Option{WithSelector(&fakeSelector{}), WithExecutor(&fakeExecutor{}), WithNormalizer(fakeNormalizer{})}},
		{"no selector", []Option{WithCatalog(&fakeCatalog{}), WithExecutor(&fakeExecutor{}), WithNormalizer(fakeNormalizer{})}},
		{"no executor", []Option{WithCatalog(&fakeCatalog{}), WithSelector(&fakeSelector{}), WithNormalizer(fakeNormalizer{})}},
		{"no normalizer", []Option{WithCatalog(&fakeCatalog{}), WithSelector(&fakeSelector{}), WithExecutor(&fakeExecutor{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); !HasCode(err, ErrCodeConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestEngine_Run(t *testing.T) {
	obs := &countingObserver{}
	exec := &fakeExecutor{}
	e := newTestEngine(t, &fakeSelector{}, exec, WithObserver(obs))

	result, err := e.Run(context.Background(), WorkspaceFacts{Root: "/ws"}, SelectionModifiers{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RunID == "" {
		t.Error("expected a run id")
	}
	if len(result.Outcomes) != 2 || result.ExitCode != ExitClean {
		t.Errorf("unexpected result %+v", result)
	}
	if obs.outcomes.Load() != 2 {
		t.Errorf("expected observer to see 2 outcomes, got %d", obs.outcomes.Load())
	}
}

func TestEngine_SelectionErrorLaunchesNothing(t *testing.T) {
	exec := &fakeExecutor{}
	e := newTestEngine(t, &fakeSelector{err: NewUnknownToolError([]string{"nope"})}, exec)

	result, err := e.Run(context.Background(), WorkspaceFacts{}, SelectionModifiers{Only: []string{"nope"}})
	if !IsSelectionError(err) {
		t.Fatalf("expected selection error, got %v", err)
	}
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) || len(unknown.IDs) != 1 || unknown.IDs[0] != "nope" {
		t.Errorf("expected UnknownToolError naming nope, got %v", err)
	}
	if result != nil {
		t.Errorf("expected no result, got %+v", result)
	}
	if exec.calls.Load() != 0 {
		t.Errorf("expected zero executions, got %d", exec.calls.Load())
	}
}

func TestEngine_CancelledBeforeRun(t *testing.T) {
	exec := &fakeExecutor{}
	e := newTestEngine(t, &fakeSelector{}, exec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, WorkspaceFacts{}, SelectionModifiers{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if exec.calls.Load() != 0 {
		t.Error("executor must not run after cancellation")
	}
}

func TestEngine_PublishesEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(eventbus.WithBufferSize(64), eventbus.WithWorkerCount(2))
	defer bus.Close()
	rec, _, err := eventbus.Record(bus, eventbus.Filter{})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	e := newTestEngine(t, &fakeSelector{}, &fakeExecutor{}, WithEventBus(bus))
	result, err := e.Run(context.Background(), WorkspaceFacts{}, SelectionModifiers{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := rec.WaitFor(ctx, eventbus.EventRunCompleted)
	if err != nil {
		t.Fatal("timed out waiting for run_completed")
	}
	if final.RunID != result.RunID {
		t.Errorf("expected run id %s on run_completed, got %s", result.RunID, final.RunID)
	}

	want := []eventbus.EventType{
		eventbus.EventRunStarted,
		eventbus.EventSelectionStarted,
		eventbus.EventSelectionCompleted,
		eventbus.EventPhaseStarted,
		eventbus.EventPhaseStarted,
		eventbus.EventToolCompleted,
		eventbus.EventToolCompleted,
		eventbus.EventPhaseCompleted,
		eventbus.EventPhaseCompleted,
		eventbus.EventNormalizationStarted,
		eventbus.EventNormalizationCompleted,
		eventbus.EventRunCompleted,
	}
	if got := rec.Types(); !slices.Equal(got, want) {
		t.Errorf("expected events %v, got %v", want, got)
	}
}

func TestEngine_AsyncRun(t *testing.T) {
	e := newTestEngine(t, &fakeSelector{}, &fakeExecutor{})

	runID, err := e.RunAsync(context.Background(), WorkspaceFacts{Root: "/ws"}, SelectionModifiers{})
	if err != nil {
		t.Fatalf("RunAsync failed: %v", err)
	}
	result, err := e.WaitAsyncRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("WaitAsyncRun failed: %v", err)
	}
	if result.RunID != runID {
		t.Errorf("expected run id %s, got %s", runID, result.RunID)
	}
	status, err := e.GetAsyncStatus(runID)
	if err != nil {
		t.Fatalf("GetAsyncStatus failed: %v", err)
	}
	if !status.IsComplete || status.HasError || status.Root != "/ws" {
		t.Errorf("unexpected status %+v", status)
	}
	if got := e.ListAsyncRuns()[runID]; got != string(StateComplete) {
		t.Errorf("expected complete in listing, got %q", got)
	}
	if cancelled, err := e.CancelAsyncRun(runID); cancelled || err != nil {
		t.Errorf("cancelling a finished run should be a no-op, got %v, %v", cancelled, err)
	}

	time.Sleep(5 * time.Millisecond)
	if n := e.CleanupCompletedRuns(time.Millisecond); n != 1 {
		t.Errorf("expected 1 run cleaned up, got %d", n)
	}
	if _, err := e.GetAsyncStatus(runID); err == nil {
		t.Error("expected cleaned-up run to be gone")
	}
}

func TestEngine_CancelAsyncRunYieldsPartialResult(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	e := newTestEngine(t, &fakeSelector{}, exec)

	runID, err := e.RunAsync(context.Background(), WorkspaceFacts{}, SelectionModifiers{})
	if err != nil {
		t.Fatalf("RunAsync failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for exec.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := e.GetAsyncResult(runID); err == nil {
		t.Error("expected in-progress error")
	}

	cancelled, err := e.CancelAsyncRun(runID)
	if err != nil || !cancelled {
		t.Fatalf("expected cancellation, got %v, %v", cancelled, err)
	}
	result, err := e.WaitAsyncRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("WaitAsyncRun failed: %v", err)
	}
	if !result.Cancelled || result.ExitCode != ExitCancelled {
		t.Errorf("expected cancelled partial result, got %+v", result)
	}
	status, _ := e.GetAsyncStatus(runID)
	if !status.IsCancelled {
		t.Errorf("expected status to report cancellation, got %+v", status)
	}
}

func TestEngine_UnknownAsyncRun(t *testing.T) {
	e := newTestEngine(t, &fakeSelector{}, &fakeExecutor{})
	if _, err := e.GetAsyncStatus("missing"); err == nil {
		t.Error("expected error for unknown run")
	}
	if _, err := e.GetAsyncResult("missing"); err == nil {
		t.Error("expected error for unknown run")
	}
	if _, err := e.CancelAsyncRun("missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}
