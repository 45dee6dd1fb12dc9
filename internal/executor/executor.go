// Package executor runs a selected plan: phases in order, independent work in parallel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/cache"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Orchestrator handles the execution of a plan.
type Orchestrator struct {
	maxWorkers  int           // Max concurrent actions
	maxRetries  int           // Extra attempts after a launch failure
	retryDelay  time.Duration // Delay between attempts
	execTimeout time.Duration // Per-action timeout when the action declares none
	bail        bool
	cache       *cache.Context
	observer    lintscale.Observer
	settings    map[string]map[string]any
	logger      zerolog.Logger

	mu   sync.Mutex
	last *ExecutorMetrics
}

// ExecutorOption represents an option for configuring the Orchestrator.
type ExecutorOption func(*Orchestrator)

// WithPoolSize bounds how many actions run at once.
func WithPoolSize(n int) ExecutorOption {
	return func(e *Orchestrator) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithMaxRetries sets how many times a launch failure is retried.
func WithMaxRetries(retries int) ExecutorOption {
	return func(e *Orchestrator) {
		e.maxRetries = retries
	}
}

// WithRetryDelay sets the delay between launch attempts.
func WithRetryDelay(delay time.Duration) ExecutorOption {
	return func(e *Orchestrator) {
		e.retryDelay = delay
	}
}

// WithExecTimeout sets the timeout for actions that declare none.
func WithExecTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Orchestrator) {
		e.execTimeout = timeout
	}
}

// WithBail stops dispatching new work after the first failing outcome.
func WithBail(bail bool) ExecutorOption {
	return func(e *Orchestrator) {
		e.bail = bail
	}
}

// WithCache consults and populates c around every action.
func WithCache(c *cache.Context) ExecutorOption {
	return func(e *Orchestrator) {
		e.cache = c
	}
}

// WithObserver adds an observer notified on every run.
func WithObserver(obs lintscale.Observer) ExecutorOption {
	return func(e *Orchestrator) {
		e.observer = obs
	}
}

// WithToolSettings sets the per-tool configuration, keyed by tool id.
func WithToolSettings(settings map[string]map[string]any) ExecutorOption {
	return func(e *Orchestrator) {
		e.settings = settings
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger zerolog.Logger) ExecutorOption {
	return func(e *Orchestrator) {
		e.logger = logger
	}
}

// NewOrchestrator creates an orchestrator with default settings.
func NewOrchestrator(options ...ExecutorOption) *Orchestrator {
	e := &Orchestrator{
		maxWorkers: runtime.NumCPU(),
		retryDelay: 500 * time.Millisecond,
		logger:     zerolog.Nop(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// GetMetrics returns the counters of the most recent run.
func (e *Orchestrator) GetMetrics() lintscale.RunStats {
	e.mu.Lock()
	last := e.last
	e.mu.Unlock()
	if last == nil {
		return lintscale.RunStats{}
	}
	return last.Copy()
}

// run is the state of one Execute call.
type run struct {
	metrics  *ExecutorMetrics
	buf      *resultBuffer
	observer lintscale.Observer
}

// land records an outcome and notifies observers. Only the scheduling goroutine calls it.
func (r *run) land(i int, o lintscale.Outcome) {
	r.buf.put(i, o)
	r.metrics.record(o)
	r.observer.OnOutcome(o, r.metrics.Copy())
}

// resultBuffer is the single shared sink workers write outcomes into.
type resultBuffer struct {
	mu       sync.Mutex
	outcomes []lintscale.Outcome
	filled   []bool
}

func newResultBuffer(n int) *resultBuffer {
	return &resultBuffer{outcomes: make([]lintscale.Outcome, n), filled: make([]bool, n)}
}

func (b *resultBuffer) put(i int, o lintscale.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes[i] = o
	b.filled[i] = true
}

func (b *resultBuffer) get(i int) (lintscale.Outcome, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outcomes[i], b.filled[i]
}

func (b *resultBuffer) all() []lintscale.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]lintscale.Outcome(nil), b.outcomes...)
}

// Execute runs the plan. Phases run strictly in order; within a phase, entries are
// dispatched as soon as their same-phase predecessors have completed.
// The returned Execution lists one Outcome per plan entry, in plan order.
func (e *Orchestrator) Execute(ctx context.Context, plan *lintscale.Plan, facts lintscale.WorkspaceFacts, obs lintscale.Observer) (*lintscale.Execution, error) {
	if plan == nil {
		return nil, lintscale.NewInternalError("execution", "plan is nil", nil)
	}
	r := &run{
		metrics:  &ExecutorMetrics{},
		buf:      newResultBuffer(len(plan.Entries)),
		observer: e.observers(obs),
	}
	r.metrics.reset(len(plan.Entries))
	e.mu.Lock()
	e.last = r.metrics
	e.mu.Unlock()
	if e.cache != nil {
		e.cache.BeginRun(ctx)
	}

	e.logger.Info().Int("entries", len(plan.Entries)).Int("workers", e.maxWorkers).Msg("starting plan execution")

	offset := 0
	stopped := false
	for _, phase := range plan.Phases() {
		entries := plan.EntriesFor(phase)
		if stopped || ctx.Err() != nil {
			for i, entry := range entries {
				r.land(offset+i, skipped(entry))
			}
		} else {
			r.observer.OnPhaseStart(phase, len(entries))
			stopped = e.runPhase(ctx, r, entries, offset, facts)
			r.observer.OnPhaseEnd(phase, r.metrics.Copy())
		}
		offset += len(entries)
	}

	if e.cache != nil {
		if err := e.cache.Persist(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn().Err(err).Msg("cache manifest not persisted")
		}
	}
	r.metrics.finish()

	exec := &lintscale.Execution{Outcomes: r.buf.all(), Stats: r.metrics.Copy()}
	if ctx.Err() != nil {
		for _, o := range exec.Outcomes {
			if o.Status == lintscale.StatusSkipped || o.Status == lintscale.StatusCancelled {
				exec.Cancelled = true
				break
			}
		}
	}
	e.logger.Info().
		Int("completed", exec.Stats.Completed).
		Int("cache_hits", exec.Stats.CacheHits).
		Int("failed", exec.Stats.Failed).
		Int("skipped", exec.Stats.Skipped).
		Bool("cancelled", exec.Cancelled).
		Dur("duration", exec.Stats.Duration).
		Msg("plan execution finished")
	return exec, nil
}

func (e *Orchestrator) observers(obs lintscale.Observer) lintscale.Observer {
	var all lintscale.Observers
	if e.observer != nil {
		all = append(all, e.observer)
	}
	if obs != nil {
		all = append(all, obs)
	}
	return all
}

// runPhase schedules one phase and reports whether bail-on-failure was triggered.
func (e *Orchestrator) runPhase(ctx context.Context, r *run, entries []lintscale.PlanEntry, offset int, facts lintscale.WorkspaceFacts) bool {
	succ, indegree := phaseGraph(entries, facts)

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	done := make(chan int, len(entries))
	workers := pool.New().WithMaxGoroutines(e.maxWorkers)
	dispatched := make([]bool, len(entries))
	inFlight := 0
	stopped := false

	for {
		for !stopped && ctx.Err() == nil && len(ready) > 0 && inFlight < e.maxWorkers {
			i := ready[0]
			ready = ready[1:]
			dispatched[i] = true
			inFlight++
			entry := entries[i]
			e.logger.Debug().Str("tool", entry.Tool.ID).Str("action", entry.Action.ID).Msg("dispatching action")
			workers.Go(func() {
				r.buf.put(offset+i, e.runTask(ctx, entry, facts))
				done <- i
			})
		}
		if inFlight == 0 {
			break
		}

		i := <-done
		inFlight--
		o, _ := r.buf.get(offset + i)
		r.land(offset+i, o)
		if e.bail && failing(entries[i], o) {
			if !stopped {
				e.logger.Info().Str("tool", o.ToolID).Str("status", string(o.Status)).Msg("bailing after first failure")
			}
			stopped = true
		}
		for _, s := range succ[i] {
			indegree[s]--
			if indegree[s] == 0 {
				ready = insertSorted(ready, s)
			}
		}
	}
	workers.Wait()

	for i, entry := range entries {
		if !dispatched[i] {
			r.land(offset+i, skipped(entry))
		}
	}
	return stopped
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// phaseGraph builds the intra-phase dependency graph over entry indices.
// A tool's actions are chained in declaration order; an "after" edge makes the
// dependent's first action wait for the dependency's last, and "before" the reverse.
// Fix and format actions whose target files overlap are chained in plan order.
func phaseGraph(entries []lintscale.PlanEntry, facts lintscale.WorkspaceFacts) (succ [][]int, indegree []int) {
	succ = make([][]int, len(entries))
	indegree = make([]int, len(entries))
	link := func(src, dst int) {
		if src == dst || slices.Contains(succ[src], dst) {
			return
		}
		succ[src] = append(succ[src], dst)
		indegree[dst]++
	}

	first := make(map[string]int)
	last := make(map[string]int)
	ids := make(map[string]string)
	for i, entry := range entries {
		key := strings.ToLower(entry.Tool.ID)
		ids[key] = entry.Tool.ID
		if prev, ok := last[key]; ok {
			link(prev, i)
		} else {
			first[key] = i
		}
		last[key] = i
	}

	addEdge := func(from, to string) {
		from, to = strings.ToLower(from), strings.ToLower(to)
		if from == to {
			return
		}
		src, okSrc := last[from]
		dst, okDst := first[to]
		if okSrc && okDst {
			link(src, dst)
		}
	}
	for key, id := range ids {
		entry := entries[first[key]]
		for _, dep := range entry.Tool.After {
			addEdge(dep, id)
		}
		for _, dep := range entry.Tool.Before {
			addEdge(id, dep)
		}
	}

	var writers []int
	targets := make(map[int]map[string]bool)
	for i, entry := range entries {
		if !rewritesFiles(entry.Action) {
			continue
		}
		files := make(map[string]bool)
		for _, f := range entry.Tool.TargetFiles(facts) {
			files[f] = true
		}
		for _, j := range writers {
			if overlaps(targets[j], files) {
				link(j, i)
			}
		}
		writers = append(writers, i)
		targets[i] = files
	}
	return succ, indegree
}

func rewritesFiles(a lintscale.Action) bool {
	return a.Capability == lintscale.CapabilityFix || a.Capability == lintscale.CapabilityFormat
}

// overlaps treats an empty target set as the whole workspace.
func overlaps(a, b map[string]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	for f := range a {
		if b[f] {
			return true
		}
	}
	return false
}

// failing reports whether an outcome stops dispatch under bail-on-first-failure.
func failing(entry lintscale.PlanEntry, o lintscale.Outcome) bool {
	switch o.Status {
	case lintscale.StatusFailed, lintscale.StatusLaunchFailed:
		return true
	case lintscale.StatusFindings:
		return o.ExitCode != 0 && !entry.Action.IsSuccess(o.ExitCode)
	}
	return false
}

func baseOutcome(entry lintscale.PlanEntry) lintscale.Outcome {
	return lintscale.Outcome{ToolID: entry.Tool.ID, ActionID: entry.Action.ID, Phase: entry.Tool.Phase}
}

func skipped(entry lintscale.PlanEntry) lintscale.Outcome {
	o := baseOutcome(entry)
	o.Status = lintscale.StatusSkipped
	return o
}

// runTask serves one entry from the cache or runs it, then stores the result.
func (e *Orchestrator) runTask(ctx context.Context, entry lintscale.PlanEntry, facts lintscale.WorkspaceFacts) lintscale.Outcome {
	if ctx.Err() != nil {
		return skipped(entry)
	}
	req := lintscale.ActionRequest{
		Tool:     entry.Tool,
		Action:   entry.Action,
		Facts:    facts,
		Files:    entry.Tool.TargetFiles(facts),
		Settings: entry.Tool.RelevantSettings(e.settings),
	}
	if req.Action.Timeout <= 0 {
		req.Action.Timeout = e.execTimeout
	}

	var token string
	if e.cache != nil && !e.cache.Disabled() {
		t, err := e.cache.TokenFor(ctx, req)
		switch {
		case err == nil:
			token = t
		case ctx.Err() != nil:
			return skipped(entry)
		default:
			e.logger.Warn().Err(err).Str("tool", entry.Tool.ID).Msg("cannot compute cache token")
		}
		if token != "" {
			if o, hit := e.cache.Load(ctx, token, entry.Tool); hit {
				o.ToolID, o.ActionID, o.Phase = entry.Tool.ID, entry.Action.ID, entry.Tool.Phase
				o.Attempts = 0
				e.logger.Debug().Str("tool", entry.Tool.ID).Str("action", entry.Action.ID).Msg("cache hit")
				return o
			}
		}
	}

	o := e.invoke(ctx, req)
	if token != "" && o.Cacheable() {
		e.cache.Store(ctx, token, o, entry.Tool.Version)
	}
	return o
}

// invoke runs the action, retrying launch failures.
func (e *Orchestrator) invoke(ctx context.Context, req lintscale.ActionRequest) lintscale.Outcome {
	entry := lintscale.PlanEntry{Tool: req.Tool, Action: req.Action}
	var lastErr error
	var last lintscale.Outcome
	attempt := 0
	for attempt <= e.maxRetries {
		attempt++
		o, err := e.safeExecute(ctx, req)
		if err == nil {
			o.ToolID, o.ActionID, o.Phase = req.Tool.ID, req.Action.ID, req.Tool.Phase
			o.CacheHit = false
			o.Attempts = attempt
			return o
		}
		last, lastErr = o, err
		if ctx.Err() != nil {
			c := baseOutcome(entry)
			c.Status = lintscale.StatusCancelled
			c.Error = err.Error()
			c.Duration = o.Duration
			c.Attempts = attempt
			return c
		}
		if errors.Is(err, context.DeadlineExceeded) || attempt > e.maxRetries {
			break
		}
		e.logger.Debug().Err(err).Str("tool", req.Tool.ID).Int("attempt", attempt).Msg("launch failed, retrying")
		select {
		case <-ctx.Done():
		case <-time.After(e.retryDelay):
		}
	}

	f := baseOutcome(entry)
	f.Status = lintscale.StatusLaunchFailed
	f.ExitCode = -1
	f.Stdout, f.Stderr = last.Stdout, last.Stderr
	f.Duration = last.Duration
	f.Error = lastErr.Error()
	f.Attempts = attempt
	if ctx.Err() != nil {
		f.Status = lintscale.StatusCancelled
	}
	e.logger.Warn().Err(lastErr).Str("tool", req.Tool.ID).Str("action", req.Action.ID).Int("attempts", attempt).Msg("action failed to launch")
	return f
}

// safeExecute turns a panicking action into a launch failure.
func (e *Orchestrator) safeExecute(ctx context.Context, req lintscale.ActionRequest) (o lintscale.Outcome, err error) {
	if req.Action.Runner == nil {
		return o, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, errors.New("action has no runner"))
	}
	if req.Action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Action.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, fmt.Errorf("panic: %v", r))
		}
	}()
	start := time.Now()
	o, err = req.Action.Runner.Execute(ctx, req)
	if o.Duration == 0 {
		o.Duration = time.Since(start)
	}
	return o, err
}

var _ lintscale.Executor = (*Orchestrator)(nil)
