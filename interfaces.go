package lintscale

import "context"

// CatalogSnapshot is a resolved, already-validated view of the external tool catalog.
type CatalogSnapshot interface {
	Tools() []Tool
	Categories() []Category
	Duplicates() []DuplicateRule
}

// Catalog is the addressable tool set consumed by selection, execution and normalization.
type Catalog interface {
	Tools() []Tool
	Get(id string) (Tool, bool)
	Category(name string) (Category, bool)
	Duplicates() []DuplicateRule
}

// ActionRequest carries everything an action needs to run once.
type ActionRequest struct {
	Tool     Tool
	Action   Action
	Facts    WorkspaceFacts
	Files    []string
	Settings map[string]any
}

// ToolAction runs a single tool action.
// A returned error means the action could not be launched at all (missing binary,
// permission denied, timeout, interrupted); a tool that ran and reported problems
// returns a nil error and a non-zero exit code in the Outcome.
type ToolAction interface {
	Execute(ctx context.Context, req ActionRequest) (Outcome, error)
}

// ToolActionFunc adapts a function to the ToolAction interface.
type ToolActionFunc func(ctx context.Context, req ActionRequest) (Outcome, error)

func (f ToolActionFunc) Execute(ctx context.Context, req ActionRequest) (Outcome, error) {
	return f(ctx, req)
}

// Observer receives progress from the orchestrator. Calls are serialized.
type Observer interface {
	OnPhaseStart(phase Phase, entries int)
	OnOutcome(outcome Outcome, stats RunStats)
	OnPhaseEnd(phase Phase, stats RunStats)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) OnPhaseStart(phase Phase, entries int) {
	for _, obs := range o {
		obs.OnPhaseStart(phase, entries)
	}
}

func (o Observers) OnOutcome(outcome Outcome, stats RunStats) {
	for _, obs := range o {
		obs.OnOutcome(outcome, stats)
	}
}

func (o Observers) OnPhaseEnd(phase Phase, stats RunStats) {
	for _, obs := range o {
		obs.OnPhaseEnd(phase, stats)
	}
}

// Parser turns a tool's captured output into diagnostics.
type Parser interface {
	Parse(stdout, stderr string) ([]Diagnostic, error)
}

// Selector computes the ordered plan for a workspace.
type Selector interface {
	Select(catalog Catalog, facts WorkspaceFacts, mods SelectionModifiers) (*Plan, error)
}

// Executor runs a plan. obs may be nil.
type Executor interface {
	Execute(ctx context.Context, plan *Plan, facts WorkspaceFacts, obs Observer) (*Execution, error)
}

// Normalizer turns raw outcomes into the final diagnostic stream.
type Normalizer interface {
	Normalize(exec *Execution, plan *Plan, facts WorkspaceFacts) (*RunResult, error)
}
