package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
)

// AnalyzerFunc is an in-process analyzer. It returns the findings for the request's files.
type AnalyzerFunc func(ctx context.Context, req lintscale.ActionRequest) ([]lintscale.Diagnostic, error)

// GoActionAdapter adapts a Go analyzer function to lintscale.ToolAction.
// Findings are written to stdout as JSON lines for the lintscale-json parser,
// so internal analyzers share the caching and normalization path of external tools.
type GoActionAdapter struct {
	name      string
	analyzer  AnalyzerFunc
	validator func(lintscale.ActionRequest) error
}

// ActionOption configures a GoActionAdapter.
type ActionOption func(*GoActionAdapter)

// WithValidator sets a check run on every request before the analyzer.
func WithValidator(validator func(lintscale.ActionRequest) error) ActionOption {
	return func(adapter *GoActionAdapter) {
		adapter.validator = validator
	}
}

// NewGoActionAdapter creates a new adapter for an analyzer.
func NewGoActionAdapter(name string, analyzer AnalyzerFunc, options ...ActionOption) *GoActionAdapter {
	adapter := &GoActionAdapter{
		name:     name,
		analyzer: analyzer,
		validator: func(req lintscale.ActionRequest) error {
			if req.Facts.Root == "" {
				return fmt.Errorf("workspace root is empty")
			}
			return nil
		},
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Name returns the analyzer name.
func (a *GoActionAdapter) Name() string {
	return a.name
}

// Validate runs the configured validator.
func (a *GoActionAdapter) Validate(req lintscale.ActionRequest) error {
	if a.validator != nil {
		return a.validator(req)
	}
	return nil
}

// Execute implements lintscale.ToolAction.
func (a *GoActionAdapter) Execute(ctx context.Context, req lintscale.ActionRequest) (lintscale.Outcome, error) {
	outcome := lintscale.Outcome{
		ToolID:   req.Tool.ID,
		ActionID: req.Action.ID,
		Phase:    req.Tool.Phase,
	}
	if a.analyzer == nil {
		return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, fmt.Errorf("analyzer %s is nil", a.name))
	}
	if err := a.Validate(req); err != nil {
		return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, fmt.Errorf("input validation failed for %s: %w", a.name, err))
	}

	start := time.Now()
	diags, err := a.analyzer(ctx, req)
	outcome.Duration = time.Since(start)
	if err != nil {
		return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range diags {
		if d.ToolID == "" {
			d.ToolID = req.Tool.ID
		}
		if err := enc.Encode(d); err != nil {
			return outcome, lintscale.NewExecutionError(req.Tool.ID, req.Action.ID, err)
		}
	}
	outcome.Stdout = buf.String()
	if len(diags) == 0 {
		outcome.Status = lintscale.StatusPassed
		return outcome, nil
	}
	outcome.ExitCode = 1
	outcome.Status = lintscale.StatusFindings
	return outcome, nil
}

var _ lintscale.ToolAction = (*GoActionAdapter)(nil)
