// Package selector computes the eligible, ordered tool plan for a workspace.
package selector

import (
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/registry"
	"github.com/rs/zerolog"
)

// Selector wraps Select with logging. It holds no per-run state.
type Selector struct {
	logger zerolog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the selector's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Selector) {
		s.logger = logger
	}
}

// New creates a Selector.
func New(opts ...Option) *Selector {
	s := &Selector{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select implements lintscale.Selector.
func (s *Selector) Select(catalog lintscale.Catalog, facts lintscale.WorkspaceFacts, mods lintscale.SelectionModifiers) (*lintscale.Plan, error) {
	plan, err := Select(catalog, facts, mods)
	if err != nil {
		s.logger.Error().Err(err).Msg("tool selection failed")
		return nil, err
	}
	for _, d := range plan.Decisions {
		s.logger.Debug().Str("tool", d.ToolID).Bool("selected", d.Selected).Str("reason", d.Reason).Msg("selection decision")
	}
	s.logger.Info().Int("entries", len(plan.Entries)).Strs("tools", plan.ToolIDs()).Msg("tool plan ready")
	return plan, nil
}

// Select is the pure selection function. It performs no I/O.
func Select(catalog lintscale.Catalog, facts lintscale.WorkspaceFacts, mods lintscale.SelectionModifiers) (*lintscale.Plan, error) {
	plan := &lintscale.Plan{}

	var candidates []lintscale.Tool
	if len(mods.Only) > 0 {
		requested, err := resolveOnly(catalog, mods.Only)
		if err != nil {
			return nil, err
		}
		for _, t := range catalog.Tools() {
			if !slices.Contains(requested, t.ID) {
				plan.Decisions = append(plan.Decisions, lintscale.Decision{ToolID: t.ID, Reason: lintscale.ReasonExcludedByOnlyList})
				continue
			}
			candidates = append(candidates, t)
			plan.Decisions = append(plan.Decisions, lintscale.Decision{ToolID: t.ID, Selected: true, Reason: lintscale.ReasonRequested})
		}
	} else {
		for _, t := range catalog.Tools() {
			ok, reason := eligible(catalog, t, facts, mods)
			plan.Decisions = append(plan.Decisions, lintscale.Decision{ToolID: t.ID, Selected: ok, Reason: reason})
			if ok {
				candidates = append(candidates, t)
			}
		}
	}

	// Tools with nothing to run in this mode drop out before ordering.
	mode := mods.Mode
	if mode == "" {
		mode = lintscale.ModeCheck
	}
	runnable := make([]lintscale.Tool, 0, len(candidates))
	actions := make(map[string][]lintscale.Action, len(candidates))
	for _, t := range candidates {
		for _, a := range t.Actions {
			if mode.Enables(a.Capability, t.AutoFix) {
				actions[t.ID] = append(actions[t.ID], a)
			}
		}
		if len(actions[t.ID]) == 0 {
			markDropped(plan, t.ID, lintscale.ReasonNoEnabledActions)
			continue
		}
		runnable = append(runnable, t)
	}

	ordered, err := order(runnable)
	if err != nil {
		return nil, err
	}
	for _, t := range ordered {
		for _, a := range actions[t.ID] {
			plan.Entries = append(plan.Entries, lintscale.PlanEntry{Tool: t, Action: a})
		}
	}
	return plan, nil
}

// resolveOnly maps requested ids to canonical ids. Every unknown id is reported at once.
func resolveOnly(catalog lintscale.Catalog, only []string) ([]string, error) {
	var ids, unknown []string
	for _, raw := range only {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		t, ok := catalog.Get(id)
		if !ok {
			if !slices.Contains(unknown, id) {
				unknown = append(unknown, id)
			}
			continue
		}
		if !slices.Contains(ids, t.ID) {
			ids = append(ids, t.ID)
		}
	}
	if len(unknown) > 0 {
		return nil, lintscale.NewUnknownToolError(unknown)
	}
	return ids, nil
}

// eligible applies the predicate, workspace-scope and category gates in that order.
func eligible(catalog lintscale.Catalog, t lintscale.Tool, facts lintscale.WorkspaceFacts, mods lintscale.SelectionModifiers) (bool, string) {
	reason, ok := applicable(t, facts)
	if !ok {
		return false, reason
	}
	if t.Applicability.When != "" {
		pass, err := registry.EvaluateWhen(t.Applicability.When, facts, mods.Sensitivity)
		if err != nil || !pass {
			return false, lintscale.ReasonExpressionFalse
		}
	}
	if t.Family == lintscale.FamilyWorkspace && !mods.WorkspaceScoped && facts.HomeProject != t.HomeProject {
		return false, lintscale.ReasonWorkspaceScoped
	}
	if t.Category != "" {
		if enabled, set := mods.Categories[t.Category]; set {
			if !enabled {
				return false, lintscale.ReasonCategoryDisabled
			}
		} else if c, known := catalog.Category(t.Category); known && mods.Sensitivity < c.MinSensitivity {
			return false, lintscale.ReasonSensitivityTooLow
		}
	}
	return true, reason
}

// applicable reports whether any one declared constraint matches.
func applicable(t lintscale.Tool, facts lintscale.WorkspaceFacts) (string, bool) {
	a := t.Applicability
	if a.Unconstrained() {
		return lintscale.ReasonUnconstrained, true
	}
	for _, l := range a.Languages {
		if facts.HasLanguage(l) {
			return lintscale.ReasonLanguageMatch, true
		}
	}
	for _, e := range a.Extensions {
		if facts.HasExtension(e) {
			return lintscale.ReasonExtensionMatch, true
		}
	}
	for _, c := range a.ConfigFiles {
		if facts.HasConfig(c) {
			return lintscale.ReasonConfigMatch, true
		}
	}
	return lintscale.ReasonNotApplicable, false
}

func markDropped(plan *lintscale.Plan, id, reason string) {
	for i := range plan.Decisions {
		if plan.Decisions[i].ToolID == id {
			plan.Decisions[i].Selected = false
			plan.Decisions[i].Reason = reason
		}
	}
}
