package selector

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/registry"
)

var noop = lintscale.ToolActionFunc(func(ctx context.Context, req lintscale.ActionRequest) (lintscale.Outcome, error) {
	return lintscale.Outcome{Status: lintscale.StatusPassed}, nil
})

type toolSpec struct {
	id     string
	phase  lintscale.Phase
	langs  []string
	exts   []string
	cfgs   []string
	after  []string
	before []string
	mutate func(*lintscale.Tool)
}

func buildRegistry(t *testing.T, cats []lintscale.Category, specs ...toolSpec) *registry.Registry {
	t.Helper()
	var tools []lintscale.Tool
	for _, s := range specs {
		tl := lintscale.Tool{
			ID:    s.id,
			Phase: s.phase,
			Applicability: lintscale.Applicability{
				Languages:   s.langs,
				Extensions:  s.exts,
				ConfigFiles: s.cfgs,
			},
			After:   s.after,
			Before:  s.before,
			Actions: []lintscale.Action{{ID: "lint", Capability: lintscale.CapabilityLint, Runner: noop}},
		}
		if s.mutate != nil {
			s.mutate(&tl)
		}
		tools = append(tools, tl)
	}
	reg, err := registry.New(registry.NewSnapshot(tools, cats, nil), nil)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	return reg
}

func entryIDs(plan *lintscale.Plan) []string {
	var ids []string
	for _, e := range plan.Entries {
		ids = append(ids, e.Key())
	}
	return ids
}

func TestSelect_ApplicabilityIsOr(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "by-lang", phase: lintscale.PhaseLint, langs: []string{"python"}, exts: []string{".rs"}},
		toolSpec{id: "by-ext", phase: lintscale.PhaseLint, langs: []string{"rust"}, exts: []string{"py"}},
		toolSpec{id: "by-config", phase: lintscale.PhaseLint, cfgs: []string{"setup.cfg"}},
		toolSpec{id: "unconstrained", phase: lintscale.PhaseLint},
		toolSpec{id: "go-only", phase: lintscale.PhaseLint, langs: []string{"go"}, exts: []string{".go"}},
	)
	facts := lintscale.WorkspaceFacts{
		Languages:   []string{"Python"},
		Extensions:  []string{".py"},
		ConfigFiles: []string{"pkg/setup.cfg"},
	}

	plan, err := Select(reg, facts, lintscale.SelectionModifiers{})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	got := plan.ToolIDs()
	want := []string{"by-config", "by-ext", "by-lang", "unconstrained"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Every selected entry must be applicable to the facts.
	for _, e := range plan.Entries {
		if _, ok := applicable(e.Tool, facts); !ok {
			t.Errorf("entry %s is not applicable", e.Key())
		}
	}

	for _, d := range plan.Decisions {
		if d.ToolID == "go-only" && (d.Selected || d.Reason != lintscale.ReasonNotApplicable) {
			t.Errorf("unexpected decision for go-only: %+v", d)
		}
	}
}

func TestSelect_ExclusiveOnly(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "ruff", phase: lintscale.PhaseLint, langs: []string{"python"}},
		toolSpec{id: "eslint", phase: lintscale.PhaseLint, langs: []string{"javascript"}},
	)
	facts := lintscale.WorkspaceFacts{Languages: []string{"python"}}

	plan, err := Select(reg, facts, lintscale.SelectionModifiers{Only: []string{"ESLint"}})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got := plan.ToolIDs(); !slices.Equal(got, []string{"eslint"}) {
		t.Errorf("expected exactly eslint, got %v", got)
	}

	_, err = Select(reg, facts, lintscale.SelectionModifiers{Only: []string{"ruff", "ghost", "phantom", "ghost"}})
	if err == nil {
		t.Fatal("expected selection error for unknown ids")
	}
	if !lintscale.IsSelectionError(err) {
		t.Errorf("expected selection error, got %v", err)
	}
	var unknown *lintscale.UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %T", err)
	}
	if !slices.Equal(unknown.IDs, []string{"ghost", "phantom"}) {
		t.Errorf("expected [ghost phantom], got %v", unknown.IDs)
	}
}

func TestSelect_WorkspaceScopedFamily(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "internal-docs", phase: lintscale.PhaseAnalysis, mutate: func(tl *lintscale.Tool) {
			tl.Family = lintscale.FamilyWorkspace
			tl.HomeProject = "lintscale"
		}},
	)
	tests := []struct {
		name  string
		facts lintscale.WorkspaceFacts
		mods  lintscale.SelectionModifiers
		want  bool
	}{
		{"foreign project", lintscale.WorkspaceFacts{HomeProject: "other"}, lintscale.SelectionModifiers{}, false},
		{"home project", lintscale.WorkspaceFacts{HomeProject: "lintscale"}, lintscale.SelectionModifiers{}, true},
		{"forced", lintscale.WorkspaceFacts{}, lintscale.SelectionModifiers{WorkspaceScoped: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Select(reg, tt.facts, tt.mods)
			if err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			if got := len(plan.Entries) == 1; got != tt.want {
				t.Errorf("expected selected=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestSelect_CategoryGating(t *testing.T) {
	cats := []lintscale.Category{{Name: "security", MinSensitivity: lintscale.SensitivityStrict}}
	reg := buildRegistry(t, cats,
		toolSpec{id: "bandit", phase: lintscale.PhaseSecurity, mutate: func(tl *lintscale.Tool) { tl.Category = "security" }},
	)
	tests := []struct {
		name       string
		mods       lintscale.SelectionModifiers
		want       bool
		wantReason string
	}{
		{"standard sensitivity", lintscale.SelectionModifiers{Sensitivity: lintscale.SensitivityStandard}, false, lintscale.ReasonSensitivityTooLow},
		{"strict sensitivity", lintscale.SelectionModifiers{Sensitivity: lintscale.SensitivityStrict}, true, lintscale.ReasonUnconstrained},
		{"toggle on", lintscale.SelectionModifiers{Categories: map[string]bool{"security": true}}, true, lintscale.ReasonUnconstrained},
		{"toggle off beats maximum", lintscale.SelectionModifiers{Sensitivity: lintscale.SensitivityMaximum, Categories: map[string]bool{"security": false}}, false, lintscale.ReasonCategoryDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Select(reg, lintscale.WorkspaceFacts{}, tt.mods)
			if err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			if got := len(plan.Entries) == 1; got != tt.want {
				t.Errorf("expected selected=%v, got %v", tt.want, got)
			}
			if plan.Decisions[0].Reason != tt.wantReason {
				t.Errorf("expected reason %s, got %s", tt.wantReason, plan.Decisions[0].Reason)
			}
		})
	}
}

func TestSelect_WhenExpression(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "mypy", phase: lintscale.PhaseTypeCheck, langs: []string{"python"}, mutate: func(tl *lintscale.Tool) {
			tl.Applicability.When = "has_config('mypy.ini') || sensitivity >= 3"
		}},
	)
	facts := lintscale.WorkspaceFacts{Languages: []string{"python"}}

	plan, _ := Select(reg, facts, lintscale.SelectionModifiers{})
	if len(plan.Entries) != 0 {
		t.Errorf("expected mypy to be gated off, got %v", entryIDs(plan))
	}
	plan, _ = Select(reg, facts, lintscale.SelectionModifiers{Sensitivity: lintscale.SensitivityMaximum})
	if len(plan.Entries) != 1 {
		t.Errorf("expected mypy at maximum sensitivity, got %v", entryIDs(plan))
	}
}

func TestSelect_Ordering(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "zz-fmt", phase: lintscale.PhaseFormat},
		toolSpec{id: "aa-security", phase: lintscale.PhaseSecurity},
		toolSpec{id: "b", phase: lintscale.PhaseLint, after: []string{"c"}},
		toolSpec{id: "c", phase: lintscale.PhaseLint},
		toolSpec{id: "a", phase: lintscale.PhaseLint, before: []string{"c"}},
		toolSpec{id: "d", phase: lintscale.PhaseLint},
	)
	plan, err := Select(reg, lintscale.WorkspaceFacts{}, lintscale.SelectionModifiers{})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	want := []string{"zz-fmt", "a", "c", "b", "d", "aa-security"}
	if got := plan.ToolIDs(); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelect_EdgesToUnselectedToolsAreIgnored(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "a", phase: lintscale.PhaseLint, after: []string{"js-only"}},
		toolSpec{id: "js-only", phase: lintscale.PhaseLint, langs: []string{"javascript"}},
	)
	plan, err := Select(reg, lintscale.WorkspaceFacts{Languages: []string{"python"}}, lintscale.SelectionModifiers{})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got := plan.ToolIDs(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("expected [a], got %v", got)
	}
}

func TestSelect_CycleIsDeterministic(t *testing.T) {
	reg := buildRegistry(t, nil,
		toolSpec{id: "b", phase: lintscale.PhaseLint, after: []string{"a"}},
		toolSpec{id: "c", phase: lintscale.PhaseLint, after: []string{"b"}},
		toolSpec{id: "a", phase: lintscale.PhaseLint, after: []string{"c"}},
		toolSpec{id: "tail", phase: lintscale.PhaseLint, after: []string{"c"}},
		toolSpec{id: "free", phase: lintscale.PhaseLint},
	)
	for i := 0; i < 10; i++ {
		_, err := Select(reg, lintscale.WorkspaceFacts{}, lintscale.SelectionModifiers{})
		if !lintscale.IsSelectionError(err) {
			t.Fatalf("expected selection error, got %v", err)
		}
		var cycle *lintscale.OrderingCycleError
		if !errors.As(err, &cycle) {
			t.Fatalf("expected OrderingCycleError, got %T", err)
		}
		if !slices.Equal(cycle.Cycle, []string{"a", "b", "c"}) {
			t.Fatalf("expected cycle [a b c], got %v", cycle.Cycle)
		}
		if cycle.Phase != lintscale.PhaseLint {
			t.Errorf("expected lint phase, got %s", cycle.Phase)
		}
	}
}

func TestSelect_ModeFiltersActions(t *testing.T) {
	multi := func(tl *lintscale.Tool) {
		tl.AutoFix = true
		tl.Actions = []lintscale.Action{
			{ID: "check", Capability: lintscale.CapabilityLint, Runner: noop},
			{ID: "fix", Capability: lintscale.CapabilityFix, Runner: noop},
			{ID: "format", Capability: lintscale.CapabilityFormat, Runner: noop},
		}
	}
	reg := buildRegistry(t, nil,
		toolSpec{id: "ruff", phase: lintscale.PhaseLint, mutate: multi},
		toolSpec{id: "pylint", phase: lintscale.PhaseLint},
		toolSpec{id: "black", phase: lintscale.PhaseFormat, mutate: func(tl *lintscale.Tool) {
			tl.Actions = []lintscale.Action{{ID: "format", Capability: lintscale.CapabilityFormat, Runner: noop}}
		}},
	)

	plan, _ := Select(reg, lintscale.WorkspaceFacts{}, lintscale.SelectionModifiers{Mode: lintscale.ModeCheck})
	if got := entryIDs(plan); !slices.Equal(got, []string{"pylint:lint", "ruff:check"}) {
		t.Errorf("check mode: unexpected entries %v", got)
	}
	for _, d := range plan.Decisions {
		if d.ToolID == "black" && d.Reason != lintscale.ReasonNoEnabledActions {
			t.Errorf("expected black to be dropped for no enabled actions, got %+v", d)
		}
	}

	plan, _ = Select(reg, lintscale.WorkspaceFacts{}, lintscale.SelectionModifiers{Mode: lintscale.ModeFix})
	if got := entryIDs(plan); !slices.Equal(got, []string{"pylint:lint", "ruff:fix", "ruff:format"}) {
		t.Errorf("fix mode: unexpected entries %v", got)
	}
}

func TestSelect_EmptyPlan(t *testing.T) {
	reg := buildRegistry(t, nil, toolSpec{id: "go-vet", phase: lintscale.PhaseLint, langs: []string{"go"}})
	plan, err := New().Select(reg, lintscale.WorkspaceFacts{Languages: []string{"python"}}, lintscale.SelectionModifiers{})
	if err != nil {
		t.Fatalf("expected empty plan without error, got %v", err)
	}
	if len(plan.Entries) != 0 {
		t.Errorf("expected empty plan, got %v", entryIDs(plan))
	}
}
