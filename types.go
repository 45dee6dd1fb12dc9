package lintscale

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

// Phase is a coarse grouping of tools. Phases always run in PhaseOrder.
type Phase string

const (
	PhaseFormat    Phase = "format"
	PhaseLint      Phase = "lint"
	PhaseTypeCheck Phase = "type-check"
	PhaseSecurity  Phase = "security"
	PhaseTest      Phase = "test"
	PhaseAnalysis  Phase = "analysis"
)

// PhaseOrder is the fixed global execution order of phases.
var PhaseOrder = []Phase{
	PhaseFormat,
	PhaseLint,
	PhaseTypeCheck,
	PhaseSecurity,
	PhaseTest,
	PhaseAnalysis,
}

// Rank returns the position of p in PhaseOrder, or len(PhaseOrder) for unknown phases.
func (p Phase) Rank() int {
	if i := slices.Index(PhaseOrder, p); i >= 0 {
		return i
	}
	return len(PhaseOrder)
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	return slices.Contains(PhaseOrder, p)
}

// ParsePhase converts a catalog phase name into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Capability describes what an action does to the workspace.
type Capability string

const (
	CapabilityLint   Capability = "lint"
	CapabilityFix    Capability = "fix"
	CapabilityFormat Capability = "format"
)

// RunMode selects which action capabilities a run executes.
type RunMode string

const (
	ModeCheck RunMode = "check"
	ModeFix   RunMode = "fix"
)

// Enables reports whether an action with capability c runs in mode m.
// In fix mode auto-fix tools run their fix/format actions and every other tool keeps linting.
func (m RunMode) Enables(c Capability, autoFix bool) bool {
	switch m {
	case ModeFix:
		if autoFix {
			return c == CapabilityFix || c == CapabilityFormat
		}
		return c == CapabilityLint
	default:
		return c == CapabilityLint
	}
}

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
)

// Rank orders severities so that error > warning > note.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps the many spellings tools use onto the three lintscale severities.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal", "e", "f", "critical", "high":
		return SeverityError
	case "warning", "warn", "w", "medium":
		return SeverityWarning
	default:
		return SeverityNote
	}
}

// Sensitivity controls how aggressively optional tool categories are enabled.
type Sensitivity int

const (
	SensitivityPermissive Sensitivity = iota
	SensitivityStandard
	SensitivityStrict
	SensitivityMaximum
)

var sensitivityNames = []string{"permissive", "standard", "strict", "maximum"}

func (s Sensitivity) String() string {
	if s < 0 || int(s) >= len(sensitivityNames) {
		return fmt.Sprintf("sensitivity(%d)", int(s))
	}
	return sensitivityNames[s]
}

// SensitivityNames lists every level name from least to most strict.
func SensitivityNames() []string {
	return slices.Clone(sensitivityNames)
}

// ParseSensitivity parses a sensitivity level name. The empty string means standard.
func ParseSensitivity(s string) (Sensitivity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SensitivityStandard, nil
	}
	if i := slices.Index(sensitivityNames, s); i >= 0 {
		return Sensitivity(i), nil
	}
	return SensitivityStandard, fmt.Errorf("unknown sensitivity %q", s)
}

// Family groups tools by where they come from.
type Family string

const (
	FamilyExternal  Family = "external"
	FamilyInternal  Family = "internal"
	FamilyWorkspace Family = "workspace"
)

// Applicability decides whether a tool is relevant for a workspace.
// Any one matching language, extension or config file is enough.
type Applicability struct {
	Languages   []string `json:"languages,omitempty" yaml:"languages"`
	Extensions  []string `json:"extensions,omitempty" yaml:"extensions"`
	ConfigFiles []string `json:"config_files,omitempty" yaml:"config_files"`
	// When is an optional govaluate expression that must also hold.
	When string `json:"when,omitempty" yaml:"when"`
}

// Unconstrained reports whether the tool declares no language, extension or config constraint.
func (a Applicability) Unconstrained() bool {
	return len(a.Languages) == 0 && len(a.Extensions) == 0 && len(a.ConfigFiles) == 0
}

// Action is one runnable step of a tool.
type Action struct {
	ID           string        `json:"id"`
	Capability   Capability    `json:"capability"`
	Command      []string      `json:"command,omitempty"`
	Parser       string        `json:"parser"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	SuccessCodes []int         `json:"success_codes,omitempty"`

	// Runner is the strategy that executes the action; bound by the adapter layer.
	Runner ToolAction `json:"-"`
}

// IsSuccess reports whether exit code is a clean exit for this action. Defaults to {0}.
func (a Action) IsSuccess(code int) bool {
	if len(a.SuccessCodes) == 0 {
		return code == 0
	}
	return slices.Contains(a.SuccessCodes, code)
}

// Tool is an immutable tool definition owned by the registry.
type Tool struct {
	ID            string        `json:"id"`
	Description   string        `json:"description,omitempty"`
	Phase         Phase         `json:"phase"`
	Actions       []Action      `json:"actions"`
	Applicability Applicability `json:"applicability"`
	Before        []string      `json:"before,omitempty"`
	After         []string      `json:"after,omitempty"`
	AutoFix       bool          `json:"auto_fix,omitempty"`
	Family        Family        `json:"family"`
	HomeProject   string        `json:"home_project,omitempty"`
	Category      string        `json:"category,omitempty"`
	ConfigKeys    []string      `json:"config_keys,omitempty"`
	Priority      int           `json:"priority,omitempty"`
	Version       string        `json:"version,omitempty"`
	// VersionCommand, when set, is run once per build and its output replaces Version.
	VersionCommand []string `json:"version_command,omitempty"`
}

// Action returns the tool action with the given id.
func (t Tool) Action(id string) (Action, bool) {
	for _, a := range t.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// RelevantSettings returns the slice of per-tool settings that affects this tool's results.
// When ConfigKeys is empty every setting under the tool's id is relevant.
func (t Tool) RelevantSettings(all map[string]map[string]any) map[string]any {
	own := all[t.ID]
	out := make(map[string]any)
	if len(t.ConfigKeys) == 0 {
		for k, v := range own {
			out[k] = v
		}
		return out
	}
	for _, k := range t.ConfigKeys {
		if v, ok := own[k]; ok {
			out[k] = v
		}
	}
	return out
}

// TargetFiles returns the workspace files this tool operates on.
// Tools that declare extensions only see files with those extensions.
func (t Tool) TargetFiles(facts WorkspaceFacts) []string {
	if len(t.Applicability.Extensions) == 0 {
		return slices.Clone(facts.Files)
	}
	out := make([]string, 0, len(facts.Files))
	for _, f := range facts.Files {
		ext := strings.ToLower(path.Ext(f))
		for _, want := range t.Applicability.Extensions {
			if ext == NormalizeExtension(want) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Category is a feature-gated group of tools.
type Category struct {
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	MinSensitivity Sensitivity `json:"min_sensitivity"`
}

// DuplicateRule declares that two tools report the same problems.
type DuplicateRule struct {
	Tools []string `json:"tools"`
	// Prefer wins over the tools' own priorities when set.
	Prefer string `json:"prefer,omitempty"`
	// CodePairs maps codes of equivalent rules across the tools, e.g. F821 -> reportUndefinedVariable.
	CodePairs map[string]string `json:"code_pairs,omitempty"`
}

// Covers reports whether both tool ids belong to the rule.
func (r DuplicateRule) Covers(a, b string) bool {
	return a != b && slices.Contains(r.Tools, a) && slices.Contains(r.Tools, b)
}

// EquivalentCodes reports whether codes a and b name the same rule under this duplicate rule.
func (r DuplicateRule) EquivalentCodes(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return r.CodePairs[a] == b || r.CodePairs[b] == a
}

// SelectionModifiers are the CLI-level knobs that shape tool selection. Read-only.
type SelectionModifiers struct {
	// Only is an exclusive allow-list of tool ids.
	Only            []string
	Sensitivity     Sensitivity
	Categories      map[string]bool
	WorkspaceScoped bool
	Mode            RunMode
}

// WorkspaceFacts describe the project being analysed. Read-only.
type WorkspaceFacts struct {
	Root        string
	Languages   []string
	Extensions  []string
	ConfigFiles []string
	// Files are workspace-relative, slash separated.
	Files       []string
	HomeProject string
}

// HasLanguage reports whether the workspace contains the language (case-insensitive).
func (f WorkspaceFacts) HasLanguage(lang string) bool {
	return containsFold(f.Languages, lang)
}

// HasExtension reports whether the workspace contains files with the extension.
func (f WorkspaceFacts) HasExtension(ext string) bool {
	want := NormalizeExtension(ext)
	for _, e := range f.Extensions {
		if NormalizeExtension(e) == want {
			return true
		}
	}
	return false
}

// HasConfig reports whether a config file with the given name or relative path was discovered.
func (f WorkspaceFacts) HasConfig(name string) bool {
	for _, c := range f.ConfigFiles {
		if c == name || path.Base(c) == name {
			return true
		}
	}
	return false
}

// HasFile reports whether any target file matches the glob pattern.
func (f WorkspaceFacts) HasFile(pattern string) bool {
	for _, file := range f.Files {
		if ok, _ := path.Match(pattern, file); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(file)); ok {
			return true
		}
	}
	return false
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// Decision reasons recorded during selection.
const (
	ReasonRequested          = "requested-via-only"
	ReasonLanguageMatch      = "language-match"
	ReasonExtensionMatch     = "extension-match"
	ReasonConfigMatch        = "config-match"
	ReasonUnconstrained      = "unconstrained"
	ReasonNotApplicable      = "not-applicable"
	ReasonExpressionFalse    = "when-expression-false"
	ReasonWorkspaceScoped    = "workspace-scoped"
	ReasonSensitivityTooLow  = "sensitivity-too-low"
	ReasonCategoryDisabled   = "category-disabled"
	ReasonNoEnabledActions   = "no-enabled-actions"
	ReasonExcludedByOnlyList = "excluded-by-only"
)

// Decision records why a tool was or was not selected.
type Decision struct {
	ToolID   string `json:"tool_id"`
	Selected bool   `json:"selected"`
	Reason   string `json:"reason"`
}

// PlanEntry is one (tool, action) unit of work.
type PlanEntry struct {
	Tool   Tool
	Action Action
}

// Key identifies the entry within a plan.
func (e PlanEntry) Key() string {
	return e.Tool.ID + ":" + e.Action.ID
}

// Plan is the ordered set of work for a run.
type Plan struct {
	Entries   []PlanEntry
	Decisions []Decision
}

// Phases returns the distinct phases of the plan in execution order.
func (p *Plan) Phases() []Phase {
	var phases []Phase
	for _, e := range p.Entries {
		if len(phases) == 0 || phases[len(phases)-1] != e.Tool.Phase {
			phases = append(phases, e.Tool.Phase)
		}
	}
	return phases
}

// EntriesFor returns the entries of one phase, in plan order.
func (p *Plan) EntriesFor(phase Phase) []PlanEntry {
	var out []PlanEntry
	for _, e := range p.Entries {
		if e.Tool.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

// ToolIDs returns the distinct tool ids in plan order.
func (p *Plan) ToolIDs() []string {
	var ids []string
	for _, e := range p.Entries {
		if !slices.Contains(ids, e.Tool.ID) {
			ids = append(ids, e.Tool.ID)
		}
	}
	return ids
}

// Tool returns the plan's tool with the given id.
func (p *Plan) Tool(id string) (Tool, bool) {
	for _, e := range p.Entries {
		if e.Tool.ID == id {
			return e.Tool, true
		}
	}
	return Tool{}, false
}

// OutcomeStatus is the raw result classification of one action run.
type OutcomeStatus string

const (
	StatusPassed       OutcomeStatus = "passed"
	StatusFindings     OutcomeStatus = "findings"
	StatusFailed       OutcomeStatus = "failed"
	StatusLaunchFailed OutcomeStatus = "launch-failed"
	StatusCancelled    OutcomeStatus = "cancelled"
	StatusSkipped      OutcomeStatus = "skipped"
)

// Outcome is the raw result of one (tool, action) run.
type Outcome struct {
	ToolID   string        `json:"tool_id"`
	ActionID string        `json:"action_id"`
	Phase    Phase         `json:"phase"`
	Status   OutcomeStatus `json:"status"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	CacheHit bool          `json:"cache_hit,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
}

// Key identifies the outcome's plan entry.
func (o Outcome) Key() string {
	return o.ToolID + ":" + o.ActionID
}

// Cacheable reports whether the outcome may be stored. Launch failures and interrupted runs never are.
func (o Outcome) Cacheable() bool {
	switch o.Status {
	case StatusPassed, StatusFindings, StatusFailed:
		return true
	default:
		return false
	}
}

// Dispatched reports whether the outcome came from an action that was started or served from cache.
func (o Outcome) Dispatched() bool {
	return o.Status != StatusSkipped
}

// Diagnostic is one structured finding.
type Diagnostic struct {
	ToolID   string   `json:"tool"`
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message"`
	Symbol   string   `json:"symbol,omitempty"`
}

// ToolStats aggregates the results of one tool within a run.
type ToolStats struct {
	ToolID       string        `json:"tool"`
	Phase        Phase         `json:"phase"`
	Status       OutcomeStatus `json:"status"`
	Failed       bool          `json:"failed"`
	CacheHit     bool          `json:"cache_hit"`
	Errors       int           `json:"errors"`
	Warnings     int           `json:"warnings"`
	Notes        int           `json:"notes"`
	Suppressed   int           `json:"suppressed"`
	Deduplicated int           `json:"deduplicated"`
	Duration     time.Duration `json:"duration"`
}

// RunStats are the incremental counters of an execution.
type RunStats struct {
	Planned   int           `json:"planned"`
	Completed int           `json:"completed"`
	Executed  int           `json:"executed"`
	CacheHits int           `json:"cache_hits"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Cancelled int           `json:"cancelled"`
	Retries   int           `json:"retries"`
	Duration  time.Duration `json:"duration"`
}

// CacheHitRatio returns cache hits over completed tasks that were not skipped.
func (s RunStats) CacheHitRatio() float64 {
	served := s.Executed + s.CacheHits
	if served == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(served)
}

// Execution is the raw output of the orchestrator.
type Execution struct {
	Outcomes  []Outcome
	Cancelled bool
	Stats     RunStats
}

// Exit codes of a run. When several apply the worst wins.
const (
	ExitClean       = 0
	ExitFindings    = 1
	ExitToolFailure = 2
	ExitCancelled   = 130
)

func exitRank(code int) int {
	switch code {
	case ExitCancelled:
		return 3
	case ExitToolFailure:
		return 2
	case ExitFindings:
		return 1
	default:
		return 0
	}
}

// WorseExit returns whichever of the two exit codes is more severe.
func WorseExit(a, b int) int {
	if exitRank(b) > exitRank(a) {
		return b
	}
	return a
}

// RunResult is the final product of a run.
type RunResult struct {
	RunID        string       `json:"run_id"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
	Tools        []ToolStats  `json:"tools"`
	Suppressed   int          `json:"suppressed"`
	Deduplicated int          `json:"deduplicated"`
	Outcomes     []Outcome    `json:"outcomes"`
	ExitCode     int          `json:"exit_code"`
	Cancelled    bool         `json:"cancelled"`
	Stats        RunStats     `json:"stats"`
}

// ToolStat returns the stats of one tool.
func (r *RunResult) ToolStat(id string) (ToolStats, bool) {
	for _, ts := range r.Tools {
		if ts.ToolID == id {
			return ts, true
		}
	}
	return ToolStats{}, false
}
