package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/rs/zerolog"
)

// Codes of the synthetic diagnostics the pipeline emits for tool failures.
const (
	CodeLaunchFailed    = "launch-failed"
	CodeExecutionFailed = "execution-failed"
	CodeParseFailed     = "parse-failed"
)

// LineReader returns the lines of a workspace file. Used to find inline suppression markers.
type LineReader func(root, path string) ([]string, error)

// Pipeline implements lintscale.Normalizer.
type Pipeline struct {
	parsers           *Parsers
	duplicates        []lintscale.DuplicateRule
	suppressions      []*regexp.Regexp
	severityRules     []SeverityRule
	failOn            lintscale.Severity
	restrictToTargets bool
	readLines         LineReader
	logger            zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithParsers replaces the default parser registry.
func WithParsers(p *Parsers) Option {
	return func(pl *Pipeline) { pl.parsers = p }
}

// WithDuplicateRules sets the known-duplicate tool pairs.
func WithDuplicateRules(rules []lintscale.DuplicateRule) Option {
	return func(pl *Pipeline) { pl.duplicates = rules }
}

// WithSuppressionPatterns sets compiled pattern rules.
func WithSuppressionPatterns(patterns []*regexp.Regexp) Option {
	return func(pl *Pipeline) { pl.suppressions = patterns }
}

// WithSeverityRules sets severity remapping rules. The first matching rule wins.
func WithSeverityRules(rules []SeverityRule) Option {
	return func(pl *Pipeline) { pl.severityRules = rules }
}

// WithFailOn sets the lowest severity that makes the run exit with findings.
func WithFailOn(s lintscale.Severity) Option {
	return func(pl *Pipeline) { pl.failOn = s }
}

// WithRestrictToTargets drops findings on files outside the target list.
func WithRestrictToTargets(restrict bool) Option {
	return func(pl *Pipeline) { pl.restrictToTargets = restrict }
}

// WithLineReader replaces how source lines are read for inline markers.
func WithLineReader(r LineReader) Option {
	return func(pl *Pipeline) { pl.readLines = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = logger }
}

// New creates a Pipeline.
func New(opts ...Option) *Pipeline {
	pl := &Pipeline{
		parsers:   DefaultParsers(),
		failOn:    lintscale.SeverityError,
		readLines: readFileLines,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Parsers returns the parser registry in use.
func (pl *Pipeline) Parsers() *Parsers {
	return pl.parsers
}

type finding struct {
	lintscale.Diagnostic
	phase    lintscale.Phase
	priority int
}

type toolAcc struct {
	stats     lintscale.ToolStats
	dispatch  int
	cacheHits int
}

// Normalize parses, normalizes, suppresses, deduplicates and aggregates the outcomes of one run.
func (pl *Pipeline) Normalize(exec *lintscale.Execution, plan *lintscale.Plan, facts lintscale.WorkspaceFacts) (*lintscale.RunResult, error) {
	if exec == nil || plan == nil {
		return nil, lintscale.NewInternalError("normalization", "execution and plan are required", nil)
	}

	tools := make(map[string]*toolAcc)
	var order []string
	for _, id := range plan.ToolIDs() {
		t, _ := plan.Tool(id)
		tools[id] = &toolAcc{stats: lintscale.ToolStats{ToolID: id, Phase: t.Phase, Status: lintscale.StatusSkipped}}
		order = append(order, id)
	}

	var findings []finding
	for _, o := range exec.Outcomes {
		acc, ok := tools[o.ToolID]
		if !ok {
			acc = &toolAcc{stats: lintscale.ToolStats{ToolID: o.ToolID, Phase: o.Phase, Status: lintscale.StatusSkipped}}
			tools[o.ToolID] = acc
			order = append(order, o.ToolID)
		}
		acc.record(o)
		tool, _ := plan.Tool(o.ToolID)
		for _, d := range pl.parse(o, tool, acc) {
			d.ToolID = o.ToolID
			findings = append(findings, finding{Diagnostic: d, phase: tool.Phase, priority: tool.Priority})
		}
	}

	findings = pl.normalize(findings, facts)
	findings = pl.suppress(findings, facts, tools)
	findings = pl.dedupe(findings, tools)

	result := &lintscale.RunResult{
		Outcomes:  append([]lintscale.Outcome(nil), exec.Outcomes...),
		Cancelled: exec.Cancelled,
		Stats:     exec.Stats,
	}
	sortFindings(findings)
	result.Diagnostics = make([]lintscale.Diagnostic, 0, len(findings))
	exit := lintscale.ExitClean
	for _, f := range findings {
		result.Diagnostics = append(result.Diagnostics, f.Diagnostic)
		acc := tools[f.ToolID]
		switch f.Severity {
		case lintscale.SeverityError:
			acc.stats.Errors++
		case lintscale.SeverityWarning:
			acc.stats.Warnings++
		default:
			acc.stats.Notes++
		}
		if f.Severity.Rank() >= pl.failOn.Rank() {
			exit = lintscale.WorseExit(exit, lintscale.ExitFindings)
		}
	}
	for _, id := range order {
		acc := tools[id]
		acc.stats.CacheHit = acc.dispatch > 0 && acc.cacheHits == acc.dispatch
		if acc.stats.Failed {
			exit = lintscale.WorseExit(exit, lintscale.ExitToolFailure)
		}
		result.Suppressed += acc.stats.Suppressed
		result.Deduplicated += acc.stats.Deduplicated
		result.Tools = append(result.Tools, acc.stats)
	}
	if exec.Cancelled {
		exit = lintscale.WorseExit(exit, lintscale.ExitCancelled)
	}
	result.ExitCode = exit

	pl.logger.Debug().
		Int("diagnostics", len(result.Diagnostics)).
		Int("suppressed", result.Suppressed).
		Int("deduplicated", result.Deduplicated).
		Int("exit_code", result.ExitCode).
		Msg("diagnostics normalized")
	return result, nil
}

var statusRank = map[lintscale.OutcomeStatus]int{
	lintscale.StatusSkipped:      0,
	lintscale.StatusPassed:       1,
	lintscale.StatusFindings:     2,
	lintscale.StatusCancelled:    3,
	lintscale.StatusFailed:       4,
	lintscale.StatusLaunchFailed: 5,
}

func (acc *toolAcc) record(o lintscale.Outcome) {
	if statusRank[o.Status] > statusRank[acc.stats.Status] {
		acc.stats.Status = o.Status
	}
	acc.stats.Duration += o.Duration
	if o.Dispatched() && o.Status != lintscale.StatusCancelled {
		acc.dispatch++
		if o.CacheHit {
			acc.cacheHits++
		}
	}
}

// parse runs the action's parser and synthesizes a failure diagnostic when the tool
// could not run or its output made no sense.
func (pl *Pipeline) parse(o lintscale.Outcome, tool lintscale.Tool, acc *toolAcc) []lintscale.Diagnostic {
	switch o.Status {
	case lintscale.StatusSkipped, lintscale.StatusCancelled:
		return nil
	case lintscale.StatusLaunchFailed:
		acc.stats.Failed = true
		return []lintscale.Diagnostic{synthetic(CodeLaunchFailed, fmt.Sprintf("%s:%s failed to launch: %s", o.ToolID, o.ActionID, o.Error))}
	}

	action, _ := tool.Action(o.ActionID)
	parser, err := pl.parsers.Lookup(action.Parser)
	if err != nil {
		acc.stats.Failed = true
		return []lintscale.Diagnostic{synthetic(CodeParseFailed, fmt.Sprintf("%s:%s has no usable parser %q", o.ToolID, o.ActionID, action.Parser))}
	}
	diags, err := parser.Parse(o.Stdout, o.Stderr)
	if err != nil {
		acc.stats.Failed = true
		perr := lintscale.NewParseError(o.ToolID, action.Parser, err)
		pl.logger.Warn().Err(perr).Msg("tool output could not be parsed")
		return []lintscale.Diagnostic{synthetic(CodeParseFailed, perr.Error())}
	}
	nonZero := o.Status == lintscale.StatusFailed || (o.ExitCode != 0 && !action.IsSuccess(o.ExitCode))
	if o.Status == lintscale.StatusFailed {
		acc.stats.Failed = true
	}
	if nonZero && len(diags) == 0 {
		acc.stats.Failed = true
		msg := fmt.Sprintf("%s:%s execution failed with exit code %d", o.ToolID, o.ActionID, o.ExitCode)
		if tail := lastLine(o.Stderr); tail != "" {
			msg += ": " + tail
		}
		return []lintscale.Diagnostic{synthetic(CodeExecutionFailed, msg)}
	}
	return diags
}

func synthetic(code, message string) lintscale.Diagnostic {
	return lintscale.Diagnostic{Severity: lintscale.SeverityError, Code: code, Message: message}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func (pl *Pipeline) normalize(in []finding, facts lintscale.WorkspaceFacts) []finding {
	var targets map[string]struct{}
	if pl.restrictToTargets {
		targets = make(map[string]struct{}, len(facts.Files))
		for _, f := range facts.Files {
			targets[f] = struct{}{}
		}
	}
	out := in[:0]
	for _, f := range in {
		if f.Path != "" {
			rel, ok := relativePath(facts.Root, f.Path)
			if !ok {
				pl.logger.Debug().Str("tool", f.ToolID).Str("path", f.Path).Msg("dropping finding outside workspace")
				continue
			}
			f.Path = rel
			if targets != nil {
				if _, ok := targets[rel]; !ok {
					continue
				}
			}
		}
		f.Message = stripCode(strings.TrimSpace(f.Message), f.Code)
		f.Code = strings.TrimSpace(f.Code)
		for _, rule := range pl.severityRules {
			if sev, ok := rule.Apply(f.Diagnostic); ok {
				f.Severity = sev
				break
			}
		}
		out = append(out, f)
	}
	return out
}

// relativePath returns p relative to root in slash form; ok is false when p lies outside root.
func relativePath(root, p string) (string, bool) {
	native := filepath.FromSlash(p)
	if filepath.IsAbs(native) {
		if root == "" {
			return filepath.ToSlash(filepath.Clean(native)), true
		}
		rel, err := filepath.Rel(root, native)
		if err != nil {
			return "", false
		}
		native = rel
	}
	native = filepath.Clean(native)
	if native == ".." || strings.HasPrefix(native, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(native), true
}

func stripCode(msg, code string) string {
	if code == "" {
		return msg
	}
	for _, prefix := range []string{"[" + code + "]", code + ":", code} {
		if rest, ok := strings.CutPrefix(msg, prefix); ok && (rest == "" || rest[0] == ' ' || prefix != code) {
			if trimmed := strings.TrimSpace(rest); trimmed != "" {
				return trimmed
			}
		}
	}
	return msg
}

func (pl *Pipeline) suppress(in []finding, facts lintscale.WorkspaceFacts, tools map[string]*toolAcc) []finding {
	sources := make(map[string][]string)
	lines := func(path string) []string {
		if l, ok := sources[path]; ok {
			return l
		}
		l, err := pl.readLines(facts.Root, path)
		if err != nil {
			l = nil
		}
		sources[path] = l
		return l
	}

	out := in[:0]
	for _, f := range in {
		if pl.suppressed(f.Diagnostic, lines) {
			tools[f.ToolID].stats.Suppressed++
			continue
		}
		out = append(out, f)
	}
	return out
}

func (pl *Pipeline) suppressed(d lintscale.Diagnostic, lines func(string) []string) bool {
	if d.Path != "" && d.Line > 0 {
		src := lines(d.Path)
		for _, ln := range []int{d.Line, d.Line - 1} {
			if ln < 1 || ln > len(src) {
				continue
			}
			if m, ok := ParseMarker(src[ln-1]); ok && m.Active() && m.Matches(d) {
				return true
			}
		}
	}
	if len(pl.suppressions) == 0 {
		return false
	}
	subject := suppressionSubject(d)
	for _, re := range pl.suppressions {
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

func readFileLines(root, path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// signature is the message form used to match the same finding across tools.
func signature(msg string) string {
	msg = strings.ToLower(spaceRun.ReplaceAllString(strings.TrimSpace(msg), " "))
	return strings.TrimRight(msg, ".!;: ")
}

type location struct {
	path string
	line int
}

func (pl *Pipeline) dedupe(in []finding, tools map[string]*toolAcc) []finding {
	sortFindings(in)

	// Same tool, same finding: keep the first.
	type exactKey struct {
		tool, path, code, msg string
		line, col             int
	}
	seen := make(map[exactKey]struct{}, len(in))
	unique := make([]finding, 0, len(in))
	for _, f := range in {
		k := exactKey{f.ToolID, f.Path, f.Code, signature(f.Message), f.Line, f.Column}
		if _, dup := seen[k]; dup {
			tools[f.ToolID].stats.Deduplicated++
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, f)
	}
	if len(pl.duplicates) == 0 {
		return unique
	}

	groups := make(map[location][]int)
	for i, f := range unique {
		if f.Path == "" {
			continue
		}
		loc := location{f.Path, f.Line}
		groups[loc] = append(groups[loc], i)
	}
	dropped := make([]bool, len(unique))
	for _, idx := range groups {
		for x := 0; x < len(idx); x++ {
			for y := x + 1; y < len(idx); y++ {
				i, j := idx[x], idx[y]
				if dropped[i] || dropped[j] {
					continue
				}
				a, b := unique[i], unique[j]
				rule, ok := pl.ruleFor(a.ToolID, b.ToolID)
				if !ok {
					continue
				}
				if signature(a.Message) != signature(b.Message) && !rule.EquivalentCodes(a.Code, b.Code) {
					continue
				}
				loser := j
				if winner(rule, a, b) != a.ToolID {
					loser = i
				}
				dropped[loser] = true
				tools[unique[loser].ToolID].stats.Deduplicated++
			}
		}
	}
	out := unique[:0]
	for i, f := range unique {
		if !dropped[i] {
			out = append(out, f)
		}
	}
	return out
}

func (pl *Pipeline) ruleFor(a, b string) (lintscale.DuplicateRule, bool) {
	for _, r := range pl.duplicates {
		if r.Covers(a, b) {
			return r, true
		}
	}
	return lintscale.DuplicateRule{}, false
}

// winner picks the tool whose record survives: the rule's Prefer, then higher priority, then smaller id.
func winner(rule lintscale.DuplicateRule, a, b finding) string {
	switch {
	case rule.Prefer == a.ToolID || rule.Prefer == b.ToolID:
		return rule.Prefer
	case a.priority != b.priority:
		if a.priority > b.priority {
			return a.ToolID
		}
		return b.ToolID
	case a.ToolID < b.ToolID:
		return a.ToolID
	default:
		return b.ToolID
	}
}

func sortFindings(fs []finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.phase.Rank() != b.phase.Rank() {
			return a.phase.Rank() < b.phase.Rank()
		}
		if a.ToolID != b.ToolID {
			return a.ToolID < b.ToolID
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
}

var _ lintscale.Normalizer = (*Pipeline)(nil)
