package diagnostics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/lintscale"
)

var markerPattern = regexp.MustCompile(`lintscale:ignore\[([^\]]*)\](?:\s*--\s*(.*))?`)

// Marker is an inline suppression comment: lintscale:ignore[<code>|<tool>|*] -- <justification>.
type Marker struct {
	Targets       []string
	Justification string
	Column        int
}

// Active reports whether the marker carries a justification. Unjustified markers suppress nothing.
func (m Marker) Active() bool {
	return m.Justification != ""
}

// Matches reports whether the marker names the diagnostic's code, its tool, or everything.
func (m Marker) Matches(d lintscale.Diagnostic) bool {
	for _, t := range m.Targets {
		if t == "*" || (d.Code != "" && t == d.Code) || strings.EqualFold(t, d.ToolID) {
			return true
		}
	}
	return false
}

// ParseMarker finds a suppression marker in one source line.
func ParseMarker(line string) (Marker, bool) {
	loc := markerPattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return Marker{}, false
	}
	m := Marker{Column: loc[0] + 1}
	for _, t := range strings.Split(line[loc[2]:loc[3]], ",") {
		if t = strings.TrimSpace(t); t != "" {
			m.Targets = append(m.Targets, t)
		}
	}
	if loc[4] >= 0 {
		m.Justification = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line[loc[4]:loc[5]]), "*/"))
	}
	if len(m.Targets) == 0 {
		return Marker{}, false
	}
	return m, true
}

// SeverityRule remaps the severity of one tool's findings whose code (or message when
// the code is empty) matches Pattern. Tool "*" applies to every tool.
type SeverityRule struct {
	Tool    string
	Pattern *regexp.Regexp
	Level   lintscale.Severity
}

// ParseSeverityRule parses "tool:regex=level".
func ParseSeverityRule(s string) (SeverityRule, error) {
	toolPart, rest, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(toolPart) == "" {
		return SeverityRule{}, fmt.Errorf("severity rule %q: expected tool:regex=level", s)
	}
	eq := strings.LastIndex(rest, "=")
	if eq < 0 {
		return SeverityRule{}, fmt.Errorf("severity rule %q: missing =level", s)
	}
	level := strings.ToLower(strings.TrimSpace(rest[eq+1:]))
	switch lintscale.Severity(level) {
	case lintscale.SeverityError, lintscale.SeverityWarning, lintscale.SeverityNote:
	default:
		return SeverityRule{}, fmt.Errorf("severity rule %q: unknown level %q", s, level)
	}
	re, err := regexp.Compile(rest[:eq])
	if err != nil {
		return SeverityRule{}, fmt.Errorf("severity rule %q: %w", s, err)
	}
	return SeverityRule{Tool: strings.TrimSpace(toolPart), Pattern: re, Level: lintscale.Severity(level)}, nil
}

// ParseSeverityRules parses every rule, failing on the first invalid one.
func ParseSeverityRules(rules []string) ([]SeverityRule, error) {
	out := make([]SeverityRule, 0, len(rules))
	for _, r := range rules {
		rule, err := ParseSeverityRule(r)
		if err != nil {
			return nil, lintscale.NewConfigurationError("invalid severity rule", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// Apply returns the remapped severity, or ok=false when the rule does not match.
func (r SeverityRule) Apply(d lintscale.Diagnostic) (lintscale.Severity, bool) {
	if r.Tool != "*" && !strings.EqualFold(r.Tool, d.ToolID) {
		return "", false
	}
	subject := d.Code
	if subject == "" {
		subject = d.Message
	}
	if !r.Pattern.MatchString(subject) {
		return "", false
	}
	return r.Level, true
}

// ParseSuppressionPatterns compiles pattern rules. Each is matched against
// "<tool>, <path>:<line>, <code>, <message>".
func ParseSuppressionPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, lintscale.NewConfigurationError(fmt.Sprintf("invalid suppression pattern %q", p), err)
		}
		out = append(out, re)
	}
	return out, nil
}

func suppressionSubject(d lintscale.Diagnostic) string {
	return fmt.Sprintf("%s, %s:%d, %s, %s", d.ToolID, d.Path, d.Line, d.Code, d.Message)
}
