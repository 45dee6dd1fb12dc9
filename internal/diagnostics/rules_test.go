package diagnostics

import (
	"reflect"
	"testing"

	"github.com/ZanzyTHEbar/lintscale"
)

func TestParseMarker(t *testing.T) {
	tests := []struct {
		line    string
		found   bool
		targets []string
		active  bool
	}{
		{"x = 1  # lintscale:ignore[F401] -- re-exported", true, []string{"F401"}, true},
		{"// lintscale:ignore[ruff, E501] -- generated table", true, []string{"ruff", "E501"}, true},
		{"/* lintscale:ignore[*] -- vendored */", true, []string{"*"}, true},
		{"x = 1  # lintscale:ignore[F401]", true, []string{"F401"}, false},
		{"x = 1  # lintscale:ignore[F401] --   ", true, []string{"F401"}, false},
		{"x = 1  # lintscale:ignore[]  -- nothing", false, nil, false},
		{"x = 1  # noqa", false, nil, false},
	}
	for _, tt := range tests {
		m, ok := ParseMarker(tt.line)
		if ok != tt.found {
			t.Errorf("%q: expected found=%v, got %v", tt.line, tt.found, ok)
			continue
		}
		if !ok {
			continue
		}
		if !reflect.DeepEqual(m.Targets, tt.targets) {
			t.Errorf("%q: expected targets %v, got %v", tt.line, tt.targets, m.Targets)
		}
		if m.Active() != tt.active {
			t.Errorf("%q: expected active=%v, got %v (justification %q)", tt.line, tt.active, m.Active(), m.Justification)
		}
	}
}

func TestMarker_Matches(t *testing.T) {
	d := lintscale.Diagnostic{ToolID: "ruff", Code: "F401"}
	cases := map[string]bool{
		"F401": true,
		"RUFF": true,
		"*":    true,
		"E501": false,
		"mypy": false,
	}
	for target, want := range cases {
		m := Marker{Targets: []string{target}, Justification: "x"}
		if got := m.Matches(d); got != want {
			t.Errorf("target %q: expected %v, got %v", target, want, got)
		}
	}
}

func TestParseSeverityRule(t *testing.T) {
	rule, err := ParseSeverityRule("ruff:^E5=note")
	if err != nil {
		t.Fatalf("ParseSeverityRule failed: %v", err)
	}
	if sev, ok := rule.Apply(lintscale.Diagnostic{ToolID: "ruff", Code: "E501"}); !ok || sev != lintscale.SeverityNote {
		t.Errorf("expected note, got %v %v", sev, ok)
	}
	if _, ok := rule.Apply(lintscale.Diagnostic{ToolID: "pylint", Code: "E501"}); ok {
		t.Error("expected rule not to apply to other tools")
	}

	wildcard, err := ParseSeverityRule("*:deprecated=warning")
	if err != nil {
		t.Fatalf("ParseSeverityRule failed: %v", err)
	}
	if _, ok := wildcard.Apply(lintscale.Diagnostic{ToolID: "eslint", Message: "x is deprecated"}); !ok {
		t.Error("expected message fallback to match when code is empty")
	}

	for _, bad := range []string{"noseparator", ":x=error", "ruff:x", "ruff:x=loud", "ruff:(=error"} {
		if _, err := ParseSeverityRule(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
	if _, err := ParseSeverityRules([]string{"ruff:x=loud"}); !lintscale.HasCode(err, lintscale.ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestParseSuppressionPatterns(t *testing.T) {
	patterns, err := ParseSuppressionPatterns([]string{`^ruff, tests/.*, E501,`})
	if err != nil {
		t.Fatalf("ParseSuppressionPatterns failed: %v", err)
	}
	subject := suppressionSubject(lintscale.Diagnostic{ToolID: "ruff", Path: "tests/a.py", Line: 3, Code: "E501", Message: "line too long"})
	if !patterns[0].MatchString(subject) {
		t.Errorf("expected pattern to match %q", subject)
	}
	if _, err := ParseSuppressionPatterns([]string{"("}); err == nil {
		t.Error("expected error for invalid regex")
	}
}
