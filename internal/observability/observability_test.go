package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestPrometheusObserver_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPrometheusObserver(reg)
	if err := obs.Register(); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := obs.Register(); err != nil {
		t.Fatalf("second Register should be a no-op, got %v", err)
	}

	obs.OnPhaseStart(lintscale.PhaseLint, 2)
	obs.OnOutcome(lintscale.Outcome{ToolID: "ruff", Phase: lintscale.PhaseLint, Status: lintscale.StatusFindings, Duration: 20 * time.Millisecond},
		lintscale.RunStats{Executed: 1})
	obs.OnOutcome(lintscale.Outcome{ToolID: "mypy", Phase: lintscale.PhaseLint, Status: lintscale.StatusPassed, CacheHit: true},
		lintscale.RunStats{Executed: 1, CacheHits: 1})

	if got := testutil.ToFloat64(obs.outcomes.WithLabelValues("ruff", "lint", "findings", "false")); got != 1 {
		t.Errorf("expected 1 ruff outcome, got %v", got)
	}
	if got := testutil.ToFloat64(obs.outcomes.WithLabelValues("mypy", "lint", "passed", "true")); got != 1 {
		t.Errorf("expected 1 cached mypy outcome, got %v", got)
	}
	if got := testutil.ToFloat64(obs.phases.WithLabelValues("lint")); got != 1 {
		t.Errorf("expected 1 lint phase, got %v", got)
	}
	if got := testutil.ToFloat64(obs.hitRatio); got != 0.5 {
		t.Errorf("expected hit ratio 0.5, got %v", got)
	}
	if got := testutil.CollectAndCount(obs.durations); got != 1 {
		t.Errorf("expected durations only for executed actions, got %d series", got)
	}
}

func TestPrometheusObserver_RegisterConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewPrometheusObserver(reg).Register(); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := NewPrometheusObserver(reg).Register(); err == nil {
		t.Error("expected duplicate collectors to be rejected")
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	obs := NewLogObserver(logger)

	obs.OnPhaseStart(lintscale.PhaseFormat, 1)
	obs.OnOutcome(lintscale.Outcome{ToolID: "ok", Status: lintscale.StatusPassed}, lintscale.RunStats{})
	obs.OnOutcome(lintscale.Outcome{ToolID: "gone", Status: lintscale.StatusLaunchFailed, Error: "not found"}, lintscale.RunStats{})
	obs.OnPhaseEnd(lintscale.PhaseFormat, lintscale.RunStats{Completed: 2, Failed: 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines at info level, got %d: %s", len(lines), buf.String())
	}
	var warn map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &warn); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if warn["level"] != "warn" || warn["tool"] != "gone" || warn["error"] != "not found" {
		t.Errorf("unexpected launch failure log %v", warn)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "lintscale", "warn", false)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("expected only warn output, got %q", out)
	}
	if !strings.Contains(out, `"app":"lintscale"`) {
		t.Errorf("expected app field, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
