package lintscale

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/adapters"
	"github.com/ZanzyTHEbar/lintscale/internal/config"
	"github.com/ZanzyTHEbar/lintscale/internal/tools"
	"github.com/ZanzyTHEbar/lintscale/internal/workspace"
	"github.com/rs/zerolog"
)

const catalogYAML = `
tools:
  - id: fakelint
    phase: lint
    languages: [python]
    version: "1.0"
    actions:
      - id: lint
        parser: gcc
        command: [sh, -c, 'echo run >> "$COUNTER"; echo "a.py:3:1: warning: unused name [U1]"; exit 1', sh, "{files}"]
`

type fixture struct {
	root    string
	counter string
	cfg     config.Config
	binder  *adapters.Binder
}

func newFixture(t *testing.T, backend string) fixture {
	t.Helper()
	root := t.TempDir()
	aux := t.TempDir()
	files := map[string]string{
		"a.py": "import os\n\n\nx = 1\n",
		"b.py": "y = 2 \n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	catalog := filepath.Join(aux, "catalog.yaml")
	if err := os.WriteFile(catalog, []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	counter := filepath.Join(aux, "invocations")

	cfg := config.Default()
	cfg.Catalog = catalog
	cfg.Run.Jobs = 2
	cfg.Cache.Backend = backend
	cfg.Cache.Dir = filepath.Join(aux, "cache")
	return fixture{
		root:    root,
		counter: counter,
		cfg:     cfg,
		binder:  adapters.NewBinder(adapters.NewCommandAdapter(adapters.WithEnv("COUNTER=" + counter))),
	}
}

func (f fixture) invocations(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(f.counter)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "run\n")
}

func (f fixture) run(t *testing.T, mods lintscale.SelectionModifiers) (*lintscale.RunResult, error) {
	t.Helper()
	ctx := context.Background()
	rt, err := Build(ctx, f.cfg, f.root, WithBinder(f.binder))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer rt.Close()
	facts, err := workspace.NewScanner().Scan(ctx, f.root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return rt.Engine.Run(ctx, facts, mods)
}

func TestRun_TwoFileScenario(t *testing.T) {
	f := newFixture(t, config.BackendMemory)
	result, err := f.run(t, lintscale.SelectionModifiers{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %+v", result.Diagnostics)
	}
	first, second := result.Diagnostics[0], result.Diagnostics[1]
	if first.ToolID != "fakelint" || first.Path != "a.py" || first.Line != 3 || first.Severity != lintscale.SeverityWarning {
		t.Errorf("unexpected first diagnostic %+v", first)
	}
	if second.ToolID != tools.WhitespaceID || second.Path != "b.py" || second.Line != 1 {
		t.Errorf("unexpected second diagnostic %+v", second)
	}
	if result.ExitCode != lintscale.ExitClean {
		t.Errorf("warnings below fail-on error should exit clean, got %d", result.ExitCode)
	}

	f.cfg.Run.FailOn = string(lintscale.SeverityWarning)
	result, err = f.run(t, lintscale.SelectionModifiers{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != lintscale.ExitFindings {
		t.Errorf("expected fail-on warning to exit %d, got %d", lintscale.ExitFindings, result.ExitCode)
	}
}

func TestRun_SecondRunIsServedFromCache(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, backend)
			first, err := f.run(t, lintscale.SelectionModifiers{})
			if err != nil {
				t.Fatalf("first run failed: %v", err)
			}
			if f.invocations(t) != 1 {
				t.Fatalf("expected 1 invocation, got %d", f.invocations(t))
			}

			second, err := f.run(t, lintscale.SelectionModifiers{})
			if err != nil {
				t.Fatalf("second run failed: %v", err)
			}
			if f.invocations(t) != 1 {
				t.Errorf("expected no new invocations, got %d total", f.invocations(t))
			}
			if second.Stats.CacheHitRatio() != 1 {
				t.Errorf("expected 100%% cache hits, got %+v", second.Stats)
			}
			if len(first.Diagnostics) != len(second.Diagnostics) {
				t.Fatalf("expected identical diagnostics, got %d vs %d", len(first.Diagnostics), len(second.Diagnostics))
			}
			for i := range first.Diagnostics {
				if first.Diagnostics[i] != second.Diagnostics[i] {
					t.Errorf("diagnostic %d differs: %+v vs %+v", i, first.Diagnostics[i], second.Diagnostics[i])
				}
			}
			if first.ExitCode != second.ExitCode {
				t.Errorf("expected identical exit codes, got %d vs %d", first.ExitCode, second.ExitCode)
			}
		})
	}
}

func TestRun_UnknownOnlyIDLaunchesNothing(t *testing.T) {
	f := newFixture(t, config.BackendMemory)
	_, err := f.run(t, lintscale.SelectionModifiers{Only: []string{"fakelint", "does-not-exist"}})
	if !lintscale.IsSelectionError(err) {
		t.Fatalf("expected selection error, got %v", err)
	}
	if f.invocations(t) != 0 {
		t.Errorf("expected zero launches, got %d", f.invocations(t))
	}
}

const versionedCatalogYAML = `
tools:
  - id: fakelint
    phase: lint
    languages: [python]
    version: "static"
    version_command: [sh, -c, 'cat "$VERSION_FILE"']
    actions:
      - id: lint
        parser: gcc
        command: [sh, -c, 'echo run >> "$COUNTER"', sh, "{files}"]
  - id: otherlint
    phase: lint
    languages: [python]
    version: "1.0"
    actions:
      - id: lint
        parser: gcc
        command: [sh, -c, 'echo other >> "$COUNTER"', sh, "{files}"]
`

func TestRun_VersionCommandChangeInvalidatesOnlyThatTool(t *testing.T) {
	f := newFixture(t, config.BackendFile)
	if err := os.WriteFile(f.cfg.Catalog, []byte(versionedCatalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	versionFile := filepath.Join(filepath.Dir(f.counter), "version")
	f.binder = adapters.NewBinder(adapters.NewCommandAdapter(adapters.WithEnv("COUNTER="+f.counter, "VERSION_FILE="+versionFile)))
	launches := func() (fake, other int) {
		data, err := os.ReadFile(f.counter)
		if err != nil && !os.IsNotExist(err) {
			t.Fatal(err)
		}
		return strings.Count(string(data), "run\n"), strings.Count(string(data), "other\n")
	}
	setVersion := func(v string) {
		if err := os.WriteFile(versionFile, []byte(v+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	steps := []struct {
		version   string
		wantFake  int
		wantOther int
	}{
		{"fakelint 2.0.0", 1, 1},
		{"fakelint 2.0.0", 1, 1},
		{"fakelint 2.1.0", 2, 1},
	}
	for i, step := range steps {
		setVersion(step.version)
		if _, err := f.run(t, lintscale.SelectionModifiers{}); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
		fake, other := launches()
		if fake != step.wantFake || other != step.wantOther {
			t.Errorf("run %d: expected %d/%d launches, got %d/%d", i+1, step.wantFake, step.wantOther, fake, other)
		}
	}

	rt, err := Build(context.Background(), f.cfg, f.root, WithBinder(f.binder))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer rt.Close()
	if tool, _ := rt.Registry.Get("fakelint"); tool.Version != "fakelint 2.1.0" {
		t.Errorf("expected resolved version, got %q", tool.Version)
	}
	if err := os.Remove(versionFile); err != nil {
		t.Fatal(err)
	}
	rt2, err := Build(context.Background(), f.cfg, f.root, WithBinder(f.binder))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer rt2.Close()
	if tool, _ := rt2.Registry.Get("fakelint"); tool.Version != "static" {
		t.Errorf("expected static fallback when the command fails, got %q", tool.Version)
	}
}

func TestBuild_UnusableCacheDirRunsWithoutCache(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, backend)
			blocker := filepath.Join(t.TempDir(), "not-a-dir")
			if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
			f.cfg.Cache.Dir = filepath.Join(blocker, "cache")

			var logs bytes.Buffer
			rt, err := Build(context.Background(), f.cfg, f.root, WithBinder(f.binder), WithLogger(zerolog.New(&logs)))
			if err != nil {
				t.Fatalf("expected Build to degrade, got %v", err)
			}
			defer rt.Close()
			if rt.Cache != nil {
				t.Errorf("expected no cache when the store cannot be opened")
			}
			if !strings.Contains(logs.String(), `"level":"warn"`) || !strings.Contains(logs.String(), "cache unavailable") {
				t.Errorf("expected a cache warning, got %q", logs.String())
			}

			facts, err := workspace.NewScanner().Scan(context.Background(), f.root)
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			result, err := rt.Engine.Run(context.Background(), facts, lintscale.SelectionModifiers{})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(result.Diagnostics) != 2 {
				t.Errorf("expected 2 diagnostics, got %+v", result.Diagnostics)
			}
			if f.invocations(t) != 1 {
				t.Errorf("expected 1 invocation, got %d", f.invocations(t))
			}
		})
	}
}

func TestBuild_RejectsBadDiagnosticsConfig(t *testing.T) {
	f := newFixture(t, config.BackendMemory)
	f.cfg.Diagnostics.SeverityRules = []string{"no-equals-sign"}
	if _, err := Build(context.Background(), f.cfg, f.root); !lintscale.HasCode(err, lintscale.ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestRuntime_ClearCache(t *testing.T) {
	f := newFixture(t, config.BackendFile)
	if _, err := f.run(t, lintscale.SelectionModifiers{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	rt, err := Build(context.Background(), f.cfg, f.root, WithBinder(f.binder))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := rt.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	rt.Close()

	if _, err := f.run(t, lintscale.SelectionModifiers{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f.invocations(t) != 2 {
		t.Errorf("expected re-execution after clear, got %d invocations", f.invocations(t))
	}
}
