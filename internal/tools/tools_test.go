package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/adapters"
	"github.com/ZanzyTHEbar/lintscale/internal/diagnostics"
)

func workspace(t *testing.T, files map[string]string) lintscale.ActionRequest {
	t.Helper()
	root := t.TempDir()
	var names []string
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		names = append(names, rel)
	}
	return lintscale.ActionRequest{
		Tool:   lintscale.Tool{ID: WhitespaceID},
		Action: lintscale.Action{ID: "lint"},
		Facts:  lintscale.WorkspaceFacts{Root: root, Files: names},
		Files:  names,
	}
}

func TestCheckWhitespace(t *testing.T) {
	req := workspace(t, map[string]string{
		"a.go": "package a \n\t  x := 1\nclean\n",
	})
	diags, err := CheckWhitespace(context.Background(), req)
	if err != nil {
		t.Fatalf("CheckWhitespace failed: %v", err)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %+v", diags)
	}
	if diags[0].Code != "W001" || diags[0].Line != 1 || diags[0].Column != 10 {
		t.Errorf("unexpected trailing whitespace diagnostic %+v", diags[0])
	}
	if diags[1].Code != "W002" || diags[1].Line != 2 {
		t.Errorf("unexpected mixed indentation diagnostic %+v", diags[1])
	}
}

func TestCheckWhitespace_SkipsBinaryAndMissing(t *testing.T) {
	req := workspace(t, map[string]string{"bin.dat": "abc \x00 \n"})
	req.Files = append(req.Files, "missing.txt")
	diags, err := CheckWhitespace(context.Background(), req)
	if err != nil {
		t.Fatalf("CheckWhitespace failed: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("expected binary and missing files to be skipped, got %+v", diags)
	}
}

func TestCheckSuppressions(t *testing.T) {
	req := workspace(t, map[string]string{
		"a.py": "import os  # lintscale:ignore[F401] -- re-exported\nx = 1  # lintscale:ignore[E225]\n",
	})
	diags, err := CheckSuppressions(context.Background(), req)
	if err != nil {
		t.Fatalf("CheckSuppressions failed: %v", err)
	}
	if len(diags) != 1 || diags[0].Line != 2 || diags[0].Code != "S001" {
		t.Fatalf("expected one S001 on line 2, got %+v", diags)
	}
}

func TestCheck_Cancelled(t *testing.T) {
	req := workspace(t, map[string]string{"a.go": "x \n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CheckWhitespace(ctx, req); err == nil {
		t.Error("expected cancelled context to stop the scan")
	}
}

func TestSetupTools_RoundTripsThroughParser(t *testing.T) {
	binder := adapters.NewBinder(nil)
	defs := SetupTools(binder)
	if len(defs) != 2 {
		t.Fatalf("expected 2 internal tools, got %d", len(defs))
	}

	req := workspace(t, map[string]string{"a.go": "x \n"})
	runner, err := binder.Bind(defs[0], defs[0].Actions[0])
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	req.Tool = defs[0]
	req.Action = defs[0].Actions[0]
	out, err := runner.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Status != lintscale.StatusFindings {
		t.Fatalf("expected findings, got %s", out.Status)
	}

	parser, err := diagnostics.DefaultParsers().Lookup(defs[0].Actions[0].Parser)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	diags, err := parser.Parse(out.Stdout, out.Stderr)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(diags) != 1 || diags[0].ToolID != WhitespaceID || diags[0].Code != "W001" {
		t.Errorf("unexpected round-tripped diagnostics %+v", diags)
	}
}
