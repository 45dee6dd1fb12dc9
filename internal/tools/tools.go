// Package tools provides the analyzers that ship with lintscale itself.
package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/adapters"
	"github.com/ZanzyTHEbar/lintscale/internal/diagnostics"
)

const (
	WhitespaceID   = "internal-whitespace"
	SuppressionsID = "internal-suppressions"

	maxFileSize = 1 << 20
)

// SetupTools registers the internal analyzers with binder and returns their tool definitions.
func SetupTools(binder *adapters.Binder) []lintscale.Tool {
	binder.Register(WhitespaceID, adapters.NewGoActionAdapter(WhitespaceID, CheckWhitespace))
	binder.Register(SuppressionsID, adapters.NewGoActionAdapter(SuppressionsID, CheckSuppressions))

	return []lintscale.Tool{
		{
			ID:          WhitespaceID,
			Description: "Reports trailing whitespace and lines indented with both tabs and spaces.",
			Phase:       lintscale.PhaseLint,
			Family:      lintscale.FamilyInternal,
			Version:     "1",
			Actions: []lintscale.Action{{
				ID:         "lint",
				Capability: lintscale.CapabilityLint,
				Parser:     diagnostics.ParserJSON,
			}},
		},
		{
			ID:          SuppressionsID,
			Description: "Reports lintscale:ignore markers that carry no justification.",
			Phase:       lintscale.PhaseAnalysis,
			Family:      lintscale.FamilyInternal,
			Version:     "1",
			Actions: []lintscale.Action{{
				ID:         "lint",
				Capability: lintscale.CapabilityLint,
				Parser:     diagnostics.ParserJSON,
			}},
		},
	}
}

// CheckWhitespace reports trailing whitespace (W001) and mixed tab/space indentation (W002).
func CheckWhitespace(ctx context.Context, req lintscale.ActionRequest) ([]lintscale.Diagnostic, error) {
	var out []lintscale.Diagnostic
	err := scanFiles(ctx, req, func(path string, lineNo int, line string) {
		trimmed := strings.TrimRight(line, " \t")
		if len(trimmed) != len(line) {
			out = append(out, lintscale.Diagnostic{
				Path:     path,
				Line:     lineNo,
				Column:   len(trimmed) + 1,
				Severity: lintscale.SeverityNote,
				Code:     "W001",
				Message:  "trailing whitespace",
			})
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if strings.Contains(indent, " ") && strings.Contains(indent, "\t") {
			out = append(out, lintscale.Diagnostic{
				Path:     path,
				Line:     lineNo,
				Column:   1,
				Severity: lintscale.SeverityWarning,
				Code:     "W002",
				Message:  "indentation mixes tabs and spaces",
			})
		}
	})
	return out, err
}

// CheckSuppressions reports suppression markers without a justification (S001).
func CheckSuppressions(ctx context.Context, req lintscale.ActionRequest) ([]lintscale.Diagnostic, error) {
	var out []lintscale.Diagnostic
	err := scanFiles(ctx, req, func(path string, lineNo int, line string) {
		marker, ok := diagnostics.ParseMarker(line)
		if !ok || marker.Active() {
			return
		}
		out = append(out, lintscale.Diagnostic{
			Path:     path,
			Line:     lineNo,
			Column:   marker.Column,
			Severity: lintscale.SeverityWarning,
			Code:     "S001",
			Message:  fmt.Sprintf("suppression of %s has no justification", strings.Join(marker.Targets, ",")),
		})
	})
	return out, err
}

func scanFiles(ctx context.Context, req lintscale.ActionRequest, visit func(path string, lineNo int, line string)) error {
	for _, rel := range req.Files {
		if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
			return err
		}
		data, err := readText(filepath.Join(req.Facts.Root, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), maxFileSize)
		lineNo := 0
		for sc.Scan() {
			lineNo++
			visit(rel, lineNo, strings.TrimSuffix(sc.Text(), "\r"))
		}
		if err := sc.Err(); err != nil {
			return errbuilder.GenericErr("cannot scan "+rel, err)
		}
	}
	return nil
}

// readText returns nil for missing, oversized or binary files.
func readText(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errbuilder.GenericErr("cannot stat "+path, err)
	}
	if info.IsDir() || info.Size() > maxFileSize {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.GenericErr("cannot read "+path, err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, nil
	}
	return data, nil
}
