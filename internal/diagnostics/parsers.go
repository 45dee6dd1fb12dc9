// Package diagnostics turns raw tool outcomes into one normalized diagnostic stream.
package diagnostics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/lintscale"
)

// Parser names understood by the default registry.
const (
	ParserJSON     = "lintscale-json"
	ParserGCC      = "gcc"
	ParserRuff     = "ruff"
	ParserESLint   = "eslint"
	ParserGolangCI = "golangci-lint"
	ParserPylint   = "pylint"
)

// ParserFunc adapts a function to lintscale.Parser.
type ParserFunc func(stdout, stderr string) ([]lintscale.Diagnostic, error)

func (f ParserFunc) Parse(stdout, stderr string) ([]lintscale.Diagnostic, error) {
	return f(stdout, stderr)
}

// Parsers is a named set of output parsers.
type Parsers struct {
	mu      sync.RWMutex
	parsers map[string]lintscale.Parser
}

// DefaultParsers returns a registry holding every built-in parser.
func DefaultParsers() *Parsers {
	p := &Parsers{parsers: make(map[string]lintscale.Parser)}
	p.Register(ParserJSON, ParserFunc(parseJSONLines))
	p.Register(ParserGCC, ParserFunc(parseGCC))
	p.Register(ParserRuff, ParserFunc(parseRuff))
	p.Register(ParserESLint, ParserFunc(parseESLint))
	p.Register(ParserGolangCI, ParserFunc(parseGolangCI))
	p.Register(ParserPylint, ParserFunc(parsePylint))
	return p
}

// Register adds or replaces a parser.
func (p *Parsers) Register(name string, parser lintscale.Parser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parsers[name] = parser
}

// Lookup returns the parser registered under name.
func (p *Parsers) Lookup(name string) (lintscale.Parser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	parser, ok := p.parsers[name]
	if !ok {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("no parser named %q", name), nil))
	}
	return parser, nil
}

// Known reports whether name is registered. It fits registry.WithParserCheck.
func (p *Parsers) Known(name string) bool {
	_, err := p.Lookup(name)
	return err == nil
}

// Names returns the registered parser names, sorted.
func (p *Parsers) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.parsers))
	for n := range p.parsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// parseJSONLines reads one JSON-encoded lintscale.Diagnostic per line.
func parseJSONLines(stdout, _ string) ([]lintscale.Diagnostic, error) {
	var out []lintscale.Diagnostic
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var d lintscale.Diagnostic
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, err
		}
		d.Severity = coerceSeverity(string(d.Severity), lintscale.SeverityWarning)
		out = append(out, d)
	}
	return out, sc.Err()
}

var gccPattern = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(?:(fatal error|error|warning|note|info)\s*:)?\s*(.+?)(?:\s+\[([^\]]+)\])?$`)

// parseGCC reads "path:line[:col]: [severity:] message [code]" lines from stdout and stderr.
// Lines that do not match are ignored.
func parseGCC(stdout, stderr string) ([]lintscale.Diagnostic, error) {
	var out []lintscale.Diagnostic
	for _, text := range []string{stdout, stderr} {
		for _, line := range strings.Split(text, "\n") {
			m := gccPattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
			if m == nil {
				continue
			}
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			out = append(out, lintscale.Diagnostic{
				Path:     m[1],
				Line:     lineNo,
				Column:   col,
				Severity: coerceSeverity(strings.TrimPrefix(m[4], "fatal "), lintscale.SeverityWarning),
				Code:     m[6],
				Message:  m[5],
			})
		}
	}
	return out, nil
}

func decodeJSON(stdout string, v any) (bool, error) {
	if strings.TrimSpace(stdout) == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(stdout), v); err != nil {
		return false, err
	}
	return true, nil
}

type ruffItem struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

func parseRuff(stdout, _ string) ([]lintscale.Diagnostic, error) {
	var items []ruffItem
	if ok, err := decodeJSON(stdout, &items); !ok {
		return nil, err
	}
	out := make([]lintscale.Diagnostic, 0, len(items))
	for _, it := range items {
		out = append(out, lintscale.Diagnostic{
			Path:     it.Filename,
			Line:     it.Location.Row,
			Column:   it.Location.Column,
			Severity: severityFromCode(it.Code, lintscale.SeverityWarning),
			Code:     it.Code,
			Message:  it.Message,
		})
	}
	return out, nil
}

type eslintFile struct {
	FilePath string `json:"filePath"`
	Messages []struct {
		RuleID   string `json:"ruleId"`
		Severity int    `json:"severity"`
		Message  string `json:"message"`
		Line     int    `json:"line"`
		Column   int    `json:"column"`
	} `json:"messages"`
}

func parseESLint(stdout, _ string) ([]lintscale.Diagnostic, error) {
	var files []eslintFile
	if ok, err := decodeJSON(stdout, &files); !ok {
		return nil, err
	}
	var out []lintscale.Diagnostic
	for _, f := range files {
		for _, m := range f.Messages {
			sev := lintscale.SeverityNote
			switch m.Severity {
			case 2:
				sev = lintscale.SeverityError
			case 1:
				sev = lintscale.SeverityWarning
			}
			out = append(out, lintscale.Diagnostic{
				Path:     f.FilePath,
				Line:     m.Line,
				Column:   m.Column,
				Severity: sev,
				Code:     m.RuleID,
				Message:  m.Message,
			})
		}
	}
	return out, nil
}

type golangciReport struct {
	Issues []struct {
		FromLinter string `json:"FromLinter"`
		Text       string `json:"Text"`
		Severity   string `json:"Severity"`
		Pos        struct {
			Filename string `json:"Filename"`
			Line     int    `json:"Line"`
			Column   int    `json:"Column"`
		} `json:"Pos"`
	} `json:"Issues"`
}

func parseGolangCI(stdout, _ string) ([]lintscale.Diagnostic, error) {
	var report golangciReport
	if ok, err := decodeJSON(stdout, &report); !ok {
		return nil, err
	}
	out := make([]lintscale.Diagnostic, 0, len(report.Issues))
	for _, is := range report.Issues {
		out = append(out, lintscale.Diagnostic{
			Path:     is.Pos.Filename,
			Line:     is.Pos.Line,
			Column:   is.Pos.Column,
			Severity: coerceSeverity(is.Severity, lintscale.SeverityWarning),
			Code:     is.FromLinter,
			Message:  is.Text,
		})
	}
	return out, nil
}

type pylintItem struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Symbol    string `json:"symbol"`
	Message   string `json:"message"`
	MessageID string `json:"message-id"`
	Obj       string `json:"obj"`
}

func parsePylint(stdout, _ string) ([]lintscale.Diagnostic, error) {
	var items []pylintItem
	if ok, err := decodeJSON(stdout, &items); !ok {
		return nil, err
	}
	out := make([]lintscale.Diagnostic, 0, len(items))
	for _, it := range items {
		var sev lintscale.Severity
		switch strings.ToLower(it.Type) {
		case "fatal", "error":
			sev = lintscale.SeverityError
		case "convention", "refactor", "info":
			sev = lintscale.SeverityNote
		default:
			sev = lintscale.SeverityWarning
		}
		code := it.MessageID
		if code == "" {
			code = it.Symbol
		}
		out = append(out, lintscale.Diagnostic{
			Path:     it.Path,
			Line:     it.Line,
			Column:   it.Column,
			Severity: sev,
			Code:     code,
			Message:  it.Message,
			Symbol:   it.Obj,
		})
	}
	return out, nil
}

// coerceSeverity maps a tool's severity spelling, falling back to def when empty.
func coerceSeverity(s string, def lintscale.Severity) lintscale.Severity {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return lintscale.ParseSeverity(s)
}

// severityFromCode infers severity from conventional code prefixes: E and F are errors, W warnings.
func severityFromCode(code string, def lintscale.Severity) lintscale.Severity {
	if code == "" {
		return def
	}
	switch strings.ToUpper(code[:1]) {
	case "E", "F":
		return lintscale.SeverityError
	case "W":
		return lintscale.SeverityWarning
	}
	return def
}
