// Package workspace discovers the facts tool selection is driven by.
package workspace

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/lintscale"
	"github.com/rs/zerolog"
)

// ExcludedDirs are never descended into.
var ExcludedDirs = []string{
	".git", "node_modules", ".venv", "venv", "dist", "build", "__pycache__",
	".mypy_cache", ".pytest_cache", ".tox", "coverage", ".cache", ".lintscale-cache",
}

// languageExtensions maps languages to the file extensions that indicate them.
var languageExtensions = map[string][]string{
	"python":     {".py", ".pyi"},
	"javascript": {".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"},
	"go":         {".go"},
	"rust":       {".rs"},
	"markdown":   {".md", ".mdx", ".markdown"},
	"yaml":       {".yml", ".yaml"},
	"sql":        {".sql"},
	"css":        {".css", ".scss", ".sass", ".less"},
	"lua":        {".lua"},
	"shell":      {".sh", ".bash"},
	"toml":       {".toml"},
}

// languageMarkers maps languages to config files that indicate them on their own.
var languageMarkers = map[string][]string{
	"python":     {"pyproject.toml", "setup.cfg", "requirements.txt", "Pipfile", "poetry.lock"},
	"javascript": {"package.json", "yarn.lock", "pnpm-lock.yaml", "tsconfig.json"},
	"go":         {"go.mod"},
	"rust":       {"Cargo.toml"},
	"docker":     {"Dockerfile", "Containerfile"},
	"lua":        {".luacheckrc"},
}

// configFiles are recorded in WorkspaceFacts.ConfigFiles when found anywhere in the tree.
var configFiles = []string{
	"pyproject.toml", "setup.cfg", "requirements.txt", "Pipfile", "poetry.lock", "tox.ini",
	".flake8", "mypy.ini", ".pylintrc", "ruff.toml", ".ruff.toml",
	"package.json", "tsconfig.json", ".eslintrc", ".eslintrc.json", ".eslintrc.js", "eslint.config.js", ".prettierrc",
	"go.mod", ".golangci.yml", ".golangci.yaml",
	"Cargo.toml", "clippy.toml",
	"Dockerfile", "Containerfile", ".hadolint.yaml",
	".yamllint", ".yamllint.yaml", ".stylelintrc", ".luacheckrc",
	"lintscale.toml",
}

// Scanner walks a workspace and builds its facts.
type Scanner struct {
	exclude     []string
	homeProject string
	logger      zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExclude adds directory names to skip.
func WithExclude(dirs ...string) Option {
	return func(s *Scanner) {
		s.exclude = append(s.exclude, dirs...)
	}
}

// WithHomeProject overrides the detected project name.
func WithHomeProject(name string) Option {
	return func(s *Scanner) {
		s.homeProject = name
	}
}

// WithLogger sets the scanner logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{exclude: slices.Clone(ExcludedDirs), logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks root. When targets is non-empty only those workspace-relative paths
// (files or directories) become target files; languages and config files are still
// taken from the whole tree.
func (s *Scanner) Scan(ctx context.Context, root string, targets ...string) (lintscale.WorkspaceFacts, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return lintscale.WorkspaceFacts{}, lintscale.NewConfigurationError("cannot resolve workspace root", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return lintscale.WorkspaceFacts{}, lintscale.NewConfigurationError("workspace root "+root+" is not a directory", err)
	}

	var all, configs []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug().Err(err).Str("path", p).Msg("skipping unreadable path")
			return nil
		}
		if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
			return err
		}
		if d.IsDir() {
			if p != abs && slices.Contains(s.exclude, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		all = append(all, rel)
		if slices.Contains(configFiles, d.Name()) {
			configs = append(configs, rel)
		}
		return nil
	})
	if err != nil {
		return lintscale.WorkspaceFacts{}, err
	}

	files := all
	if len(targets) > 0 {
		files = restrict(all, abs, targets)
	}
	slices.Sort(files)
	slices.Sort(configs)

	facts := lintscale.WorkspaceFacts{
		Root:        abs,
		Files:       files,
		ConfigFiles: configs,
		Extensions:  extensions(all),
		HomeProject: s.homeProject,
	}
	facts.Languages = languages(facts.Extensions, configs)
	if facts.HomeProject == "" {
		facts.HomeProject = DetectProjectName(abs)
	}
	s.logger.Debug().
		Str("root", abs).
		Int("files", len(files)).
		Strs("languages", facts.Languages).
		Str("home_project", facts.HomeProject).
		Msg("workspace scanned")
	return facts, nil
}

func restrict(all []string, root string, targets []string) []string {
	var out []string
	for _, t := range targets {
		if filepath.IsAbs(t) {
			if rel, err := filepath.Rel(root, t); err == nil {
				t = rel
			}
		}
		t = strings.TrimSuffix(path.Clean(filepath.ToSlash(t)), "/")
		for _, f := range all {
			if t == "." || f == t || strings.HasPrefix(f, t+"/") {
				if !slices.Contains(out, f) {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

func extensions(files []string) []string {
	var out []string
	for _, f := range files {
		ext := strings.ToLower(path.Ext(f))
		if ext != "" && !slices.Contains(out, ext) {
			out = append(out, ext)
		}
	}
	slices.Sort(out)
	return out
}

func languages(exts, configs []string) []string {
	var out []string
	add := func(lang string) {
		if !slices.Contains(out, lang) {
			out = append(out, lang)
		}
	}
	for lang, want := range languageExtensions {
		for _, ext := range exts {
			if slices.Contains(want, ext) {
				add(lang)
				break
			}
		}
	}
	for lang, markers := range languageMarkers {
		for _, c := range configs {
			if slices.Contains(markers, path.Base(c)) {
				add(lang)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// DetectProjectName reads the project name from go.mod, pyproject.toml or package.json
// at root, falling back to the directory name.
func DetectProjectName(root string) string {
	if name := goModuleName(filepath.Join(root, "go.mod")); name != "" {
		return name
	}
	var pyproject struct {
		Project struct {
			Name string `toml:"name"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Name string `toml:"name"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if _, err := toml.DecodeFile(filepath.Join(root, "pyproject.toml"), &pyproject); err == nil {
		if pyproject.Project.Name != "" {
			return pyproject.Project.Name
		}
		if pyproject.Tool.Poetry.Name != "" {
			return pyproject.Tool.Poetry.Name
		}
	}
	if data, err := os.ReadFile(filepath.Join(root, "package.json")); err == nil {
		var pkg struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(data, &pkg) == nil && pkg.Name != "" {
			return pkg.Name
		}
	}
	return filepath.Base(root)
}

func goModuleName(file string) string {
	f, err := os.Open(file)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if mod, ok := strings.CutPrefix(line, "module "); ok {
			return path.Base(strings.Trim(strings.TrimSpace(mod), `"`))
		}
	}
	return ""
}
