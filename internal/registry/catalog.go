package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk catalog document.
type CatalogFile struct {
	Categories []CatalogCategory  `yaml:"categories"`
	Duplicates []CatalogDuplicate `yaml:"duplicates"`
	Tools      []CatalogTool      `yaml:"tools"`
}

type CatalogCategory struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	MinSensitivity string `yaml:"min_sensitivity"`
}

type CatalogDuplicate struct {
	Tools     []string          `yaml:"tools"`
	Prefer    string            `yaml:"prefer"`
	CodePairs map[string]string `yaml:"code_pairs"`
}

type CatalogTool struct {
	ID             string          `yaml:"id"`
	Description    string          `yaml:"description"`
	Phase          string          `yaml:"phase"`
	Languages      []string        `yaml:"languages"`
	Extensions     []string        `yaml:"extensions"`
	ConfigFiles    []string        `yaml:"config_files"`
	When           string          `yaml:"when"`
	Before         []string        `yaml:"before"`
	After          []string        `yaml:"after"`
	AutoFix        bool            `yaml:"auto_fix"`
	Family         string          `yaml:"family"`
	HomeProject    string          `yaml:"home_project"`
	Category       string          `yaml:"category"`
	ConfigKeys     []string        `yaml:"config_keys"`
	Priority       int             `yaml:"priority"`
	Version        string          `yaml:"version"`
	VersionCommand []string        `yaml:"version_command"`
	Actions        []CatalogAction `yaml:"actions"`
}

type CatalogAction struct {
	ID           string   `yaml:"id"`
	Capability   string   `yaml:"capability"`
	Command      []string `yaml:"command"`
	Parser       string   `yaml:"parser"`
	Timeout      string   `yaml:"timeout"`
	SuccessCodes []int    `yaml:"success_codes"`
}

// CatalogLoader loads a CatalogFile from a source path.
type CatalogLoader interface {
	Load(source string) (*CatalogFile, error)
	Format() string // e.g., "yaml"
}

var (
	loaderMu       sync.RWMutex
	loaderRegistry = make(map[string]CatalogLoader)
)

// RegisterCatalogLoader registers a loader under its format name.
func RegisterCatalogLoader(loader CatalogLoader) {
	loaderMu.Lock()
	defer loaderMu.Unlock()
	loaderRegistry[loader.Format()] = loader
}

// GetCatalogLoader retrieves a loader by format name.
func GetCatalogLoader(format string) (CatalogLoader, bool) {
	loaderMu.RLock()
	defer loaderMu.RUnlock()
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements CatalogLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	return ParseCatalog(data)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterCatalogLoader(YAMLLoader{})
}

// ParseCatalog decodes a YAML catalog document. Unknown fields are rejected.
func ParseCatalog(data []byte) (*CatalogFile, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return &file, nil
}

// LoadCatalog loads the catalog at path with the loader matching its extension.
func LoadCatalog(path string) (*Snapshot, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "yml" {
		format = "yaml"
	}
	loader, ok := GetCatalogLoader(format)
	if !ok {
		return nil, lintscale.NewCatalogError(fmt.Sprintf("no catalog loader registered for %q", format), nil)
	}
	file, err := loader.Load(path)
	if err != nil {
		return nil, lintscale.NewCatalogError("failed to load catalog", err)
	}
	return file.Snapshot()
}

// Snapshot converts the document into a typed CatalogSnapshot.
func (c *CatalogFile) Snapshot() (*Snapshot, error) {
	s := &Snapshot{}
	for _, cc := range c.Categories {
		sens, err := lintscale.ParseSensitivity(cc.MinSensitivity)
		if err != nil {
			return nil, lintscale.NewCatalogError(fmt.Sprintf("category %q", cc.Name), err)
		}
		s.categories = append(s.categories, lintscale.Category{
			Name:           cc.Name,
			Description:    cc.Description,
			MinSensitivity: sens,
		})
	}
	for _, d := range c.Duplicates {
		s.duplicates = append(s.duplicates, lintscale.DuplicateRule{
			Tools:     d.Tools,
			Prefer:    d.Prefer,
			CodePairs: d.CodePairs,
		})
	}
	for _, ct := range c.Tools {
		tool, err := ct.toTool()
		if err != nil {
			return nil, err
		}
		s.tools = append(s.tools, tool)
	}
	return s, nil
}

func (ct CatalogTool) toTool() (lintscale.Tool, error) {
	phase, err := lintscale.ParsePhase(ct.Phase)
	if err != nil {
		return lintscale.Tool{}, lintscale.NewCatalogError(fmt.Sprintf("tool %q", ct.ID), err)
	}
	family := lintscale.Family(strings.ToLower(ct.Family))
	switch family {
	case "":
		family = lintscale.FamilyExternal
	case lintscale.FamilyExternal, lintscale.FamilyInternal, lintscale.FamilyWorkspace:
	default:
		return lintscale.Tool{}, lintscale.NewCatalogError(fmt.Sprintf("tool %q has unknown family %q", ct.ID, ct.Family), nil)
	}

	tool := lintscale.Tool{
		ID:          ct.ID,
		Description: ct.Description,
		Phase:       phase,
		Applicability: lintscale.Applicability{
			Languages:   ct.Languages,
			Extensions:  ct.Extensions,
			ConfigFiles: ct.ConfigFiles,
			When:        ct.When,
		},
		Before:         ct.Before,
		After:          ct.After,
		AutoFix:        ct.AutoFix,
		Family:         family,
		HomeProject:    ct.HomeProject,
		Category:       ct.Category,
		ConfigKeys:     ct.ConfigKeys,
		Priority:       ct.Priority,
		Version:        ct.Version,
		VersionCommand: ct.VersionCommand,
	}
	for _, ca := range ct.Actions {
		action, err := ca.toAction(ct.ID)
		if err != nil {
			return lintscale.Tool{}, err
		}
		tool.Actions = append(tool.Actions, action)
	}
	return tool, nil
}

func (ca CatalogAction) toAction(toolID string) (lintscale.Action, error) {
	capability := lintscale.Capability(strings.ToLower(ca.Capability))
	switch capability {
	case "":
		capability = lintscale.CapabilityLint
	case lintscale.CapabilityLint, lintscale.CapabilityFix, lintscale.CapabilityFormat:
	default:
		return lintscale.Action{}, lintscale.NewCatalogError(fmt.Sprintf("tool %q action %q has unknown capability %q", toolID, ca.ID, ca.Capability), nil)
	}
	var timeout time.Duration
	if ca.Timeout != "" {
		d, err := time.ParseDuration(ca.Timeout)
		if err != nil {
			return lintscale.Action{}, lintscale.NewCatalogError(fmt.Sprintf("tool %q action %q has invalid timeout", toolID, ca.ID), err)
		}
		timeout = d
	}
	return lintscale.Action{
		ID:           ca.ID,
		Capability:   capability,
		Command:      ca.Command,
		Parser:       ca.Parser,
		Timeout:      timeout,
		SuccessCodes: ca.SuccessCodes,
	}, nil
}

// Snapshot is an in-memory CatalogSnapshot.
type Snapshot struct {
	tools      []lintscale.Tool
	categories []lintscale.Category
	duplicates []lintscale.DuplicateRule
}

// NewSnapshot builds a snapshot from already-typed definitions.
func NewSnapshot(tools []lintscale.Tool, categories []lintscale.Category, duplicates []lintscale.DuplicateRule) *Snapshot {
	return &Snapshot{tools: tools, categories: categories, duplicates: duplicates}
}

func (s *Snapshot) Tools() []lintscale.Tool               { return s.tools }
func (s *Snapshot) Categories() []lintscale.Category      { return s.categories }
func (s *Snapshot) Duplicates() []lintscale.DuplicateRule { return s.duplicates }

var _ lintscale.CatalogSnapshot = (*Snapshot)(nil)
