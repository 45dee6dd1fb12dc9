// Package registry joins catalog-sourced and internal tool definitions into one immutable, addressable set.
package registry

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/lintscale"
	"github.com/rs/zerolog"
)

// ActionBinder supplies the runnable strategy for an action that has none.
type ActionBinder func(tool lintscale.Tool, action lintscale.Action) (lintscale.ToolAction, error)

// Registry is an immutable snapshot of every known tool.
// It is safe for concurrent use because nothing mutates it after New returns.
type Registry struct {
	tools      []lintscale.Tool
	byID       map[string]int
	categories map[string]lintscale.Category
	duplicates []lintscale.DuplicateRule
}

// Option configures registry construction.
type Option func(*builder)

// VersionResolver reports the installed version of a tool that declares a version command.
type VersionResolver func(tool lintscale.Tool) (string, error)

type builder struct {
	binder      ActionBinder
	knownParser func(name string) bool
	versions    VersionResolver
	logger      zerolog.Logger
}

// WithActionBinder binds runners to actions that arrive without one.
func WithActionBinder(b ActionBinder) Option {
	return func(bl *builder) {
		bl.binder = b
	}
}

// WithParserCheck rejects actions whose parser name is not accepted by known.
func WithParserCheck(known func(name string) bool) Option {
	return func(bl *builder) {
		bl.knownParser = known
	}
}

// WithVersionResolver replaces the static version of tools with a version command
// by whatever resolve reports. A failed resolution keeps the static version.
func WithVersionResolver(resolve VersionResolver) Option {
	return func(bl *builder) {
		bl.versions = resolve
	}
}

// WithLogger sets the logger used while loading.
func WithLogger(logger zerolog.Logger) Option {
	return func(bl *builder) {
		bl.logger = logger
	}
}

// New validates the snapshot plus internal tools and returns the joined registry.
func New(snapshot lintscale.CatalogSnapshot, internal []lintscale.Tool, opts ...Option) (*Registry, error) {
	b := &builder{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}

	var all []lintscale.Tool
	r := &Registry{
		byID:       make(map[string]int),
		categories: make(map[string]lintscale.Category),
	}
	if snapshot != nil {
		all = append(all, snapshot.Tools()...)
		for _, c := range snapshot.Categories() {
			if c.Name == "" {
				return nil, lintscale.NewCatalogError("category without a name", nil)
			}
			if _, dup := r.categories[c.Name]; dup {
				return nil, lintscale.NewCatalogError(fmt.Sprintf("duplicate category %q", c.Name), nil)
			}
			r.categories[c.Name] = c
		}
		r.duplicates = slices.Clone(snapshot.Duplicates())
	}
	all = append(all, internal...)

	for i := range all {
		t := cloneTool(all[i])
		if err := b.checkParsers(t); err != nil {
			return nil, err
		}
		if err := b.bind(&t); err != nil {
			return nil, err
		}
		b.resolveVersion(&t)
		key := strings.ToLower(t.ID)
		if _, exists := r.byID[key]; exists {
			return nil, lintscale.NewCatalogError(fmt.Sprintf("duplicate tool id %q", t.ID), nil)
		}
		r.byID[key] = len(r.tools)
		r.tools = append(r.tools, t)
	}

	if err := r.validate(); err != nil {
		return nil, err
	}

	// Stable canonical order: phase, then id.
	sort.SliceStable(r.tools, func(i, j int) bool {
		a, b := r.tools[i], r.tools[j]
		if a.Phase.Rank() != b.Phase.Rank() {
			return a.Phase.Rank() < b.Phase.Rank()
		}
		return a.ID < b.ID
	})
	for i, t := range r.tools {
		r.byID[strings.ToLower(t.ID)] = i
	}

	b.logger.Debug().
		Int("tools", len(r.tools)).
		Int("categories", len(r.categories)).
		Int("duplicate_rules", len(r.duplicates)).
		Msg("tool registry loaded")
	return r, nil
}

func (b *builder) bind(t *lintscale.Tool) error {
	for i := range t.Actions {
		a := &t.Actions[i]
		if a.Runner != nil {
			continue
		}
		if b.binder == nil {
			return lintscale.NewCatalogError(fmt.Sprintf("tool %q action %q has no runner", t.ID, a.ID), nil)
		}
		runner, err := b.binder(*t, *a)
		if err != nil {
			return lintscale.NewCatalogError(fmt.Sprintf("cannot bind tool %q action %q", t.ID, a.ID), err)
		}
		a.Runner = runner
	}
	return nil
}

func (b *builder) resolveVersion(t *lintscale.Tool) {
	if b.versions == nil || len(t.VersionCommand) == 0 {
		return
	}
	version, err := b.versions(*t)
	if err != nil {
		b.logger.Warn().Err(err).Str("tool", t.ID).Str("fallback", t.Version).Msg("cannot resolve tool version")
		return
	}
	if version != "" {
		t.Version = version
	}
}

func (b *builder) checkParsers(t lintscale.Tool) error {
	if b.knownParser == nil {
		return nil
	}
	for _, a := range t.Actions {
		if !b.knownParser(a.Parser) {
			return lintscale.NewCatalogError(fmt.Sprintf("tool %q action %q uses unknown parser %q", t.ID, a.ID, a.Parser), nil)
		}
	}
	return nil
}

func cloneTool(t lintscale.Tool) lintscale.Tool {
	t.Actions = slices.Clone(t.Actions)
	t.Before = slices.Clone(t.Before)
	t.After = slices.Clone(t.After)
	t.ConfigKeys = slices.Clone(t.ConfigKeys)
	t.VersionCommand = slices.Clone(t.VersionCommand)
	t.Applicability.Languages = slices.Clone(t.Applicability.Languages)
	t.Applicability.Extensions = slices.Clone(t.Applicability.Extensions)
	t.Applicability.ConfigFiles = slices.Clone(t.Applicability.ConfigFiles)
	if t.Family == "" {
		t.Family = lintscale.FamilyExternal
	}
	return t
}

// validate checks ids, phases, actions, edges, categories, expressions and duplicate rules.
func (r *Registry) validate() error {
	for _, t := range r.tools {
		if t.ID == "" {
			return lintscale.NewCatalogError("tool without an id", nil)
		}
		if !t.Phase.Valid() {
			return lintscale.NewCatalogError(fmt.Sprintf("tool %q has unknown phase %q", t.ID, t.Phase), nil)
		}
		if len(t.Actions) == 0 {
			return lintscale.NewCatalogError(fmt.Sprintf("tool %q declares no actions", t.ID), nil)
		}
		seen := make(map[string]struct{}, len(t.Actions))
		for _, a := range t.Actions {
			if a.ID == "" {
				return lintscale.NewCatalogError(fmt.Sprintf("tool %q has an action without an id", t.ID), nil)
			}
			if _, dup := seen[a.ID]; dup {
				return lintscale.NewCatalogError(fmt.Sprintf("tool %q has duplicate action %q", t.ID, a.ID), nil)
			}
			seen[a.ID] = struct{}{}
		}
		if t.Family == lintscale.FamilyWorkspace && t.HomeProject == "" {
			return lintscale.NewCatalogError(fmt.Sprintf("workspace tool %q must declare a home project", t.ID), nil)
		}
		if t.Category != "" {
			if _, ok := r.categories[t.Category]; !ok {
				return lintscale.NewCatalogError(fmt.Sprintf("tool %q references unknown category %q", t.ID, t.Category), nil)
			}
		}
		if t.Applicability.When != "" {
			if err := ValidateExpression(t.Applicability.When); err != nil {
				return lintscale.NewCatalogError(fmt.Sprintf("tool %q has an invalid when expression", t.ID), err)
			}
		}
		if err := r.validateEdges(t, "after", t.After); err != nil {
			return err
		}
		if err := r.validateEdges(t, "before", t.Before); err != nil {
			return err
		}
	}
	for _, d := range r.duplicates {
		if len(d.Tools) < 2 {
			return lintscale.NewCatalogError("duplicate rule needs at least two tools", nil)
		}
		for _, id := range d.Tools {
			if _, ok := r.Get(id); !ok {
				return lintscale.NewCatalogError(fmt.Sprintf("duplicate rule references unknown tool %q", id), nil)
			}
		}
		if d.Prefer != "" && !slices.Contains(d.Tools, d.Prefer) {
			return lintscale.NewCatalogError(fmt.Sprintf("duplicate rule prefers %q which it does not list", d.Prefer), nil)
		}
	}
	return nil
}

// validateEdges rejects unknown ids, self edges and edges into another phase.
func (r *Registry) validateEdges(t lintscale.Tool, kind string, ids []string) error {
	for _, id := range ids {
		other, ok := r.Get(id)
		if !ok {
			return lintscale.NewCatalogError(fmt.Sprintf("tool %q runs %s unknown tool %q", t.ID, kind, id), nil)
		}
		if other.ID == t.ID {
			return lintscale.NewCatalogError(fmt.Sprintf("tool %q cannot run %s itself", t.ID, kind), nil)
		}
		if other.Phase != t.Phase {
			return lintscale.NewCatalogError(fmt.Sprintf(
				"tool %q (%s) runs %s %q (%s): dependency edges must stay within one phase",
				t.ID, t.Phase, kind, other.ID, other.Phase), nil)
		}
	}
	return nil
}

// Get returns the tool with the given id. Ids match case-insensitively.
func (r *Registry) Get(id string) (lintscale.Tool, bool) {
	i, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return lintscale.Tool{}, false
	}
	return r.tools[i], true
}

// Lookup is Get with a not-found error for callers that propagate errors.
func (r *Registry) Lookup(id string) (lintscale.Tool, error) {
	t, ok := r.Get(id)
	if !ok {
		return lintscale.Tool{}, errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("tool %q not found", id), nil))
	}
	return t, nil
}

// Tools returns every tool ordered by phase then id.
func (r *Registry) Tools() []lintscale.Tool {
	return slices.Clone(r.tools)
}

// IDs returns every tool id in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.tools))
	for i, t := range r.tools {
		ids[i] = t.ID
	}
	return ids
}

// ByLanguage returns tools that declare the language.
func (r *Registry) ByLanguage(lang string) []lintscale.Tool {
	var out []lintscale.Tool
	for _, t := range r.tools {
		for _, l := range t.Applicability.Languages {
			if strings.EqualFold(l, lang) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// ByPattern returns tools whose id matches the glob pattern.
func (r *Registry) ByPattern(pattern string) ([]lintscale.Tool, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("invalid tool pattern %q", pattern), err)
	}
	var out []lintscale.Tool
	for _, t := range r.tools {
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(t.ID)); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ForFile returns tools that would analyse the given file by extension.
// Tools without extension constraints are included.
func (r *Registry) ForFile(file string) []lintscale.Tool {
	ext := strings.ToLower(path.Ext(file))
	var out []lintscale.Tool
	for _, t := range r.tools {
		if len(t.Applicability.Extensions) == 0 {
			out = append(out, t)
			continue
		}
		for _, e := range t.Applicability.Extensions {
			if lintscale.NormalizeExtension(e) == ext {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Category returns a category definition by name.
func (r *Registry) Category(name string) (lintscale.Category, bool) {
	c, ok := r.categories[name]
	return c, ok
}

// Categories returns every category sorted by name.
func (r *Registry) Categories() []lintscale.Category {
	out := make([]lintscale.Category, 0, len(r.categories))
	for _, c := range r.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Duplicates returns the declared duplicate rules.
func (r *Registry) Duplicates() []lintscale.DuplicateRule {
	return slices.Clone(r.duplicates)
}

var _ lintscale.Catalog = (*Registry)(nil)
