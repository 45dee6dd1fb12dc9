// Package lintscale wires the registry, selector, orchestrator, cache and
// diagnostics pipeline into a ready-to-run engine.
package lintscale

import (
	"context"
	"path/filepath"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/ZanzyTHEbar/lintscale/internal/adapters"
	"github.com/ZanzyTHEbar/lintscale/internal/cache"
	"github.com/ZanzyTHEbar/lintscale/internal/config"
	"github.com/ZanzyTHEbar/lintscale/internal/diagnostics"
	"github.com/ZanzyTHEbar/lintscale/internal/eventbus"
	"github.com/ZanzyTHEbar/lintscale/internal/executor"
	"github.com/ZanzyTHEbar/lintscale/internal/registry"
	"github.com/ZanzyTHEbar/lintscale/internal/selector"
	"github.com/ZanzyTHEbar/lintscale/internal/tools"
	"github.com/rs/zerolog"
)

// Runtime is a fully wired engine plus the components callers may want to inspect.
type Runtime struct {
	Engine   *lintscale.Engine
	Registry *registry.Registry
	Parsers  *diagnostics.Parsers
	Cache    *cache.Context
	Config   config.Config

	orchestrator *executor.Orchestrator
	store        cache.Store
}

type options struct {
	logger    zerolog.Logger
	observers lintscale.Observers
	bus       eventbus.EventBus
	binder    *adapters.Binder
	store     cache.Store
}

// Option configures Build.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver adds a progress observer.
func WithObserver(obs lintscale.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithEventBus publishes run lifecycle events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithBinder replaces the default action binder, e.g. to register extra Go analyzers.
func WithBinder(binder *adapters.Binder) Option {
	return func(o *options) {
		o.binder = binder
	}
}

// WithCacheStore overrides the backend chosen by the configuration.
func WithCacheStore(store cache.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// Build assembles a Runtime for the workspace at root from cfg.
func Build(ctx context.Context, cfg config.Config, root string, opts ...Option) (*Runtime, error) {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger

	parsers := diagnostics.DefaultParsers()
	binder := o.binder
	if binder == nil {
		binder = adapters.NewBinder(adapters.NewCommandAdapter(
			adapters.WithCommandLogger(logger.With().Str("component", "adapter").Logger()),
		))
	}
	internalTools := tools.SetupTools(binder)

	var snapshot lintscale.CatalogSnapshot
	if cfg.Catalog != "" {
		path := cfg.Catalog
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		s, err := registry.LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		snapshot = s
	}
	versions := adapters.NewVersionResolver(binder.Command(), root)
	reg, err := registry.New(snapshot, internalTools,
		registry.WithActionBinder(binder.Bind),
		registry.WithVersionResolver(func(t lintscale.Tool) (string, error) {
			return versions.Resolve(ctx, t)
		}),
		registry.WithParserCheck(parsers.Known),
		registry.WithLogger(logger.With().Str("component", "registry").Logger()),
	)
	if err != nil {
		return nil, err
	}

	severityRules, err := diagnostics.ParseSeverityRules(cfg.Diagnostics.SeverityRules)
	if err != nil {
		return nil, err
	}
	suppressions, err := diagnostics.ParseSuppressionPatterns(cfg.Diagnostics.Suppress)
	if err != nil {
		return nil, err
	}
	failOn, err := cfg.FailOn()
	if err != nil {
		return nil, err
	}
	pipeline := diagnostics.New(
		diagnostics.WithParsers(parsers),
		diagnostics.WithDuplicateRules(reg.Duplicates()),
		diagnostics.WithSeverityRules(severityRules),
		diagnostics.WithSuppressionPatterns(suppressions),
		diagnostics.WithFailOn(failOn),
		diagnostics.WithRestrictToTargets(cfg.Diagnostics.RestrictToTargets),
		diagnostics.WithLogger(logger.With().Str("component", "diagnostics").Logger()),
	)

	rt := &Runtime{Registry: reg, Parsers: parsers, Config: cfg}
	execOpts := []executor.ExecutorOption{
		executor.WithPoolSize(cfg.Run.Jobs),
		executor.WithMaxRetries(cfg.Run.Retries),
		executor.WithExecTimeout(cfg.Run.Timeout),
		executor.WithBail(cfg.Run.Bail),
		executor.WithToolSettings(cfg.Tools),
		executor.WithLogger(logger.With().Str("component", "orchestrator").Logger()),
	}
	store := o.store
	if store == nil && cfg.Cache.Enabled {
		if store, err = OpenStore(cfg, root); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.CacheDir(root)).Msg("cache unavailable, running without it")
		}
	}
	if store != nil {
		rt.store = store
		rt.Cache = cache.New(ctx, store, cache.WithLogger(logger.With().Str("component", "cache").Logger()))
		execOpts = append(execOpts, executor.WithCache(rt.Cache))
	}
	rt.orchestrator = executor.NewOrchestrator(execOpts...)

	engineOpts := []lintscale.Option{
		lintscale.WithCatalog(reg),
		lintscale.WithSelector(selector.New(selector.WithLogger(logger.With().Str("component", "selector").Logger()))),
		lintscale.WithExecutor(rt.orchestrator),
		lintscale.WithNormalizer(pipeline),
		lintscale.WithLogger(logger),
	}
	if len(o.observers) > 0 {
		engineOpts = append(engineOpts, lintscale.WithObserver(o.observers))
	}
	if o.bus != nil {
		engineOpts = append(engineOpts, lintscale.WithEventBus(o.bus))
	}
	engine, err := lintscale.New(engineOpts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = engine
	return rt, nil
}

// OpenStore opens the cache backend selected by cfg.
func OpenStore(cfg config.Config, root string) (cache.Store, error) {
	dir := cfg.CacheDir(root)
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStore(0), nil
	case config.BackendSQLite:
		s, err := cache.OpenSQLiteStore(filepath.Join(dir, "cache.db"))
		if err != nil {
			return nil, lintscale.NewCacheError("open", err)
		}
		return s, nil
	default:
		s, err := cache.NewFileStore(dir)
		if err != nil {
			return nil, lintscale.NewCacheError("open", err)
		}
		return s, nil
	}
}

// Metrics returns the counters of the most recent run.
func (r *Runtime) Metrics() lintscale.RunStats {
	return r.orchestrator.GetMetrics()
}

// ClearCache drops every cached outcome and the version manifest.
func (r *Runtime) ClearCache(ctx context.Context) error {
	if r.Cache == nil {
		return nil
	}
	return r.Cache.Clear(ctx)
}

// Close releases the cache backend and the engine's event bus.
func (r *Runtime) Close() error {
	var err error
	if r.Engine != nil {
		err = r.Engine.Close()
	}
	if r.store != nil {
		if cerr := r.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
