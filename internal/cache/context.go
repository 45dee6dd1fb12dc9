package cache

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/rs/zerolog"
)

// Context is the run-facing cache: token computation, version-checked loads and stores.
// Any backend failure disables it for the rest of the run; it never serves stale results.
// BeginRun re-enables it, so a transient failure costs one run, not the process lifetime.
type Context struct {
	store  Store
	hasher *Hasher
	logger zerolog.Logger

	manifestMu sync.Mutex
	manifest   map[string]string
	loaded     bool
	dirty      bool

	disabled atomic.Bool
	warnMu   sync.Mutex
	warned   bool

	hits   atomic.Int64
	misses atomic.Int64
	stores atomic.Int64
}

// Option configures a cache Context.
type Option func(*Context)

// WithLogger sets the logger used for the one-time degradation warning.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithHashConcurrency bounds concurrent file reads while hashing.
func WithHashConcurrency(n int) Option {
	return func(c *Context) {
		c.hasher = NewHasher(n)
	}
}

// New wraps a store. A manifest that cannot be read leaves the cache disabled.
func New(ctx context.Context, store Store, opts ...Option) *Context {
	c := &Context{
		store:  store,
		hasher: NewHasher(8),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.manifest = map[string]string{}
	c.loadManifest(ctx)
	return c
}

func (c *Context) loadManifest(ctx context.Context) {
	manifest, err := c.store.LoadManifest(ctx)
	if err != nil {
		c.disable("load-manifest", err)
		return
	}
	c.manifestMu.Lock()
	c.manifest = manifest
	c.loaded = true
	c.dirty = false
	c.manifestMu.Unlock()
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits     int64
	Misses   int64
	Stores   int64
	Disabled bool
}

// Stats returns current counters.
func (c *Context) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Stores:   c.stores.Load(),
		Disabled: c.disabled.Load(),
	}
}

// Disabled reports whether the cache has degraded for this run.
func (c *Context) Disabled() bool {
	return c.disabled.Load()
}

// BeginRun clears per-run memoisation and re-enables a cache that degraded during an
// earlier run. A manifest that failed to load is read again.
func (c *Context) BeginRun(ctx context.Context) {
	c.hasher.Reset()
	c.warnMu.Lock()
	c.warned = false
	c.warnMu.Unlock()
	c.disabled.Store(false)

	c.manifestMu.Lock()
	loaded := c.loaded
	c.manifestMu.Unlock()
	if !loaded {
		c.loadManifest(ctx)
	}
}

func (c *Context) disable(op string, err error) {
	c.disabled.Store(true)
	c.warnMu.Lock()
	defer c.warnMu.Unlock()
	if c.warned {
		return
	}
	c.warned = true
	c.logger.Warn().Err(lintscale.NewCacheError(op, err)).Msg("cache disabled for this run")
}

// TokenFor computes the token of one action run from its request.
func (c *Context) TokenFor(ctx context.Context, req lintscale.ActionRequest) (string, error) {
	digests, err := c.hasher.Digests(ctx, req.Facts.Root, req.Files)
	if err != nil {
		return "", lintscale.NewCacheError("hash", err)
	}
	token, err := ComputeToken(req.Tool, req.Action, digests, req.Settings)
	if err != nil {
		return "", lintscale.NewCacheError("token", err)
	}
	return token, nil
}

// Load returns the stored outcome for token if it was written by the tool's current version.
func (c *Context) Load(ctx context.Context, token string, tool lintscale.Tool) (lintscale.Outcome, bool) {
	if c.disabled.Load() {
		return lintscale.Outcome{}, false
	}

	c.manifestMu.Lock()
	known, recorded := c.manifest[tool.ID]
	c.manifestMu.Unlock()
	if recorded && known != tool.Version {
		c.misses.Add(1)
		return lintscale.Outcome{}, false
	}

	entry, found, err := c.store.Get(ctx, token)
	if err != nil {
		if ctx.Err() == nil {
			c.disable("load", err)
		}
		c.misses.Add(1)
		return lintscale.Outcome{}, false
	}
	if !found || entry.ToolVersion != tool.Version {
		c.misses.Add(1)
		return lintscale.Outcome{}, false
	}

	c.hits.Add(1)
	outcome := entry.Outcome
	outcome.CacheHit = true
	return outcome, true
}

// Store records a cacheable outcome under token.
func (c *Context) Store(ctx context.Context, token string, outcome lintscale.Outcome, toolVersion string) {
	if c.disabled.Load() || !outcome.Cacheable() {
		return
	}
	outcome.CacheHit = false
	err := c.store.Put(ctx, Entry{
		Token:       token,
		ToolID:      outcome.ToolID,
		ActionID:    outcome.ActionID,
		ToolVersion: toolVersion,
		Outcome:     outcome,
		StoredAt:    time.Now(),
	})
	if err != nil {
		if ctx.Err() == nil {
			c.disable("store", err)
		}
		return
	}
	c.stores.Add(1)

	c.manifestMu.Lock()
	if c.manifest[outcome.ToolID] != toolVersion {
		c.manifest[outcome.ToolID] = toolVersion
		c.dirty = true
	}
	c.manifestMu.Unlock()
}

// Persist writes the version manifest if it changed.
func (c *Context) Persist(ctx context.Context) error {
	if c.disabled.Load() {
		return nil
	}
	c.manifestMu.Lock()
	if !c.dirty {
		c.manifestMu.Unlock()
		return nil
	}
	snapshot := maps.Clone(c.manifest)
	c.dirty = false
	c.manifestMu.Unlock()

	if err := c.store.SaveManifest(ctx, snapshot); err != nil {
		c.disable("persist-manifest", err)
		return lintscale.NewCacheError("persist-manifest", err)
	}
	return nil
}

// Clear empties the backing store and the manifest.
func (c *Context) Clear(ctx context.Context) error {
	if err := c.store.Clear(ctx); err != nil {
		return lintscale.NewCacheError("clear", err)
	}
	c.manifestMu.Lock()
	c.manifest = map[string]string{}
	c.loaded = true
	c.dirty = false
	c.manifestMu.Unlock()
	return nil
}
