/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package engine ties the resolver, scheduler, chunk builder and revision
// store together behind one handle.
//
// A Compiler owns the latest compilation. Builds, rebuilds and lazy
// triggers are serialized so revisions are published in order; readers
// get the current compilation without blocking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"bennypowers.dev/graft/build"
	"bennypowers.dev/graft/cache"
	"bennypowers.dev/graft/chunk"
	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/lazy"
	"bennypowers.dev/graft/loader"
	"bennypowers.dev/graft/loader/scan"
	"bennypowers.dev/graft/packagejson"
	"bennypowers.dev/graft/remote"
	"bennypowers.dev/graft/resolve"
	"bennypowers.dev/graft/revision"
)

// ErrClosed is returned by operations on a closed Compiler.
var ErrClosed = errors.New("compiler closed")

// Options supplies collaborators. Zero values select the defaults.
type Options struct {
	FS fs.FileSystem
	// Fetcher reads remote modules when Config.Remote is set.
	Fetcher remote.Fetcher
	// Chains and Rules default to the reference scanner chains.
	Chains  []loader.Chain
	Rules   []loader.Rule
	Plugins []resolve.Plugin
	// Splitter overrides Config.Split.
	Splitter chunk.Splitter
	// Cache overrides Config.CacheDir. The caller keeps ownership.
	Cache  cache.Store
	Logger logging.Logger
	// Now stamps compilations. Defaults to time.Now.
	Now func() time.Time
}

// Compiler is the engine handle.
type Compiler struct {
	cfg       Config
	fs        fs.FileSystem
	resolver  *resolve.Resolver
	scheduler *build.Scheduler
	chunks    *chunk.Builder
	store     *revision.Store
	gate      *lazy.Gate
	cache     cache.Store
	ownsCache bool
	fetcher   remote.Fetcher
	deferred  build.DeferPolicy
	logger    logging.Logger
	now       func() time.Time

	mu       sync.Mutex
	revision uint64
	closed   bool
}

// New creates a Compiler. Nothing is built until Build is called.
func New(cfg Config, opts Options) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	if opts.FS == nil {
		opts.FS = fs.NewOSFileSystem()
	} else {
		root = filepath.ToSlash(filepath.Clean(cfg.Root))
	}
	cfg.Root = root
	if cfg.Invalidation.Propagation == "" {
		cfg.Invalidation.Propagation = invalidate.PropagateInterface
	}
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if opts.Chains == nil {
		opts.Chains = scan.DefaultChains()
		if opts.Rules == nil {
			opts.Rules = scan.DefaultRules()
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.OrDiscard(opts.Logger)

	registry, err := loader.NewRegistry(opts.Chains, opts.Rules)
	if err != nil {
		return nil, err
	}

	var fetcher remote.Fetcher
	if cfg.Remote {
		fetcher = opts.Fetcher
		if fetcher == nil {
			fetcher = remote.NewCachingFetcher(remote.NewHTTPFetcher(), remote.DefaultCacheSize)
		}
	}

	template := chunk.MustParseTemplate(chunk.DefaultTemplate)
	if cfg.Filename != "" {
		template = chunk.MustParseTemplate(cfg.Filename)
	}
	splitter := opts.Splitter
	if splitter == nil && cfg.Split.Enabled() {
		splitter = cfg.Split
	}

	c := &Compiler{
		cfg:     cfg,
		fs:      opts.FS,
		chunks:  chunk.NewBuilder(chunk.Options{Splitter: splitter, Template: template}),
		store:   revision.NewStore(),
		cache:   opts.Cache,
		fetcher: fetcher,
		logger:  logger,
		now:     opts.Now,
	}
	if c.cache == nil && cfg.CacheDir != "" {
		store, err := cache.Open(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		c.cache = store
		c.ownsCache = true
	}
	if cfg.Lazy.Enabled() {
		c.deferred = cfg.Lazy
	}

	c.resolver = resolve.New(opts.FS, resolve.Options{
		Root:             root,
		Conditions:       cfg.Conditions,
		Extensions:       cfg.Extensions,
		StrictExtensions: cfg.StrictExtensions,
		Alias:            cfg.Alias,
		Remote:           cfg.Remote,
		Plugins:          opts.Plugins,
		Chains:           registry,
		Logger:           logger,
	})
	c.scheduler = build.New(build.Options{
		Resolver:           c.resolver,
		Runner:             loader.NewRunner(registry, logger),
		Source:             build.FileSource{FS: opts.FS, Fetcher: fetcher},
		Cache:              c.cache,
		Workers:            cfg.Workers,
		ForbidStaticCycles: cfg.ForbidStaticCycles,
		Logger:             logger,
	})
	c.gate = lazy.NewGate(c, logger)
	return c, nil
}

// Build runs a one-shot build of entries with cfg. Nil entries use
// cfg.Entries.
func Build(ctx context.Context, cfg Config, entries []build.Entry) (*revision.Compilation, error) {
	if entries != nil {
		cfg.Entries = entries
	}
	c, err := New(cfg, Options{})
	if err != nil {
		return nil, err
	}
	comp, err := c.Build(ctx)
	return comp, errors.Join(err, c.Close())
}

// Config returns the effective configuration.
func (c *Compiler) Config() Config {
	return c.cfg
}

// Current returns the latest compilation, or nil before the first build.
func (c *Compiler) Current() *revision.Compilation {
	return c.store.Current()
}

// Subscribe delivers every compilation published after the call. Slow
// subscribers only see the latest one.
func (c *Compiler) Subscribe() (<-chan *revision.Compilation, func()) {
	return c.store.Subscribe()
}

// Build builds every entry. Build carries no change set, so modules of the
// previous compilation are re-read and reused only when their content hash
// is unchanged.
func (c *Compiler) Build(ctx context.Context) (*revision.Compilation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.compile(ctx, invalidate.Set{}, false, nil, true)
}

// Rebuild applies filesystem changes to the current compilation. With no
// previous compilation it is a full build.
func (c *Compiler) Rebuild(ctx context.Context, changes []invalidate.Change) (*revision.Compilation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	var prev *graph.ModuleGraph
	if cur := c.store.Current(); cur != nil {
		prev = cur.Graph
	}
	set := invalidate.Compute(prev, changes, c.cfg.Invalidation)
	for _, note := range set.Notes {
		c.logger.Debug("Ignoring change", "err", note)
	}
	return c.compile(ctx, set, false, nil, false)
}

// BuildPartial builds the deferred modules among seeds and their newly
// reached dependencies. Seeds that are no longer stubs are skipped.
func (c *Compiler) BuildPartial(ctx context.Context, seeds []graph.Identity) (*revision.Patch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	cur := c.store.Current()
	if cur == nil {
		return nil, lazy.ErrNoCompilation
	}
	var stubs []graph.Identity
	for _, id := range seeds {
		if n := cur.Graph.Node(id); n != nil && n.IsStub() {
			stubs = append(stubs, id)
		}
	}
	if len(stubs) == 0 {
		return &revision.Patch{Compilation: cur, Manifest: revision.Diff(cur, cur)}, nil
	}
	comp, err := c.compile(ctx, invalidate.Set{}, true, stubs, false)
	if err != nil {
		return nil, err
	}
	return &revision.Patch{Compilation: comp, Manifest: revision.Diff(cur, comp)}, nil
}

// Trigger builds a deferred module named by identity or lazy hook path.
func (c *Compiler) Trigger(ctx context.Context, key string) (*revision.Patch, error) {
	return c.gate.Trigger(ctx, key)
}

// compile runs one build and publishes its compilation. verify forces a
// content check of every reused module. Callers hold mu.
func (c *Compiler) compile(ctx context.Context, set invalidate.Set, partial bool, seeds []graph.Identity, verify bool) (*revision.Compilation, error) {
	prev := c.store.Current()
	rev := c.revision + 1
	c.resolver.Reset(rev)
	c.resolver.Invalidate(set.Paths)
	if inv, ok := c.fetcher.(remote.Invalidator); ok {
		for _, p := range set.Paths {
			inv.Invalidate(p)
		}
	}

	req := build.Request{
		Context: c.cfg.Root,
		Entries: c.cfg.Entries,
		Rebuild: set.Rebuild,
		Remove:  set.Remove,
		Seeds:   seeds,
		Partial: partial,
		Verify:  c.cfg.Verify || verify,
		Defer:   c.deferred,
	}
	var prevChunks *chunk.Graph
	if prev != nil {
		req.Previous = prev.Graph
		prevChunks = prev.Chunks
	}

	start := c.now()
	res, err := c.scheduler.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	entries := res.Entries
	if partial {
		entries = prev.Entries
	}
	comp := &revision.Compilation{
		Revision:    rev,
		Graph:       res.Graph,
		Chunks:      c.chunks.Build(res.Graph, entries, prevChunks),
		Entries:     entries,
		Errors:      res.Errors,
		Warnings:    append([]error(nil), set.Notes...),
		Time:        start,
		Invalidated: res.Invalidated,
		Built:       res.Built,
		Partial:     partial,
	}
	if c.cfg.ValidateImports {
		for _, issue := range c.importIssues(res.Graph) {
			comp.Warnings = append(comp.Warnings, issue)
		}
	}

	c.revision = rev
	c.store.Publish(comp)
	c.logger.Info("Compiled",
		"revision", rev,
		"modules", res.Graph.Len(),
		"built", len(res.Built),
		"cached", len(res.Cached),
		"reused", len(res.Reused),
		"chunks", comp.Chunks.Len(),
		"errors", len(comp.Errors),
		"partial", partial,
	)
	return comp, nil
}

func (c *Compiler) importIssues(g *graph.ModuleGraph) []*build.ImportIssue {
	path := c.cfg.Root + "/package.json"
	if !c.fs.Exists(path) {
		return nil
	}
	pkg, err := packagejson.ParseFile(c.fs, path)
	if err != nil {
		c.logger.Warn("Could not read package.json", "path", path, "err", err)
		return nil
	}
	return build.ValidateImports(g, c.fs, c.cfg.Root, pkg)
}

type pruner interface {
	Prune(ctx context.Context, keep map[string]bool) (int, error)
}

// Close ends subscriptions and releases the cache. Cache entries for
// modules outside the last compilation are pruned first.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.store.Close()
	if !c.ownsCache {
		return nil
	}
	var errs []error
	if p, ok := c.cache.(pruner); ok {
		if cur := c.store.Current(); cur != nil {
			keep := make(map[string]bool, cur.Graph.Len())
			for _, id := range cur.Graph.Identities() {
				keep[string(id)] = true
			}
			n, err := p.Prune(context.Background(), keep)
			if err != nil {
				errs = append(errs, fmt.Errorf("pruning cache: %w", err))
			} else if n > 0 {
				c.logger.Debug("Pruned cache", "entries", n)
			}
		}
	}
	errs = append(errs, c.cache.Close())
	return errors.Join(errs...)
}
