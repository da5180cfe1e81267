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

// Package build schedules module builds over a bounded worker pool.
//
// One coordinator goroutine owns the working graph and is its only writer.
// Workers read sources, run loader chains and resolve dependencies; they
// hand finished nodes back to the coordinator, which commits them and
// enqueues newly reached identities.
package build

import (
	"errors"
	"fmt"
	"runtime"

	"bennypowers.dev/graft/cache"
	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/loader"
	"bennypowers.dev/graft/resolve"
)

// ErrStalled is returned when the worker pool stops making progress while
// work is outstanding.
var ErrStalled = errors.New("build stalled: worker pool exited with work in flight")

// Options configures a Scheduler.
type Options struct {
	Resolver *resolve.Resolver
	Runner   *loader.Runner
	Source   Source
	// Cache is an optional persistent output cache.
	Cache cache.Store
	// Workers bounds concurrent module builds. Defaults to GOMAXPROCS.
	Workers int
	// ForbidStaticCycles reports static import cycles that include an ESM
	// import as errors.
	ForbidStaticCycles bool
	Logger             logging.Logger
}

// Entry is a named build entry point.
type Entry struct {
	Name      string `mapstructure:"name" json:"name"`
	Specifier string `mapstructure:"specifier" json:"specifier"`
}

// DeferRequest describes a module the scheduler is about to reach.
type DeferRequest struct {
	Identity graph.Identity
	Resource string
	// Entry is set when the module is a build entry.
	Entry bool
	// Kind is the kind of the edge that reached the module.
	Kind graph.DependencyKind
}

// DeferPolicy decides which modules become lazy stubs instead of being built.
type DeferPolicy interface {
	Defer(req DeferRequest) bool
	Hook(id graph.Identity) string
}

// Request describes one build.
type Request struct {
	// Previous is the last committed graph, or nil for a cold build.
	Previous *graph.ModuleGraph
	// Context is the directory entry specifiers resolve from.
	Context string
	Entries []Entry
	// Rebuild holds identities whose outputs must not be reused.
	Rebuild map[graph.Identity]bool
	// Remove holds identities to drop before building.
	Remove map[graph.Identity]bool
	// Seeds are built in a partial build instead of Entries.
	Seeds []graph.Identity
	// Partial builds never prune and do not revisit built modules.
	Partial bool
	// Verify re-reads every reused module and compares raw hashes.
	Verify bool
	Defer  DeferPolicy
}

// EntryError is a failure to resolve a build entry.
type EntryError struct {
	Name      string
	Specifier string
	Err       error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %s (%q): %v", e.Name, e.Specifier, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Result is a finished build.
type Result struct {
	Graph *graph.ModuleGraph
	// Entries maps every requested entry name to its root. An entry that
	// failed to resolve maps to the empty identity.
	Entries map[string]graph.Identity
	// Errors are module-level and entry errors, in a stable order.
	Errors []error
	// Built lists modules whose loader chain ran.
	Built []graph.Identity
	// Cached lists modules restored from the persistent cache.
	Cached []graph.Identity
	// Reused lists modules whose previous output was kept.
	Reused []graph.Identity
	// Invalidated is the final invalidation set, including identities
	// added by interface propagation.
	Invalidated []graph.Identity
}

// Scheduler runs builds. A Scheduler may run several builds over its
// lifetime but callers must serialize them.
type Scheduler struct {
	opts   Options
	logger logging.Logger
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int {
	return s.opts.Workers
}
