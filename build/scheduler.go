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
package build

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"bennypowers.dev/graft/graph"
)

type visit uint8

const (
	unvisited visit = iota
	// stubbed identities were reached only through deferrable edges.
	stubbed
	scheduled
)

// run is the coordinator state of one build. Only the coordinator
// goroutine touches it.
type run struct {
	s   *Scheduler
	req Request

	prev *graph.ModuleGraph
	work *graph.ModuleGraph

	entries     map[string]graph.Identity
	entryErrs   []error
	forced      map[graph.Identity]bool
	invalidated map[graph.Identity]bool
	visited     map[graph.Identity]visit
	inflight    map[graph.Identity]bool
	committed   map[graph.Identity]bool
	queue       []pending

	built  map[graph.Identity]bool
	cached map[graph.Identity]bool
	reused map[graph.Identity]bool
}

type pending struct {
	id          graph.Identity
	resource    string
	sideEffects graph.SideEffects
}

func notWeak(k graph.DependencyKind) bool {
	return k != graph.Weak
}

// Build runs one build. Module failures are collected in the result; an
// error is returned only for cancellation and scheduler failures, in which
// case the working graph is discarded.
func (s *Scheduler) Build(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		s:           s,
		req:         req,
		prev:        req.Previous,
		work:        req.Previous.Clone(),
		entries:     make(map[string]graph.Identity),
		forced:      make(map[graph.Identity]bool),
		invalidated: make(map[graph.Identity]bool),
		visited:     make(map[graph.Identity]visit),
		inflight:    make(map[graph.Identity]bool),
		committed:   make(map[graph.Identity]bool),
		built:       make(map[graph.Identity]bool),
		cached:      make(map[graph.Identity]bool),
		reused:      make(map[graph.Identity]bool),
	}
	for id, ok := range req.Rebuild {
		if ok {
			r.invalidated[id] = true
		}
	}
	for id, ok := range req.Remove {
		if ok {
			r.work.Remove(id)
		}
	}

	if err := r.seed(ctx); err != nil {
		return nil, err
	}
	if err := r.loop(ctx); err != nil {
		return nil, err
	}
	return r.finish(), nil
}

func (r *run) seed(ctx context.Context) error {
	if r.req.Partial {
		for _, id := range r.req.Seeds {
			n := r.work.Node(id)
			if n == nil {
				r.s.logger.Warn("Partial build seed is not in the graph", "module", id)
				continue
			}
			r.forced[id] = true
			r.reach(target{id: id, resource: n.Resource, sideEffects: n.SideEffects, kind: graph.Static}, true)
		}
		return nil
	}

	for _, e := range r.req.Entries {
		res, err := r.s.opts.Resolver.Resolve(ctx, r.req.Context, e.Specifier, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.entryErrs = append(r.entryErrs, &EntryError{Name: e.Name, Specifier: e.Specifier, Err: err})
			r.entries[e.Name] = ""
			continue
		}
		r.entries[e.Name] = res.Identity
		r.reach(target{id: res.Identity, resource: res.Resource, sideEffects: res.SideEffects, kind: graph.Static}, true)
	}
	return nil
}

// reach marks an identity as part of this revision and schedules it unless
// it is deferred or, in a partial build, already built.
func (r *run) reach(t target, entry bool) {
	if r.visited[t.id] == scheduled {
		return
	}
	cur := r.work.Node(t.id)

	if r.req.Partial && !r.forced[t.id] && cur != nil && !cur.IsStub() && !r.invalidated[t.id] {
		r.visited[t.id] = scheduled
		return
	}

	if r.req.Defer != nil && !r.forced[t.id] && (cur == nil || cur.IsStub()) {
		req := DeferRequest{Identity: t.id, Resource: t.resource, Entry: entry, Kind: t.kind}
		if r.req.Defer.Defer(req) {
			if cur == nil {
				r.work.Put(&graph.Node{
					Identity:    t.id,
					Resource:    t.resource,
					State:       graph.Unbuilt,
					SideEffects: t.sideEffects,
					Deferred:    true,
					LazyHook:    r.req.Defer.Hook(t.id),
				})
			}
			r.visited[t.id] = stubbed
			return
		}
	}

	r.visited[t.id] = scheduled
	r.queue = append(r.queue, pending{id: t.id, resource: t.resource, sideEffects: t.sideEffects})
}

func (r *run) prepare(p pending) job {
	return job{
		id:          p.id,
		resource:    p.resource,
		sideEffects: p.sideEffects,
		current:     r.work.Node(p.id),
		invalidated: r.invalidated[p.id],
		verify:      r.req.Verify,
	}
}

// commit applies a worker outcome to the working graph.
func (r *run) commit(out outcome) error {
	id := out.job.id
	delete(r.inflight, id)
	if out.err != nil {
		return out.err
	}

	// Invalidated while in flight: the outcome may be stale.
	if r.invalidated[id] && !out.job.invalidated {
		r.queue = append(r.queue, pending{id: id, resource: out.job.resource, sideEffects: out.job.sideEffects})
		return nil
	}

	r.work.Put(out.node)
	r.committed[id] = true
	switch {
	case out.cached:
		r.cached[id] = true
	case out.ran:
		r.built[id] = true
	case out.reused:
		r.reused[id] = true
	}

	if out.ran || out.cached {
		if old := r.prev.Node(id); old != nil && old.State == graph.Built && old.Interface != out.node.Interface {
			r.propagate(id)
		}
	}

	for _, t := range out.targets {
		r.reach(t, false)
	}
	return nil
}

// propagate invalidates the non-weak referrers of a module whose interface
// changed. Referrers committed earlier in this build are built again.
func (r *run) propagate(id graph.Identity) {
	for _, ref := range r.work.Referrers(id, notWeak) {
		if r.invalidated[ref] {
			continue
		}
		r.invalidated[ref] = true
		r.s.logger.Debug("Interface changed, invalidating referrer", "module", id, "referrer", ref)
		if r.committed[ref] {
			delete(r.committed, ref)
			n := r.work.Node(ref)
			r.queue = append(r.queue, pending{id: ref, resource: n.Resource, sideEffects: n.SideEffects})
		}
	}
}

func (r *run) loop(ctx context.Context) error {
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.s.opts.Workers
	jobs := make(chan job)
	results := make(chan outcome, workers)

	g, gctx := errgroup.WithContext(bctx)
	for range workers {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%w: worker panic: %v", ErrStalled, p)
				}
			}()
			for j := range jobs {
				out := r.s.process(gctx, j)
				select {
				case results <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	var werr error
	done := make(chan struct{})
	go func() {
		werr = g.Wait()
		close(done)
	}()

	var fatal error
	for fatal == nil && (len(r.queue) > 0 || len(r.inflight) > 0) {
		var send chan<- job
		var next job
		if len(r.queue) > 0 {
			next = r.prepare(r.queue[0])
			send = jobs
		}
		select {
		case send <- next:
			r.queue = r.queue[1:]
			r.inflight[next.id] = true
		case out := <-results:
			fatal = r.commit(out)
		case <-gctx.Done():
			fatal = gctx.Err()
		case <-done:
			fatal = ErrStalled
		}
	}

	close(jobs)
	cancel()
	<-done

	switch {
	case fatal == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case werr != nil && !errors.Is(werr, context.Canceled):
		return werr
	case errors.Is(fatal, context.Canceled):
		return ErrStalled
	default:
		return fatal
	}
}

func (r *run) finish() *Result {
	if !r.req.Partial {
		for _, id := range r.work.Identities() {
			if r.visited[id] == unvisited {
				r.work.Remove(id)
			}
		}
	}

	errs := append([]error(nil), r.entryErrs...)
	errs = append(errs, r.work.Errors()...)
	if r.s.opts.ForbidStaticCycles {
		for _, c := range r.work.StaticCycles() {
			errs = append(errs, c)
		}
	}

	r.s.logger.Debug("Build finished",
		"modules", r.work.Len(),
		"built", len(r.built),
		"cached", len(r.cached),
		"reused", len(r.reused),
		"errors", len(errs))

	return &Result{
		Graph:       r.work,
		Entries:     r.entries,
		Errors:      errs,
		Built:       sortedKeys(r.built),
		Cached:      sortedKeys(r.cached),
		Reused:      sortedKeys(r.reused),
		Invalidated: sortedKeys(r.invalidated),
	}
}

func sortedKeys(m map[graph.Identity]bool) []graph.Identity {
	return slices.Sorted(maps.Keys(m))
}
