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
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"

	"bennypowers.dev/graft/cache"
	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/loader"
	"bennypowers.dev/graft/resolve"
)

// job is one unit of work handed to a worker. current is the node in the
// working graph at dispatch time.
type job struct {
	id          graph.Identity
	resource    string
	sideEffects graph.SideEffects
	current     *graph.Node
	invalidated bool
	verify      bool
}

// target is a resolved dependency a finished module reaches.
type target struct {
	id          graph.Identity
	resource    string
	sideEffects graph.SideEffects
	kind        graph.DependencyKind
}

// outcome is a worker's answer for one job. err is set only for failures
// that abort the whole build.
type outcome struct {
	job     job
	node    *graph.Node
	targets []target
	ran     bool
	cached  bool
	reused  bool
	err     error
}

func hashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// process builds one module.
func (s *Scheduler) process(ctx context.Context, j job) outcome {
	out := outcome{job: j}
	configHash := s.opts.Runner.Registry().ConfigHash(j.id.Chain())

	cur := j.current
	reusable := cur != nil && !cur.IsStub() && !j.invalidated &&
		(cur.State == graph.Built || cur.State == graph.Errored) &&
		cur.ConfigHash == configHash
	if reusable && !j.verify {
		return s.reuse(ctx, j, cur)
	}

	raw, err := s.opts.Source.Read(ctx, j.resource)
	if err != nil {
		if ctx.Err() != nil {
			out.err = ctx.Err()
			return out
		}
		out.node = &graph.Node{
			Identity:    j.id,
			Resource:    j.resource,
			ConfigHash:  configHash,
			State:       graph.Errored,
			SideEffects: j.sideEffects,
			Errors:      []error{fmt.Errorf("reading %s: %w", j.resource, err)},
		}
		return out
	}
	rawHash := hashBytes(raw)
	if reusable && cur.RawHash == rawHash {
		return s.reuse(ctx, j, cur)
	}

	key := cache.Key{Identity: j.id, RawHash: rawHash, ConfigHash: configHash}
	var result *loader.Result
	if s.opts.Cache != nil {
		entry, ok, err := s.opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Debug("Cache read failed", "module", j.id, "err", err)
		case ok:
			result = &loader.Result{Output: entry.Output, Dependencies: entry.Dependencies}
			out.cached = true
		}
	}

	if result == nil {
		result, err = s.opts.Runner.Run(ctx, j.id, j.resource, raw)
		out.ran = true
		if err != nil {
			if ctx.Err() != nil {
				out.err = ctx.Err()
				return out
			}
			out.node = &graph.Node{
				Identity:    j.id,
				Resource:    j.resource,
				RawHash:     rawHash,
				ConfigHash:  configHash,
				State:       graph.Errored,
				SideEffects: j.sideEffects,
				Errors:      []error{err},
			}
			return out
		}
		if s.opts.Cache != nil {
			entry := &cache.Entry{Output: result.Output, Dependencies: result.Dependencies}
			if err := s.opts.Cache.Put(ctx, key, entry); err != nil {
				s.logger.Debug("Cache write failed", "module", j.id, "err", err)
			}
		}
	}

	deps, targets, err := s.resolveDependencies(ctx, j.resource, result.Dependencies)
	if err != nil {
		out.err = err
		return out
	}

	output := result.Output
	node := &graph.Node{
		Identity:     j.id,
		Resource:     j.resource,
		RawHash:      rawHash,
		ConfigHash:   configHash,
		Output:       &output,
		Dependencies: deps,
		State:        graph.Built,
		SideEffects:  j.sideEffects,
		Size:         len(output.Source),
	}
	node.Interface = fingerprint(node)
	out.node = node
	out.targets = targets
	return out
}

// reuse keeps a previous output. Dependencies are resolved again since
// files may have appeared or disappeared around the module.
func (s *Scheduler) reuse(ctx context.Context, j job, cur *graph.Node) outcome {
	out := outcome{job: j, reused: true}

	deps, targets, err := s.resolveDependencies(ctx, j.resource, cur.Dependencies)
	if err != nil {
		out.err = err
		return out
	}
	out.targets = targets

	if cur.SideEffects == j.sideEffects && sameResolution(cur.Dependencies, deps) {
		out.node = cur
		return out
	}
	n := cur.Clone()
	n.Dependencies = deps
	n.SideEffects = j.sideEffects
	n.Interface = fingerprint(n)
	out.node = n
	return out
}

// resolveDependencies resolves declared dependencies in order. Only
// cancellation is returned as an error; resolution failures are recorded on
// the dependency unless it is optional and simply missing.
func (s *Scheduler) resolveDependencies(ctx context.Context, resource string, declared []graph.Dependency) ([]graph.Dependency, []target, error) {
	dir := resolve.ContextOf(resource)
	deps := make([]graph.Dependency, len(declared))
	var targets []target

	for i, d := range declared {
		d.Target, d.Err = "", nil
		res, err := s.opts.Resolver.Resolve(ctx, dir, d.Specifier, s.opts.Resolver.Conditions(d.Category))
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if !d.Optional || !resolve.IsNotFound(err) {
				d.Err = err
			}
		} else {
			d.Target = res.Identity
			targets = append(targets, target{
				id:          res.Identity,
				resource:    res.Resource,
				sideEffects: res.SideEffects,
				kind:        d.Kind,
			})
		}
		deps[i] = d
	}
	return deps, targets, nil
}

func sameResolution(a, b []graph.Dependency) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Target != b[i].Target {
			return false
		}
		if (a[i].Err == nil) != (b[i].Err == nil) {
			return false
		}
		if a[i].Err != nil && a[i].Err.Error() != b[i].Err.Error() {
			return false
		}
	}
	return true
}

// fingerprint hashes what referrers of a module can observe: its declared
// dependencies, its side effects and its exported names.
func fingerprint(n *graph.Node) string {
	h := blake3.New(32, nil)
	for _, d := range n.Dependencies {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00%t\n", d.Specifier, d.Kind, d.Category, d.Optional)
	}
	fmt.Fprintf(h, "sideEffects=%d\n", n.SideEffects)
	if n.Output != nil {
		fmt.Fprintf(h, "exports=%s\n", n.Output.Meta["exports"])
	}
	return hex.EncodeToString(h.Sum(nil))
}
