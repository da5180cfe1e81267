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

// Package graph provides the module dependency graph: an arena of immutable
// nodes keyed by Identity, with a reverse-edge index for invalidation.
package graph

import (
	"maps"
	"slices"
)

// kindMask records which dependency kinds connect a referrer to a target.
type kindMask uint8

func (m kindMask) has(k DependencyKind) bool {
	return m&(1<<k) != 0
}

// Edge is a resolved dependency edge.
type Edge struct {
	From Identity
	To   Identity
	Kind DependencyKind
}

// ModuleGraph holds module nodes keyed by identity.
// Nodes are never owned by other nodes; edges live in each node's
// Dependencies and are indexed in reverse in incoming.
type ModuleGraph struct {
	nodes map[Identity]*Node
	// incoming maps target -> referrer -> kinds of edges between them.
	incoming map[Identity]map[Identity]kindMask
	// byResource maps a resource path to every identity it backs.
	byResource map[string]map[Identity]struct{}
}

// New creates an empty module graph.
func New() *ModuleGraph {
	return &ModuleGraph{
		nodes:      make(map[Identity]*Node),
		incoming:   make(map[Identity]map[Identity]kindMask),
		byResource: make(map[string]map[Identity]struct{}),
	}
}

// Clone creates a copy of the graph that can be mutated without affecting
// the original. Nodes are shared, since they are immutable.
func (g *ModuleGraph) Clone() *ModuleGraph {
	if g == nil {
		return New()
	}
	clone := &ModuleGraph{
		nodes:      maps.Clone(g.nodes),
		incoming:   make(map[Identity]map[Identity]kindMask, len(g.incoming)),
		byResource: make(map[string]map[Identity]struct{}, len(g.byResource)),
	}
	for target, refs := range g.incoming {
		clone.incoming[target] = maps.Clone(refs)
	}
	for res, ids := range g.byResource {
		clone.byResource[res] = maps.Clone(ids)
	}
	return clone
}

// Len returns the number of nodes.
func (g *ModuleGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.nodes)
}

// Node returns the node for id, or nil.
func (g *ModuleGraph) Node(id Identity) *Node {
	if g == nil {
		return nil
	}
	return g.nodes[id]
}

// Has reports whether id is in the graph.
func (g *ModuleGraph) Has(id Identity) bool {
	return g.Node(id) != nil
}

// Identities returns all identities in ascending order.
func (g *ModuleGraph) Identities() []Identity {
	if g == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(g.nodes))
}

// Put inserts or replaces a node, updating the edge indexes.
func (g *ModuleGraph) Put(n *Node) {
	if old, ok := g.nodes[n.Identity]; ok {
		g.unindex(old)
	}
	g.nodes[n.Identity] = n
	g.index(n)
}

// Remove deletes a node and its outgoing edges. Incoming edges stay in the
// index until their referrers are rebuilt or removed, so that referrers of a
// deleted module can still be found.
func (g *ModuleGraph) Remove(id Identity) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	g.unindex(n)
	delete(g.nodes, id)
	if len(g.incoming[id]) == 0 {
		delete(g.incoming, id)
	}
}

func (g *ModuleGraph) index(n *Node) {
	for _, dep := range n.Dependencies {
		if dep.Target == "" {
			continue
		}
		refs := g.incoming[dep.Target]
		if refs == nil {
			refs = make(map[Identity]kindMask)
			g.incoming[dep.Target] = refs
		}
		refs[n.Identity] |= 1 << dep.Kind
	}
	if n.Resource != "" {
		ids := g.byResource[n.Resource]
		if ids == nil {
			ids = make(map[Identity]struct{})
			g.byResource[n.Resource] = ids
		}
		ids[n.Identity] = struct{}{}
	}
}

func (g *ModuleGraph) unindex(n *Node) {
	for _, dep := range n.Dependencies {
		if dep.Target == "" {
			continue
		}
		refs := g.incoming[dep.Target]
		delete(refs, n.Identity)
		if len(refs) == 0 {
			delete(g.incoming, dep.Target)
		}
	}
	if ids := g.byResource[n.Resource]; ids != nil {
		delete(ids, n.Identity)
		if len(ids) == 0 {
			delete(g.byResource, n.Resource)
		}
	}
}

// Incoming returns the edges pointing at id, sorted by referrer then kind.
func (g *ModuleGraph) Incoming(id Identity) []Edge {
	if g == nil {
		return nil
	}
	refs := g.incoming[id]
	edges := make([]Edge, 0, len(refs))
	for _, from := range slices.Sorted(maps.Keys(refs)) {
		mask := refs[from]
		for k := Static; k <= Context; k++ {
			if mask.has(k) {
				edges = append(edges, Edge{From: from, To: id, Kind: k})
			}
		}
	}
	return edges
}

// Referrers returns the identities with at least one edge to id whose kind is
// accepted by the filter, in ascending order. A nil filter accepts every kind.
func (g *ModuleGraph) Referrers(id Identity, filter func(DependencyKind) bool) []Identity {
	if g == nil {
		return nil
	}
	var out []Identity
	for _, from := range slices.Sorted(maps.Keys(g.incoming[id])) {
		mask := g.incoming[id][from]
		for k := Static; k <= Context; k++ {
			if mask.has(k) && (filter == nil || filter(k)) {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// IdentitiesFor returns every identity whose raw content comes from resource.
func (g *ModuleGraph) IdentitiesFor(resource string) []Identity {
	if g == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(g.byResource[resource]))
}

// Resources returns every tracked resource in ascending order.
func (g *ModuleGraph) Resources() []string {
	if g == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(g.byResource))
}

// TransitiveReferrers returns all identities that transitively reach any of
// the seeds through edges accepted by follow. The walk does not continue past
// a node for which stop returns true, though that node is still included.
// Seeds are not part of the result unless reached through a cycle.
func (g *ModuleGraph) TransitiveReferrers(seeds []Identity, follow func(DependencyKind) bool, stop func(*Node) bool) []Identity {
	visited := make(map[Identity]bool)
	queue := slices.Clone(seeds)
	result := make(map[Identity]struct{})

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		if n := g.Node(current); n != nil && stop != nil && stop(n) && !slices.Contains(seeds, current) {
			continue
		}

		for _, ref := range g.Referrers(current, follow) {
			result[ref] = struct{}{}
			if !visited[ref] {
				queue = append(queue, ref)
			}
		}
	}

	return slices.Sorted(maps.Keys(result))
}

// Reachable returns every identity reachable from roots through edges
// accepted by follow, roots included, in ascending order.
func (g *ModuleGraph) Reachable(roots []Identity, follow func(DependencyKind) bool) []Identity {
	visited := make(map[Identity]struct{})
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[id]; ok {
			continue
		}
		n := g.Node(id)
		if n == nil {
			continue
		}
		visited[id] = struct{}{}
		stack = append(stack, n.Targets(follow)...)
	}
	return slices.Sorted(maps.Keys(visited))
}
