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
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCyclicStaticImport is matched by every *CycleError.
var ErrCyclicStaticImport = errors.New("cyclic required static import")

// ModuleError attaches a module-level failure to the module it occurred in.
// Specifier is set when the failure belongs to one dependency.
type ModuleError struct {
	Identity  Identity
	Specifier string
	Err       error
}

func (e *ModuleError) Error() string {
	if e.Specifier != "" {
		return fmt.Sprintf("%s: %q: %v", e.Identity, e.Specifier, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Identity, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// CycleError reports a cycle of static edges with an ESM import. Members
// are listed in traversal order starting from the smallest identity.
type CycleError struct {
	Members []Identity
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Members)+1)
	for _, m := range e.Members {
		parts = append(parts, string(m))
	}
	if len(e.Members) > 0 {
		parts = append(parts, string(e.Members[0]))
	}
	return fmt.Sprintf("%v: %s", ErrCyclicStaticImport, strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicStaticImport
}

// Errors collects every module-level error in the graph: node errors first,
// then dependency errors in declaration order, with nodes in ascending
// identity order.
func (g *ModuleGraph) Errors() []error {
	var errs []error
	for _, id := range g.Identities() {
		n := g.nodes[id]
		for _, err := range n.Errors {
			errs = append(errs, &ModuleError{Identity: id, Err: err})
		}
		for _, dep := range n.Dependencies {
			if dep.Err != nil {
				errs = append(errs, &ModuleError{Identity: id, Specifier: dep.Specifier, Err: dep.Err})
			}
		}
	}
	return errs
}

// StaticCycles finds strongly connected components formed by static edges
// that contain at least one ESM import. Cycles made only of CommonJS
// requires are legal and exempt. Components are returned in ascending order
// of their smallest member.
func (g *ModuleGraph) StaticCycles() []*CycleError {
	t := tarjan{
		g:       g,
		index:   make(map[Identity]int),
		lowlink: make(map[Identity]int),
		onStack: make(map[Identity]bool),
	}
	for _, id := range g.Identities() {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}

	var cycles []*CycleError
	for _, comp := range t.components {
		if !g.esmInside(comp) {
			continue
		}
		cycles = append(cycles, &CycleError{Members: g.cycleOrder(comp)})
	}
	slices.SortFunc(cycles, func(a, b *CycleError) int {
		return strings.Compare(string(a.Members[0]), string(b.Members[0]))
	})
	return cycles
}

func staticEdge(dep Dependency) bool {
	return dep.Target != "" && dep.Kind == Static
}

// esmInside reports whether an ESM import connects two members of the
// component, counting a module importing itself.
func (g *ModuleGraph) esmInside(comp []Identity) bool {
	members := make(map[Identity]bool, len(comp))
	for _, id := range comp {
		members[id] = true
	}
	for _, id := range comp {
		for _, dep := range g.nodes[id].Dependencies {
			if staticEdge(dep) && dep.Category == ESM && members[dep.Target] {
				return true
			}
		}
	}
	return false
}

// cycleOrder walks the component from its smallest member following
// declaration order, so the reported path is deterministic.
func (g *ModuleGraph) cycleOrder(comp []Identity) []Identity {
	members := make(map[Identity]bool, len(comp))
	for _, id := range comp {
		members[id] = true
	}
	start := slices.Min(comp)
	order := []Identity{start}
	seen := map[Identity]bool{start: true}
	current := start
	for len(order) < len(comp) {
		next := Identity("")
		for _, dep := range g.nodes[current].Dependencies {
			if staticEdge(dep) && members[dep.Target] && !seen[dep.Target] {
				next = dep.Target
				break
			}
		}
		if next == "" {
			// Remaining members are reachable only through visited ones.
			for _, id := range slices.Sorted(slices.Values(comp)) {
				if !seen[id] {
					next = id
					break
				}
			}
		}
		seen[next] = true
		order = append(order, next)
		current = next
	}
	return order
}

type tarjan struct {
	g          *ModuleGraph
	counter    int
	index      map[Identity]int
	lowlink    map[Identity]int
	onStack    map[Identity]bool
	stack      []Identity
	components [][]Identity
}

func (t *tarjan) strongConnect(v Identity) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, dep := range t.g.nodes[v].Dependencies {
		if !staticEdge(dep) || t.g.nodes[dep.Target] == nil {
			continue
		}
		w := dep.Target
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			t.lowlink[v] = min(t.lowlink[v], t.lowlink[w])
		} else if t.onStack[w] {
			t.lowlink[v] = min(t.lowlink[v], t.index[w])
		}
	}

	if t.lowlink[v] == t.index[v] {
		var comp []Identity
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, comp)
	}
}
