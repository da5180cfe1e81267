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

// Package invalidate maps filesystem changes onto the module graph.
//
// The result is conservative: every module whose output or resolution could
// be affected is marked, and marking a module never unmarks another.
package invalidate

import (
	"fmt"
	"maps"
	"slices"

	"bennypowers.dev/graft/graph"
)

// Op is the kind of a filesystem change.
type Op int

const (
	Changed Op = iota
	Added
	Removed
)

func (o Op) String() string {
	switch o {
	case Changed:
		return "changed"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one path event from a watcher.
type Change struct {
	Path string `json:"path"`
	Op   Op     `json:"op"`
}

// Propagation selects how far invalidation spreads up front.
type Propagation string

const (
	// PropagateInterface marks only the changed modules; the scheduler
	// invalidates referrers when a module's interface changes.
	PropagateInterface Propagation = "interface"
	// PropagateEager marks every transitive non-weak referrer immediately.
	PropagateEager Propagation = "eager"
)

// Policy configures Compute.
type Policy struct {
	Propagation Propagation `mapstructure:"propagation"`
	// SideEffectBarrier stops eager expansion at side-effect-free modules.
	SideEffectBarrier bool `mapstructure:"side-effect-barrier"`
}

// ErrorKind classifies invalidation notes.
type ErrorKind int

const (
	// UntrackedPathChanged means a changed path backs no module.
	UntrackedPathChanged ErrorKind = iota
)

// Error is a non-fatal invalidation note.
type Error struct {
	Kind ErrorKind
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("untracked path changed: %s", e.Path)
}

// Set is the input of one incremental build.
type Set struct {
	Rebuild map[graph.Identity]bool
	Remove  map[graph.Identity]bool
	// Paths are every changed path, for resolver cache invalidation.
	Paths     []string
	Untracked []string
	Notes     []error
}

// Empty reports whether the set marks no modules and carries no paths.
func (s Set) Empty() bool {
	return len(s.Rebuild) == 0 && len(s.Remove) == 0 && len(s.Paths) == 0
}

// Compute derives the invalidation set for changes against prev.
func Compute(prev *graph.ModuleGraph, changes []Change, policy Policy) Set {
	set := Set{
		Rebuild: make(map[graph.Identity]bool),
		Remove:  make(map[graph.Identity]bool),
	}
	seenPath := make(map[string]bool)
	var changed []graph.Identity

	for _, c := range changes {
		if !seenPath[c.Path] {
			seenPath[c.Path] = true
			set.Paths = append(set.Paths, c.Path)
		}
		ids := prev.IdentitiesFor(c.Path)
		if len(ids) == 0 {
			// New files are found when modules resolve their
			// dependencies again.
			if c.Op != Added && !slices.Contains(set.Untracked, c.Path) {
				set.Untracked = append(set.Untracked, c.Path)
				set.Notes = append(set.Notes, &Error{Kind: UntrackedPathChanged, Path: c.Path})
			}
			continue
		}
		for _, id := range ids {
			if c.Op == Removed {
				set.Remove[id] = true
				delete(set.Rebuild, id)
				continue
			}
			if !set.Remove[id] {
				set.Rebuild[id] = true
				changed = append(changed, id)
			}
		}
	}

	// Referrers of removed modules now point at nothing.
	for _, id := range slices.Sorted(maps.Keys(set.Remove)) {
		for _, ref := range prev.Referrers(id, notWeak) {
			if !set.Remove[ref] {
				set.Rebuild[ref] = true
			}
		}
	}

	if policy.Propagation == PropagateEager && len(changed) > 0 {
		var stop func(*graph.Node) bool
		if policy.SideEffectBarrier {
			stop = func(n *graph.Node) bool { return n.SideEffects == graph.SideEffectFree }
		}
		for _, id := range prev.TransitiveReferrers(changed, notWeak, stop) {
			if !set.Remove[id] {
				set.Rebuild[id] = true
			}
		}
	}

	slices.Sort(set.Untracked)
	return set
}

// Merge combines two sets. A removal in either wins over a rebuild.
func Merge(a, b Set) Set {
	out := Set{
		Rebuild: make(map[graph.Identity]bool, len(a.Rebuild)+len(b.Rebuild)),
		Remove:  make(map[graph.Identity]bool, len(a.Remove)+len(b.Remove)),
	}
	maps.Copy(out.Remove, a.Remove)
	maps.Copy(out.Remove, b.Remove)
	for _, s := range []Set{a, b} {
		for id := range s.Rebuild {
			if !out.Remove[id] {
				out.Rebuild[id] = true
			}
		}
	}
	out.Paths = union(a.Paths, b.Paths)
	out.Untracked = union(a.Untracked, b.Untracked)
	slices.Sort(out.Untracked)
	out.Notes = append(slices.Clip(a.Notes), b.Notes...)
	return out
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func notWeak(k graph.DependencyKind) bool {
	return k != graph.Weak
}
