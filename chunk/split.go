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
package chunk

import (
	"slices"
	"strings"

	"bennypowers.dev/graft/graph"
)

// Candidate is a chunk offered to a Splitter.
type Candidate struct {
	Key     string
	Modules []graph.Identity
}

// Group is a set of modules to move out of the chunks named by key into one
// shared chunk.
type Group struct {
	Modules []graph.Identity
	Chunks  []string
}

// Splitter decides which modules become shared chunks. Implementations
// must be deterministic.
type Splitter interface {
	Split(g *graph.ModuleGraph, chunks []Candidate) []Group
}

// SplitPolicy extracts modules contained in at least MinChunks chunks and at
// least MinSize bytes large. Modules with the same set of containing chunks
// form one group. MaxShared, when positive, caps the number of groups.
// A MinChunks below 2 disables extraction.
type SplitPolicy struct {
	MinChunks int `mapstructure:"min-chunks" json:"minChunks"`
	MinSize   int `mapstructure:"min-size" json:"minSize"`
	MaxShared int `mapstructure:"max-shared" json:"maxShared"`
}

// Enabled reports whether the policy extracts anything.
func (p SplitPolicy) Enabled() bool {
	return p.MinChunks >= 2
}

// Split implements Splitter. Groups are ordered by their smallest member.
func (p SplitPolicy) Split(g *graph.ModuleGraph, chunks []Candidate) []Group {
	if !p.Enabled() {
		return nil
	}

	containing := make(map[graph.Identity][]string)
	for _, c := range chunks {
		for _, m := range c.Modules {
			containing[m] = append(containing[m], c.Key)
		}
	}

	bySet := make(map[string]*Group)
	for m, keys := range containing {
		if len(keys) < p.MinChunks {
			continue
		}
		if n := g.Node(m); n == nil || n.Size < p.MinSize {
			continue
		}
		slices.Sort(keys)
		sig := strings.Join(keys, "\x00")
		grp := bySet[sig]
		if grp == nil {
			grp = &Group{Chunks: keys}
			bySet[sig] = grp
		}
		grp.Modules = append(grp.Modules, m)
	}

	groups := make([]Group, 0, len(bySet))
	for _, grp := range bySet {
		slices.Sort(grp.Modules)
		groups = append(groups, *grp)
	}
	slices.SortFunc(groups, func(a, b Group) int {
		return strings.Compare(string(a.Modules[0]), string(b.Modules[0]))
	})
	if p.MaxShared > 0 && len(groups) > p.MaxShared {
		groups = groups[:p.MaxShared]
	}
	return groups
}
