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

// Package revision holds compilation snapshots and the diffs between them.
package revision

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"bennypowers.dev/graft/chunk"
	"bennypowers.dev/graft/graph"
)

// Compilation is an immutable snapshot of one build revision.
type Compilation struct {
	Revision uint64
	Graph    *graph.ModuleGraph
	Chunks   *chunk.Graph
	Entries  map[string]graph.Identity
	Errors   []error
	Warnings []error
	Time     time.Time
	// Invalidated is the final invalidation set of the build.
	Invalidated []graph.Identity
	// Built lists modules whose loader chain ran.
	Built []graph.Identity
	// Partial is set for compilations produced by a lazy trigger.
	Partial bool
}

// Patch is what a lazy trigger returns.
type Patch struct {
	Compilation *Compilation
	Manifest    *Manifest
}

// ModuleChanges lists module identities by change kind.
type ModuleChanges struct {
	Added   []graph.Identity `json:"added"`
	Removed []graph.Identity `json:"removed"`
	Changed []graph.Identity `json:"changed"`
}

// ChunkChanges lists chunk ids by change kind.
type ChunkChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Manifest describes what changed between two compilations.
type Manifest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
	// Full is set when there is no previous compilation.
	Full    bool          `json:"full"`
	Modules ModuleChanges `json:"modules"`
	Chunks  ChunkChanges  `json:"chunks"`
	Errors  []string      `json:"errors"`
}

// Empty reports whether nothing changed.
func (m *Manifest) Empty() bool {
	return !m.Full &&
		len(m.Modules.Added) == 0 && len(m.Modules.Removed) == 0 && len(m.Modules.Changed) == 0 &&
		len(m.Chunks.Added) == 0 && len(m.Chunks.Removed) == 0 && len(m.Chunks.Changed) == 0
}

// JSON encodes the manifest. Equal manifests encode to equal bytes.
func (m *Manifest) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// builtOutputs maps each built module to its output hash.
func builtOutputs(c *Compilation) map[graph.Identity]string {
	out := make(map[graph.Identity]string)
	if c == nil {
		return out
	}
	for _, id := range c.Graph.Identities() {
		n := c.Graph.Node(id)
		if n.State == graph.Built && n.Output != nil {
			out[id] = n.Output.Hash
		}
	}
	return out
}

func chunksByID(c *Compilation) map[string]*chunk.Chunk {
	out := make(map[string]*chunk.Chunk)
	if c == nil || c.Chunks == nil {
		return out
	}
	for _, ch := range c.Chunks.Chunks {
		out[ch.ID] = ch
	}
	return out
}

func sameMembers(a, b []graph.Identity) bool {
	return len(a) == len(b) && slices.Equal(slices.Sorted(slices.Values(a)), slices.Sorted(slices.Values(b)))
}

// Diff compares two compilations. Only built modules count as present, so
// a module that fails or becomes a lazy stub is reported as removed. A chunk
// with the same id is changed only when its membership is; content changes
// show up as changed modules.
func Diff(previous, current *Compilation) *Manifest {
	m := &Manifest{
		To:   current.Revision,
		Full: previous == nil,
		Modules: ModuleChanges{
			Added:   []graph.Identity{},
			Removed: []graph.Identity{},
			Changed: []graph.Identity{},
		},
		Chunks: ChunkChanges{
			Added:   []string{},
			Removed: []string{},
			Changed: []string{},
		},
		Errors: []string{},
	}
	if previous != nil {
		m.From = previous.Revision
	}

	before, after := builtOutputs(previous), builtOutputs(current)
	for _, id := range slices.Sorted(maps.Keys(after)) {
		old, ok := before[id]
		switch {
		case !ok:
			m.Modules.Added = append(m.Modules.Added, id)
		case old != after[id]:
			m.Modules.Changed = append(m.Modules.Changed, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(before)) {
		if _, ok := after[id]; !ok {
			m.Modules.Removed = append(m.Modules.Removed, id)
		}
	}

	prevChunks, curChunks := chunksByID(previous), chunksByID(current)
	for _, id := range slices.Sorted(maps.Keys(curChunks)) {
		old, ok := prevChunks[id]
		cur := curChunks[id]
		switch {
		case !ok:
			m.Chunks.Added = append(m.Chunks.Added, id)
		case !sameMembers(old.Modules, cur.Modules):
			m.Chunks.Changed = append(m.Chunks.Changed, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(prevChunks)) {
		if _, ok := curChunks[id]; !ok {
			m.Chunks.Removed = append(m.Chunks.Removed, id)
		}
	}

	for _, err := range current.Errors {
		m.Errors = append(m.Errors, err.Error())
	}
	return m
}

// ChunkSummary is the JSON view of a chunk.
type ChunkSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Modules  []string `json:"modules"`
	Failed   bool     `json:"failed,omitempty"`
}

// Summary is the JSON view of a compilation.
type Summary struct {
	Revision uint64                    `json:"revision"`
	Entries  map[string]graph.Identity `json:"entries"`
	Modules  int                       `json:"modules"`
	Built    int                       `json:"built"`
	Chunks   []ChunkSummary            `json:"chunks"`
	Errors   []string                  `json:"errors"`
	Warnings []string                  `json:"warnings"`
}

// Summary returns a deterministic view of c for printing.
func (c *Compilation) Summary() Summary {
	s := Summary{
		Revision: c.Revision,
		Entries:  c.Entries,
		Modules:  c.Graph.Len(),
		Built:    len(c.Built),
		Chunks:   []ChunkSummary{},
		Errors:   errorStrings(c.Errors),
		Warnings: errorStrings(c.Warnings),
	}
	if c.Chunks != nil {
		for _, ch := range c.Chunks.Chunks {
			mods := make([]string, len(ch.Modules))
			for i, m := range ch.Modules {
				mods[i] = string(m)
			}
			s.Chunks = append(s.Chunks, ChunkSummary{
				ID:       ch.ID,
				Name:     ch.Name,
				Kind:     ch.Kind.String(),
				Filename: ch.Filename,
				Hash:     ch.Hash,
				Modules:  mods,
				Failed:   ch.Failed,
			})
		}
	}
	return s
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
