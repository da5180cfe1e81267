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

// Package chunk groups built modules into output chunks.
//
// Entry chunks hold everything an entry reaches without crossing a dynamic
// import. Every dynamic import target roots an async chunk. A Splitter may
// then move modules shared between chunks into shared chunks. Chunk ids are
// content-derived and stay stable across revisions when membership does.
package chunk

import (
	"encoding/hex"
	"maps"
	"slices"
	"strings"

	"lukechampine.com/blake3"

	"bennypowers.dev/graft/graph"
)

// Kind is the role of a chunk.
type Kind int

const (
	EntryChunk Kind = iota
	AsyncChunk
	SharedChunk
)

func (k Kind) String() string {
	switch k {
	case EntryChunk:
		return "entry"
	case AsyncChunk:
		return "async"
	case SharedChunk:
		return "shared"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// RuntimeFeature is a runtime helper a chunk needs at load time.
type RuntimeFeature string

const (
	RuntimeRequire        RuntimeFeature = "require"
	RuntimeBootstrap      RuntimeFeature = "bootstrap"
	RuntimeEnsureChunk    RuntimeFeature = "ensureChunk"
	RuntimeLoadScript     RuntimeFeature = "loadScript"
	RuntimeOnChunksLoaded RuntimeFeature = "onChunksLoaded"
	RuntimeRequireContext RuntimeFeature = "requireContext"
	RuntimeHasOwnProperty RuntimeFeature = "hasOwnProperty"
)

// Chunk is one output unit. Chunks are immutable once built.
type Chunk struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Root is the entry module or dynamic import target. Shared chunks
	// have none.
	Root graph.Identity `json:"root,omitempty"`
	// Modules are in depth-first pre-order from the root.
	Modules []graph.Identity `json:"modules"`
	// Failed is set when the root is missing or errored.
	Failed   bool             `json:"failed,omitempty"`
	Runtime  []RuntimeFeature `json:"runtime,omitempty"`
	Parents  []string         `json:"parents,omitempty"`
	Children []string         `json:"children,omitempty"`
	// Requires lists shared chunks that must load first.
	Requires []string `json:"requires,omitempty"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
}

// IsEntry reports whether c is an entry chunk.
func (c *Chunk) IsEntry() bool {
	return c.Kind == EntryChunk
}

// Graph is the chunk graph of one revision.
type Graph struct {
	// Chunks are sorted by id.
	Chunks   []*Chunk
	byID     map[string]*Chunk
	byModule map[graph.Identity][]string
}

// Chunk returns the chunk with the given id, or nil.
func (g *Graph) Chunk(id string) *Chunk {
	if g == nil {
		return nil
	}
	return g.byID[id]
}

// ChunksFor returns the ids of the chunks containing a module.
func (g *Graph) ChunksFor(module graph.Identity) []string {
	if g == nil {
		return nil
	}
	return g.byModule[module]
}

// Entry returns the entry chunk with the given name, or nil.
func (g *Graph) Entry(name string) *Chunk {
	if g == nil {
		return nil
	}
	for _, c := range g.Chunks {
		if c.Kind == EntryChunk && c.Name == name {
			return c
		}
	}
	return nil
}

// Len returns the number of chunks.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Chunks)
}

// Options configures a Builder.
type Options struct {
	// Splitter extracts shared chunks. Nil disables extraction.
	Splitter Splitter
	// Template names output files. Defaults to DefaultTemplate.
	Template *Template
}

// Builder derives chunk graphs from module graphs.
type Builder struct {
	splitter Splitter
	template *Template
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	if opts.Template == nil {
		opts.Template = MustParseTemplate(DefaultTemplate)
	}
	return &Builder{splitter: opts.Splitter, template: opts.Template}
}

// Build derives a chunk graph with the default options.
func Build(g *graph.ModuleGraph, entries map[string]graph.Identity, previous *Graph) *Graph {
	return NewBuilder(Options{}).Build(g, entries, previous)
}

// draft is a chunk before ids are assigned. Drafts refer to each other by
// key, which is unique and derived from what roots the chunk.
type draft struct {
	key      string
	kind     Kind
	name     string
	root     graph.Identity
	full     []graph.Identity
	modules  []graph.Identity
	failed   bool
	parents  map[string]bool
	children map[string]bool
	requires map[string]bool
	id       string
}

func newDraft(key string, kind Kind) *draft {
	return &draft{
		key:      key,
		kind:     kind,
		parents:  make(map[string]bool),
		children: make(map[string]bool),
		requires: make(map[string]bool),
	}
}

// Build derives the chunk graph for g. previous supplies ids for chunks
// whose membership did not change and is otherwise only read.
func (b *Builder) Build(g *graph.ModuleGraph, entries map[string]graph.Identity, previous *Graph) *Graph {
	drafts := make(map[string]*draft)

	type edge struct {
		parent string
		target graph.Identity
	}
	var queue []edge

	for _, name := range slices.Sorted(maps.Keys(entries)) {
		root := entries[name]
		d := newDraft("entry:"+name, EntryChunk)
		d.name = name
		d.root = root
		d.failed = failedRoot(g.Node(root))
		var dynamic []graph.Identity
		d.full, dynamic = collect(g, root)
		drafts[d.key] = d
		for _, t := range dynamic {
			queue = append(queue, edge{d.key, t})
		}
	}

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if n := g.Node(e.target); n != nil && n.IsStub() {
			continue
		}
		key := "async:" + string(e.target)
		d, ok := drafts[key]
		if !ok {
			d = newDraft(key, AsyncChunk)
			d.root = e.target
			d.failed = failedRoot(g.Node(e.target))
			var dynamic []graph.Identity
			d.full, dynamic = collect(g, e.target)
			drafts[key] = d
			for _, t := range dynamic {
				queue = append(queue, edge{key, t})
			}
		}
		d.parents[e.parent] = true
		drafts[e.parent].children[key] = true
	}

	keys := slices.Sorted(maps.Keys(drafts))
	removeAvailable(drafts, keys)

	if b.splitter != nil {
		keys = split(g, b.splitter, drafts, keys)
	}

	assignIDs(drafts, keys, previous)

	out := &Graph{
		byID:     make(map[string]*Chunk, len(drafts)),
		byModule: make(map[graph.Identity][]string),
	}
	for _, key := range keys {
		c := b.finish(g, drafts, drafts[key])
		if prev := previous.Chunk(c.ID); prev != nil && equalChunks(prev, c) {
			c = prev
		}
		out.Chunks = append(out.Chunks, c)
		out.byID[c.ID] = c
		for _, m := range c.Modules {
			out.byModule[m] = append(out.byModule[m], c.ID)
		}
	}
	slices.SortFunc(out.Chunks, func(a, b *Chunk) int { return strings.Compare(a.ID, b.ID) })
	for m := range out.byModule {
		slices.Sort(out.byModule[m])
	}
	return out
}

func failedRoot(n *graph.Node) bool {
	return n == nil || n.State == graph.Errored
}

func assignable(n *graph.Node) bool {
	return n != nil && !n.IsStub() && n.State == graph.Built
}

// collect walks non-dynamic edges from root in depth-first pre-order and
// returns the assignable modules plus the dynamic import targets found on
// the way, in encounter order.
func collect(g *graph.ModuleGraph, root graph.Identity) (modules, dynamic []graph.Identity) {
	seen := make(map[graph.Identity]bool)
	seenDynamic := make(map[graph.Identity]bool)
	stack := []graph.Identity{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		n := g.Node(id)
		if !assignable(n) {
			continue
		}
		modules = append(modules, id)

		var next []graph.Identity
		for _, dep := range n.Dependencies {
			if dep.Target == "" {
				continue
			}
			if dep.Kind == graph.Dynamic {
				if !seenDynamic[dep.Target] {
					seenDynamic[dep.Target] = true
					dynamic = append(dynamic, dep.Target)
				}
				continue
			}
			next = append(next, dep.Target)
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return modules, dynamic
}

// removeAvailable drops from async chunks the modules every parent already
// provides. A module is available in a chunk when it is available in, or a
// member of, each of its parents. Entry chunks have nothing available.
func removeAvailable(drafts map[string]*draft, keys []string) {
	// nil means everything is available, the starting point of the
	// fixpoint for async chunks.
	avail := make(map[string]map[graph.Identity]bool, len(keys))
	for _, key := range keys {
		if drafts[key].kind == EntryChunk {
			avail[key] = map[graph.Identity]bool{}
		}
	}

	for changed := true; changed; {
		changed = false
		for _, key := range keys {
			d := drafts[key]
			if d.kind == EntryChunk {
				continue
			}
			var next map[graph.Identity]bool
			for _, p := range slices.Sorted(maps.Keys(d.parents)) {
				pa, ok := avail[p]
				if !ok {
					continue
				}
				provided := maps.Clone(pa)
				for _, m := range drafts[p].full {
					provided[m] = true
				}
				if next == nil {
					next = provided
					continue
				}
				for m := range next {
					if !provided[m] {
						delete(next, m)
					}
				}
			}
			if next == nil {
				continue
			}
			if cur, ok := avail[key]; !ok || len(cur) != len(next) {
				avail[key] = next
				changed = true
			}
		}
	}

	for _, key := range keys {
		d := drafts[key]
		a := avail[key]
		for _, m := range d.full {
			if !a[m] {
				d.modules = append(d.modules, m)
			}
		}
	}
}

func split(g *graph.ModuleGraph, s Splitter, drafts map[string]*draft, keys []string) []string {
	candidates := make([]Candidate, 0, len(keys))
	for _, key := range keys {
		candidates = append(candidates, Candidate{Key: key, Modules: drafts[key].modules})
	}

	for _, group := range s.Split(g, candidates) {
		if len(group.Modules) == 0 || len(group.Chunks) == 0 {
			continue
		}
		if slices.ContainsFunc(group.Chunks, func(key string) bool { return drafts[key] == nil }) {
			continue
		}
		members := make(map[graph.Identity]bool, len(group.Modules))
		for _, m := range group.Modules {
			members[m] = true
		}
		ids := make([]string, len(group.Modules))
		for i, m := range group.Modules {
			ids[i] = string(m)
		}

		shared := newDraft("shared:"+strings.Join(ids, ","), SharedChunk)
		if _, exists := drafts[shared.key]; exists {
			continue
		}
		first := drafts[group.Chunks[0]]
		for _, m := range first.modules {
			if members[m] {
				shared.modules = append(shared.modules, m)
			}
		}
		for _, key := range group.Chunks {
			d := drafts[key]
			d.modules = slices.DeleteFunc(d.modules, func(m graph.Identity) bool { return members[m] })
			d.requires[shared.key] = true
		}
		drafts[shared.key] = shared
	}
	return slices.Sorted(maps.Keys(drafts))
}

func (d *draft) seed() string {
	switch d.kind {
	case EntryChunk:
		return "entry\x00" + d.name
	case AsyncChunk:
		return "async\x00" + string(d.root)
	default:
		return d.key
	}
}

// membership is the order-independent signature of a chunk's module set.
func membership(kind Kind, modules []graph.Identity) string {
	if len(modules) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(kind.String())
	for _, m := range slices.Sorted(slices.Values(modules)) {
		b.WriteByte('\n')
		b.WriteString(string(m))
	}
	return b.String()
}

// assignIDs reuses previous ids for chunks whose membership is unchanged
// and derives the rest from each chunk's seed, lengthening the hash prefix
// on collision.
func assignIDs(drafts map[string]*draft, keys []string, previous *Graph) {
	used := make(map[string]bool)
	prevBySig := make(map[string]string)
	if previous != nil {
		for _, c := range previous.Chunks {
			if sig := membership(c.Kind, c.Modules); sig != "" {
				prevBySig[sig] = c.ID
			}
		}
	}

	for _, key := range keys {
		d := drafts[key]
		sig := membership(d.kind, d.modules)
		if id, ok := prevBySig[sig]; ok && sig != "" && !used[id] {
			d.id = id
			used[id] = true
		}
	}
	for _, key := range keys {
		d := drafts[key]
		if d.id != "" {
			continue
		}
		sum := blake3.Sum256([]byte(d.seed()))
		h := hex.EncodeToString(sum[:])
		n := 8
		for used[h[:n]] && n < len(h) {
			n += 4
		}
		d.id = h[:n]
		used[d.id] = true
	}
}

func (b *Builder) finish(g *graph.ModuleGraph, drafts map[string]*draft, d *draft) *Chunk {
	c := &Chunk{
		ID:      d.id,
		Name:    d.name,
		Kind:    d.kind,
		Root:    d.root,
		Modules: slices.Clip(d.modules),
		Failed:  d.failed,
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	c.Parents = chunkIDs(drafts, d.parents)
	c.Children = chunkIDs(drafts, d.children)
	c.Requires = chunkIDs(drafts, d.requires)
	c.Runtime = runtimeFeatures(g, c)

	h := blake3.New(32, nil)
	for _, m := range c.Modules {
		h.Write([]byte(m))
		h.Write([]byte{0})
		if n := g.Node(m); n != nil && n.Output != nil {
			h.Write([]byte(n.Output.Hash))
		}
		h.Write([]byte{'\n'})
	}
	c.Hash = hex.EncodeToString(h.Sum(nil))[:16]
	c.Filename = b.template.Expand(c.Name, c.ID, c.Hash)
	return c
}

func chunkIDs(drafts map[string]*draft, keys map[string]bool) []string {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]string, 0, len(keys))
	for key := range keys {
		ids = append(ids, drafts[key].id)
	}
	slices.Sort(ids)
	return ids
}

func runtimeFeatures(g *graph.ModuleGraph, c *Chunk) []RuntimeFeature {
	set := make(map[RuntimeFeature]bool)
	if len(c.Modules) > 0 {
		set[RuntimeRequire] = true
	}
	if c.Kind == EntryChunk {
		set[RuntimeBootstrap] = true
	}
	if len(c.Children) > 0 {
		set[RuntimeEnsureChunk] = true
		set[RuntimeLoadScript] = true
	}
	if len(c.Requires) > 0 {
		set[RuntimeOnChunksLoaded] = true
	}
	for _, m := range c.Modules {
		for _, dep := range g.Node(m).Dependencies {
			if dep.Kind == graph.Context {
				set[RuntimeRequireContext] = true
			}
			if dep.Category == graph.CommonJS {
				set[RuntimeHasOwnProperty] = true
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}

func equalChunks(a, b *Chunk) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Kind == b.Kind && a.Root == b.Root &&
		a.Failed == b.Failed && a.Filename == b.Filename && a.Hash == b.Hash &&
		slices.Equal(a.Modules, b.Modules) &&
		slices.Equal(a.Runtime, b.Runtime) &&
		slices.Equal(a.Parents, b.Parents) &&
		slices.Equal(a.Children, b.Children) &&
		slices.Equal(a.Requires, b.Requires)
}
