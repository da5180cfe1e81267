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
	"strings"
)

// Identity is the stable dedup key of a compiled module. Two requests that
// resolve to the same identity share one node.
//
// The canonical form is "<chain>!<resource>" with an optional "|<layer>"
// suffix, so identities sort by loader chain first, then by resource.
type Identity string

// NewIdentity derives an identity from a loader chain name, a resolved
// resource (absolute path or URL) and an optional compiler layer.
func NewIdentity(chain, resource, layer string) Identity {
	var b strings.Builder
	b.Grow(len(chain) + len(resource) + len(layer) + 2)
	b.WriteString(chain)
	b.WriteByte('!')
	b.WriteString(resource)
	if layer != "" {
		b.WriteByte('|')
		b.WriteString(layer)
	}
	return Identity(b.String())
}

// Chain returns the loader chain component of the identity.
func (id Identity) Chain() string {
	chain, _, _ := strings.Cut(string(id), "!")
	return chain
}

// Resource returns the resource component of the identity.
func (id Identity) Resource() string {
	_, rest, ok := strings.Cut(string(id), "!")
	if !ok {
		return string(id)
	}
	if i := strings.LastIndexByte(rest, '|'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Layer returns the compiler layer component, or "".
func (id Identity) Layer() string {
	_, rest, _ := strings.Cut(string(id), "!")
	if i := strings.LastIndexByte(rest, '|'); i >= 0 {
		return rest[i+1:]
	}
	return ""
}

// DependencyKind classifies an edge. Kinds govern invalidation propagation
// and chunk boundaries.
type DependencyKind uint8

const (
	// Static edges are ordinary imports and requires.
	Static DependencyKind = iota
	// Dynamic edges (import()) are chunk boundaries.
	Dynamic
	// Weak edges never force a rebuild of the referrer.
	Weak
	// Context edges come from require.context style directory requests.
	Context
)

func (k DependencyKind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case Weak:
		return "weak"
	case Context:
		return "context"
	default:
		return "unknown"
	}
}

// Category records the module system a dependency was declared in.
type Category uint8

const (
	ESM Category = iota
	CommonJS
	URL
)

func (c Category) String() string {
	switch c {
	case ESM:
		return "esm"
	case CommonJS:
		return "commonjs"
	case URL:
		return "url"
	default:
		return "unknown"
	}
}

// BuildState is the lifecycle state of a node.
type BuildState uint8

const (
	Unbuilt BuildState = iota
	Building
	Built
	Errored
)

func (s BuildState) String() string {
	switch s {
	case Unbuilt:
		return "unbuilt"
	case Building:
		return "building"
	case Built:
		return "built"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// SideEffects is a tri-state flag carried from package.json "sideEffects".
type SideEffects uint8

const (
	SideEffectsUnknown SideEffects = iota
	SideEffectFree
	HasSideEffects
)

func (s SideEffects) String() string {
	switch s {
	case SideEffectFree:
		return "free"
	case HasSideEffects:
		return "has"
	default:
		return "unknown"
	}
}

// Output is the result of a module's loader pipeline.
type Output struct {
	Source    []byte            `json:"source"`
	Hash      string            `json:"hash"`
	SourceMap []byte            `json:"sourceMap,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Dependency is one declared dependency of a module, in declaration order.
// Target is empty when the specifier did not resolve; Err then carries the
// resolution failure unless Optional accepted it.
type Dependency struct {
	Specifier string         `json:"specifier"`
	Kind      DependencyKind `json:"kind"`
	Category  Category       `json:"category"`
	Optional  bool           `json:"optional,omitempty"`
	Line      int            `json:"line,omitempty"`
	Target    Identity       `json:"-"`
	Err       error          `json:"-"`
}

// Resolved reports whether the dependency points at a node.
func (d Dependency) Resolved() bool {
	return d.Target != ""
}

// Node is one module. Nodes are immutable once committed to a graph: any
// update replaces the node, which lets cloned graphs share unchanged nodes.
type Node struct {
	Identity Identity
	// Resource is the path or URL backing the raw content.
	Resource string
	// RawHash is the BLAKE3 hex digest of the unprocessed bytes.
	RawHash string
	// ConfigHash fingerprints the loader chain that produced Output.
	ConfigHash string
	// Interface fingerprints what referrers can observe: declared
	// dependencies, side effects and exported names.
	Interface    string
	Output       *Output
	Dependencies []Dependency
	State        BuildState
	SideEffects  SideEffects
	// Deferred nodes are lazy stubs awaiting an external trigger.
	Deferred bool
	LazyHook string
	Errors   []error
	Size     int
}

// Clone returns a copy of n whose slices can be modified independently.
func (n *Node) Clone() *Node {
	c := *n
	c.Dependencies = append([]Dependency(nil), n.Dependencies...)
	c.Errors = append([]error(nil), n.Errors...)
	return &c
}

// IsStub reports whether the node is an unbuilt lazy placeholder.
func (n *Node) IsStub() bool {
	return n.Deferred && n.State == Unbuilt
}

// Targets returns the resolved dependency targets of n, in declaration order,
// keeping only edges whose kind is accepted by the filter. A nil filter
// accepts every kind.
func (n *Node) Targets(filter func(DependencyKind) bool) []Identity {
	var out []Identity
	for _, dep := range n.Dependencies {
		if dep.Target == "" {
			continue
		}
		if filter != nil && !filter(dep.Kind) {
			continue
		}
		out = append(out, dep.Target)
	}
	return out
}
