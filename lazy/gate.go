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
package lazy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/revision"
)

// ErrUnknownModule is returned when a trigger names nothing in the graph.
var ErrUnknownModule = errors.New("unknown module")

// ErrNoCompilation is returned when a trigger arrives before the first build.
var ErrNoCompilation = errors.New("no compilation")

// Compiler is what the gate needs from the engine.
type Compiler interface {
	Current() *revision.Compilation
	// BuildPartial builds the deferred modules named by seeds and publishes
	// the resulting compilation.
	BuildPartial(ctx context.Context, seeds []graph.Identity) (*revision.Patch, error)
}

// Gate turns triggers for deferred modules into partial builds. Concurrent
// triggers for one module share a build.
type Gate struct {
	compiler Compiler
	logger   logging.Logger
	group    singleflight.Group
}

// NewGate creates a gate over c.
func NewGate(c Compiler, logger logging.Logger) *Gate {
	return &Gate{compiler: c, logger: logging.OrDiscard(logger)}
}

// Trigger builds the module named by key, which is either a module identity
// or a lazy hook path. Triggering a module that is already built returns an
// empty patch against the current compilation.
func (g *Gate) Trigger(ctx context.Context, key string) (*revision.Patch, error) {
	cur := g.compiler.Current()
	if cur == nil {
		return nil, ErrNoCompilation
	}
	id, ok := lookup(cur.Graph, key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, key)
	}
	if n := cur.Graph.Node(id); !n.IsStub() {
		return &revision.Patch{Compilation: cur, Manifest: revision.Diff(cur, cur)}, nil
	}

	ch := g.group.DoChan(string(id), func() (any, error) {
		g.logger.Debug("Triggering lazy module", "module", id)
		return g.compiler.BuildPartial(context.WithoutCancel(ctx), []graph.Identity{id})
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*revision.Patch), nil
	}
}

func lookup(g *graph.ModuleGraph, key string) (graph.Identity, bool) {
	if !strings.HasPrefix(key, HookPrefix) {
		id := graph.Identity(key)
		return id, g.Has(id)
	}
	for _, id := range g.Identities() {
		if n := g.Node(id); n.LazyHook == key {
			return id, true
		}
	}
	// A built module no longer carries its hook.
	want := strings.TrimPrefix(key, HookPrefix)
	for _, id := range g.Identities() {
		if Key(id) == want {
			return id, true
		}
	}
	return "", false
}
