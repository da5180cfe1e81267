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

// Package loader runs the ordered transform steps configured for a module.
//
// A chain is a named list of steps. Rules map resources to chains by glob;
// the chain name becomes part of the module identity, so the same file
// loaded through two chains is two modules.
package loader

import (
	"context"
	"encoding/hex"
	"fmt"
	"runtime/debug"

	"lukechampine.com/blake3"

	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/internal/logging"
)

// Step is one transform in a chain. Steps receive the previous step's
// content in ctx.Content and replace it in place. A step may block on I/O;
// it must honor cancellation of c.
type Step interface {
	Name() string
	Transform(c context.Context, ctx *Context) error
}

// Fingerprinter is implemented by steps whose options affect their output.
// The fingerprint feeds the chain's config hash.
type Fingerprinter interface {
	Fingerprint() string
}

// Context is the mutable state passed along a chain.
type Context struct {
	Identity  graph.Identity
	Resource  string
	Content   []byte
	SourceMap []byte
	Meta      map[string]string

	deps []graph.Dependency
}

// AddDependency declares a dependency. Declaration order is preserved.
func (c *Context) AddDependency(specifier string, kind graph.DependencyKind, category graph.Category, optional bool, line int) {
	c.deps = append(c.deps, graph.Dependency{
		Specifier: specifier,
		Kind:      kind,
		Category:  category,
		Optional:  optional,
		Line:      line,
	})
}

// Dependencies returns the dependencies declared so far.
func (c *Context) Dependencies() []graph.Dependency {
	return c.deps
}

// SetMeta records a metadata value for later steps and for the output.
func (c *Context) SetMeta(key, value string) {
	if c.Meta == nil {
		c.Meta = make(map[string]string)
	}
	c.Meta[key] = value
}

// Result is the output of a chain run.
type Result struct {
	Output       graph.Output
	Dependencies []graph.Dependency
}

// Error is a step failure. It aborts the chain.
type Error struct {
	Step    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return "loader: " + e.Message
	}
	return fmt.Sprintf("loader %s: %s", e.Step, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner executes chains from a Registry. It is stateless apart from the
// registry and safe for concurrent use.
type Runner struct {
	registry *Registry
	logger   logging.Logger
}

// NewRunner creates a Runner.
func NewRunner(registry *Registry, logger logging.Logger) *Runner {
	return &Runner{registry: registry, logger: logging.OrDiscard(logger)}
}

// Registry returns the runner's chain registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes the chain named by the identity over raw.
func (r *Runner) Run(ctx context.Context, id graph.Identity, resource string, raw []byte) (*Result, error) {
	chain, ok := r.registry.Chain(id.Chain())
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("unknown loader chain %q", id.Chain())}
	}

	lc := &Context{
		Identity: id,
		Resource: resource,
		Content:  raw,
	}
	for _, step := range chain.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := runStep(ctx, step, lc); err != nil {
			return nil, err
		}
	}

	sum := blake3.Sum256(lc.Content)
	r.logger.Debug("Loaded", "module", id, "chain", chain.Name, "deps", len(lc.deps))
	return &Result{
		Output: graph.Output{
			Source:    lc.Content,
			Hash:      hex.EncodeToString(sum[:]),
			SourceMap: lc.SourceMap,
			Meta:      lc.Meta,
		},
		Dependencies: lc.deps,
	}, nil
}

// runStep runs one step, converting a panic into an *Error.
func runStep(ctx context.Context, step Step, lc *Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &Error{
				Step:    step.Name(),
				Message: fmt.Sprintf("panic: %v", p),
				Err:     fmt.Errorf("%s", debug.Stack()),
			}
		}
	}()

	if err := step.Transform(ctx, lc); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if le, ok := err.(*Error); ok {
			if le.Step == "" {
				le.Step = step.Name()
			}
			return le
		}
		return &Error{Step: step.Name(), Message: err.Error(), Err: err}
	}
	return nil
}
