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

// Package lazy defers modules until something asks for them.
package lazy

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"lukechampine.com/blake3"

	"bennypowers.dev/graft/build"
	"bennypowers.dev/graft/graph"
)

// HookPrefix is the path prefix of every lazy hook.
const HookPrefix = "/__graft/lazy/"

// Policy decides which modules are deferred at build time. Entries defers
// entry modules, Imports defers dynamic import targets. When Include is
// non-empty a resource must match one of its globs; a resource matching
// any Exclude glob is never deferred.
type Policy struct {
	Entries bool     `mapstructure:"entries" json:"entries"`
	Imports bool     `mapstructure:"imports" json:"imports"`
	Include []string `mapstructure:"include" json:"include,omitempty"`
	Exclude []string `mapstructure:"exclude" json:"exclude,omitempty"`
}

var _ build.DeferPolicy = Policy{}

// Enabled reports whether the policy can defer anything.
func (p Policy) Enabled() bool {
	return p.Entries || p.Imports
}

// Validate checks the glob patterns.
func (p Policy) Validate() error {
	for _, pattern := range append(append([]string(nil), p.Include...), p.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("lazy: invalid pattern %q", pattern)
		}
	}
	return nil
}

// Defer implements build.DeferPolicy.
func (p Policy) Defer(req build.DeferRequest) bool {
	switch {
	case req.Entry:
		if !p.Entries {
			return false
		}
	case req.Kind == graph.Dynamic:
		if !p.Imports {
			return false
		}
	default:
		return false
	}
	return p.matches(req.Resource)
}

func (p Policy) matches(resource string) bool {
	for _, pattern := range p.Exclude {
		if match(pattern, resource) {
			return false
		}
	}
	if len(p.Include) == 0 {
		return true
	}
	for _, pattern := range p.Include {
		if match(pattern, resource) {
			return true
		}
	}
	return false
}

func match(pattern, resource string) bool {
	ok, err := doublestar.Match(pattern, strings.TrimPrefix(resource, "/"))
	if err == nil && ok {
		return true
	}
	ok, err = doublestar.Match(pattern, resource)
	return err == nil && ok
}

// Hook implements build.DeferPolicy.
func (p Policy) Hook(id graph.Identity) string {
	return HookPrefix + Key(id)
}

// Key is the stable, URL-safe key of an identity.
func Key(id graph.Identity) string {
	sum := blake3.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
