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
package loader

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"lukechampine.com/blake3"
)

// FallbackChain is used for resources no rule matches.
const FallbackChain = "default"

// Chain is a named, ordered list of steps.
type Chain struct {
	Name  string
	Steps []Step
}

// Rule selects a chain for resources matching a doublestar pattern.
// Patterns match the slash-separated path without its leading slash, or the
// path component of a URL.
type Rule struct {
	Pattern string
	Chain   string
}

// Registry holds the configured chains and rules. It is immutable after
// construction.
type Registry struct {
	rules  []Rule
	chains map[string]Chain
	hashes map[string]string
}

// NewRegistry validates rules and chains. Rules are tried in order; the
// first match wins. A FallbackChain must be among the chains.
func NewRegistry(chains []Chain, rules []Rule) (*Registry, error) {
	r := &Registry{
		chains: make(map[string]Chain, len(chains)),
		hashes: make(map[string]string, len(chains)),
	}
	for _, c := range chains {
		if c.Name == "" || strings.ContainsAny(c.Name, "!|") {
			return nil, fmt.Errorf("invalid chain name %q", c.Name)
		}
		if _, dup := r.chains[c.Name]; dup {
			return nil, fmt.Errorf("duplicate chain %q", c.Name)
		}
		r.chains[c.Name] = c
		r.hashes[c.Name] = chainHash(c)
	}
	if _, ok := r.chains[FallbackChain]; !ok {
		return nil, fmt.Errorf("missing %q chain", FallbackChain)
	}
	for _, rule := range rules {
		if !doublestar.ValidatePattern(rule.Pattern) {
			return nil, fmt.Errorf("rule %q: %w", rule.Pattern, doublestar.ErrBadPattern)
		}
		if _, ok := r.chains[rule.Chain]; !ok {
			return nil, fmt.Errorf("rule %q names unknown chain %q", rule.Pattern, rule.Chain)
		}
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// Match returns the chain name for a resource.
func (r *Registry) Match(resource string) string {
	p := matchPath(resource)
	for _, rule := range r.rules {
		if ok, _ := doublestar.Match(rule.Pattern, p); ok {
			return rule.Chain
		}
	}
	return FallbackChain
}

// Chain returns a chain by name.
func (r *Registry) Chain(name string) (Chain, bool) {
	c, ok := r.chains[name]
	return c, ok
}

// ConfigHash fingerprints a chain's configuration. Outputs produced under a
// different hash are never reused.
func (r *Registry) ConfigHash(name string) string {
	return r.hashes[name]
}

func chainHash(c Chain) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%s\x00", c.Name)
	for _, s := range c.Steps {
		fmt.Fprintf(h, "%s\x00", s.Name())
		if f, ok := s.(Fingerprinter); ok {
			fmt.Fprintf(h, "%s\x00", f.Fingerprint())
		}
		h.Write([]byte{0xff})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func matchPath(resource string) string {
	if strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://") {
		if u, err := url.Parse(resource); err == nil {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	return strings.TrimPrefix(filepath.ToSlash(resource), "/")
}
