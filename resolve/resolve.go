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

// Package resolve maps (context, specifier) pairs to module identities.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/packagejson"
)

// DefaultExtensions is the extension probing order for extensionless requests.
var DefaultExtensions = []string{".js", ".mjs", ".cjs", ".ts", ".mts", ".tsx", ".jsx", ".json"}

// DefaultChain names the loader chain when no matcher is configured.
const DefaultChain = "default"

// Plugin overrides resolution for the specifiers it handles. Plugins are
// consulted in order before default resolution; returning handled=false
// falls through.
type Plugin interface {
	Resolve(ctx context.Context, dir, specifier string) (path string, handled bool, err error)
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(ctx context.Context, dir, specifier string) (string, bool, error)

func (f PluginFunc) Resolve(ctx context.Context, dir, specifier string) (string, bool, error) {
	return f(ctx, dir, specifier)
}

// ChainMatcher picks the loader chain for a resolved resource.
type ChainMatcher interface {
	Match(resource string) string
}

// Options configures a Resolver.
type Options struct {
	// Root is the project directory. Root-absolute specifiers ("/x.js")
	// and relative alias targets resolve against it.
	Root string
	// Conditions is the export condition priority. Defaults to
	// packagejson.DefaultConditions.
	Conditions []string
	// Extensions are probed in order for extensionless requests.
	Extensions []string
	// MainFiles are the directory index basenames. Defaults to "index".
	MainFiles []string
	// StrictExtensions reports Ambiguous instead of taking the first
	// matching extension.
	StrictExtensions bool
	// Alias maps specifier prefixes to replacements.
	Alias map[string]string
	// Remote enables http(s) specifiers.
	Remote bool
	// Layer is appended to every identity.
	Layer   string
	Plugins []Plugin
	Chains  ChainMatcher
	Logger  logging.Logger
}

// Result is a successful resolution.
type Result struct {
	Identity    graph.Identity
	Resource    string
	Chain       string
	SideEffects graph.SideEffects
	// Package is the name in the nearest package.json, if any.
	Package string
}

// Resolver resolves specifiers against a filesystem. It is safe for
// concurrent use. Filesystem probes are cached until Reset.
type Resolver struct {
	fs       fs.FileSystem
	opts     Options
	packages packagejson.Cache
	state    atomic.Pointer[revisionState]
	logger   logging.Logger
}

// New creates a Resolver.
func New(fsys fs.FileSystem, opts Options) *Resolver {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if len(opts.MainFiles) == 0 {
		opts.MainFiles = []string{"index"}
	}
	if len(opts.Conditions) == 0 {
		opts.Conditions = packagejson.DefaultConditions
	}
	r := &Resolver{
		fs:       fsys,
		opts:     opts,
		packages: packagejson.NewMemoryCache(),
		logger:   logging.OrDiscard(opts.Logger),
	}
	r.state.Store(newRevisionState(0))
	return r
}

// WithPackageCache returns a Resolver sharing the given package.json cache.
func (r *Resolver) WithPackageCache(cache packagejson.Cache) *Resolver {
	clone := &Resolver{
		fs:       r.fs,
		opts:     r.opts,
		packages: cache,
		logger:   r.logger,
	}
	clone.state.Store(newRevisionState(r.state.Load().revision))
	return clone
}

// Reset discards every filesystem probe. Call it between build revisions.
func (r *Resolver) Reset(revision uint64) {
	r.state.Store(newRevisionState(revision))
}

// Invalidate drops cached package.json files among the changed paths.
func (r *Resolver) Invalidate(paths []string) {
	for _, p := range paths {
		if filepath.Base(p) == "package.json" {
			r.packages.Invalidate(p)
		}
	}
}

// Conditions returns the condition list for a dependency category.
// CommonJS requests prefer "require" over "import".
func (r *Resolver) Conditions(category graph.Category) []string {
	if category != graph.CommonJS {
		return r.opts.Conditions
	}
	conds := make([]string, 0, len(r.opts.Conditions)+1)
	conds = append(conds, "require")
	for _, c := range r.opts.Conditions {
		if c != "import" && c != "require" {
			conds = append(conds, c)
		}
	}
	return conds
}

// ContextOf returns the resolution context for specifiers found in a resource:
// the directory for files, the URL itself for remote modules.
func ContextOf(resource string) string {
	if isURL(resource) {
		return resource
	}
	return filepath.Dir(resource)
}

// Resolve maps a specifier found in context dir to a module identity.
// Pass nil conditions for the configured default.
func (r *Resolver) Resolve(ctx context.Context, dir, specifier string, conditions []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := validateSyntax(specifier); err != nil {
		return Result{}, &Error{Kind: Invalid, Specifier: specifier, Context: dir, Err: err}
	}

	for _, p := range r.opts.Plugins {
		resolved, handled, err := p.Resolve(ctx, dir, specifier)
		if err != nil {
			return Result{}, fmt.Errorf("resolver plugin: %w", err)
		}
		if !handled {
			continue
		}
		if !isURL(resolved) && !r.isFile(resolved) {
			return Result{}, &Error{Kind: NotFound, Specifier: specifier, Context: dir}
		}
		return r.result(resolved), nil
	}

	if err := validateRequest(specifier); err != nil {
		return Result{}, &Error{Kind: Invalid, Specifier: specifier, Context: dir, Err: err}
	}
	if len(conditions) == 0 {
		conditions = r.opts.Conditions
	}
	if !slices.Contains(conditions, "default") {
		conditions = append(slices.Clip(conditions), "default")
	}

	resolved, err := r.resolve(dir, r.applyAlias(specifier), conditions)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			re.Specifier = specifier
			re.Context = dir
			return Result{}, re
		}
		return Result{}, &Error{Kind: NotFound, Specifier: specifier, Context: dir, Err: err}
	}
	return r.result(resolved), nil
}

func (r *Resolver) resolve(dir, specifier string, conditions []string) (string, error) {
	switch {
	case isURL(specifier):
		if !r.opts.Remote {
			return "", &Error{Kind: Invalid, Err: fmt.Errorf("remote modules are disabled")}
		}
		return specifier, nil

	case isURL(dir) && !isBare(specifier):
		base, err := url.Parse(dir)
		if err != nil {
			return "", &Error{Kind: Invalid, Err: err}
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return "", &Error{Kind: Invalid, Err: err}
		}
		return base.ResolveReference(ref).String(), nil

	case strings.HasPrefix(specifier, "#"):
		return r.resolveImportsField(dir, specifier, conditions)

	case strings.HasPrefix(specifier, "/"):
		p := filepath.FromSlash(specifier)
		if r.opts.Root != "" && !strings.HasPrefix(p, r.opts.Root+string(filepath.Separator)) {
			p = filepath.Join(r.opts.Root, p)
		}
		return r.resolveFile(p)

	case !isBare(specifier):
		return r.resolveFile(filepath.Join(dir, filepath.FromSlash(specifier)))

	default:
		return r.resolveBare(dir, specifier, conditions)
	}
}

// applyAlias rewrites the longest matching alias prefix.
func (r *Resolver) applyAlias(specifier string) string {
	best := ""
	for key := range r.opts.Alias {
		if specifier != key && !strings.HasPrefix(specifier, key+"/") {
			continue
		}
		if len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
		}
	}
	if best == "" {
		return specifier
	}
	target := r.opts.Alias[best] + strings.TrimPrefix(specifier, best)
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		return filepath.ToSlash(filepath.Join(r.opts.Root, target))
	}
	return target
}

// result builds the identity for a resolved resource.
func (r *Resolver) result(resource string) Result {
	chain := DefaultChain
	if r.opts.Chains != nil {
		chain = r.opts.Chains.Match(resource)
	}
	res := Result{
		Identity: graph.NewIdentity(chain, resource, r.opts.Layer),
		Resource: resource,
		Chain:    chain,
	}
	if isURL(resource) {
		return res
	}
	if pkgDir, pkg := r.nearestPackage(filepath.Dir(resource)); pkg != nil {
		res.Package = pkg.Name
		rel, err := filepath.Rel(pkgDir, resource)
		if err == nil {
			if has, known := pkg.SideEffects(filepath.ToSlash(rel)); known {
				if has {
					res.SideEffects = graph.HasSideEffects
				} else {
					res.SideEffects = graph.SideEffectFree
				}
			}
		}
	}
	return res
}

// resolveFile resolves an exact path, then extension candidates, then a
// directory index.
func (r *Resolver) resolveFile(p string) (string, error) {
	if r.isFile(p) {
		return p, nil
	}
	if found, err := r.probeExtensions(p); found != "" || err != nil {
		return found, err
	}
	if !r.isDir(p) {
		return "", &Error{Kind: NotFound}
	}

	if pkg, err := r.loadPackage(filepath.Join(p, "package.json")); err == nil && pkg.Main != "" {
		main := filepath.Join(p, filepath.FromSlash(pkg.Main))
		if r.isFile(main) {
			return main, nil
		}
		if found, err := r.probeExtensions(main); found != "" || err != nil {
			return found, err
		}
	}

	for _, name := range r.opts.MainFiles {
		if found, err := r.probeExtensions(filepath.Join(p, name)); found != "" || err != nil {
			return found, err
		}
	}
	return "", &Error{Kind: NotFound}
}

// probeExtensions returns the first existing p+ext. With StrictExtensions,
// more than one match is an Ambiguous error.
func (r *Resolver) probeExtensions(p string) (string, error) {
	var candidates []string
	for _, ext := range r.opts.Extensions {
		if !r.isFile(p + ext) {
			continue
		}
		if !r.opts.StrictExtensions {
			return p + ext, nil
		}
		candidates = append(candidates, p+ext)
	}
	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
		return candidates[0], nil
	default:
		return "", &Error{Kind: Ambiguous, Candidates: candidates}
	}
}

// validateSyntax rejects specifiers nothing could resolve, plugins included.
func validateSyntax(specifier string) error {
	switch {
	case specifier == "":
		return fmt.Errorf("empty specifier")
	case strings.ContainsRune(specifier, 0):
		return fmt.Errorf("specifier contains a NUL byte")
	case strings.TrimSpace(specifier) != specifier:
		return fmt.Errorf("specifier has surrounding whitespace")
	}
	return nil
}

// validateRequest rejects specifiers default resolution cannot handle.
func validateRequest(specifier string) error {
	if scheme, _, ok := strings.Cut(specifier, ":"); ok && !strings.ContainsAny(scheme, "/.@#") {
		switch scheme {
		case "http", "https":
		default:
			return fmt.Errorf("unsupported scheme %q", scheme)
		}
	}
	if isBare(specifier) && !strings.HasPrefix(specifier, "#") {
		name, _ := SplitSpecifier(specifier)
		if name == "" || strings.HasPrefix(name, ".") {
			return fmt.Errorf("invalid package name in %q", specifier)
		}
		if slices.Contains(strings.Split(specifier, "/"), "..") {
			return fmt.Errorf("package subpath in %q escapes the package", specifier)
		}
	}
	return nil
}

// isBare reports whether the specifier is a bare module specifier.
// IsBare reports whether a specifier names a package rather than a path,
// a URL or a package-internal "#" import.
func IsBare(specifier string) bool {
	return isBare(specifier) && !strings.HasPrefix(specifier, "#") && !strings.Contains(specifier, ":")
}

func isBare(specifier string) bool {
	if specifier == "" {
		return false
	}
	if specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		return false
	}
	if strings.HasPrefix(specifier, "/") {
		return false
	}
	return !isURL(specifier)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// SplitSpecifier splits a bare specifier into its package name and a
// "./"-prefixed subpath ("." for the package root).
func SplitSpecifier(specifier string) (name, subpath string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 {
			return "", "."
		}
		name = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, "./" + parts[2]
		}
		return name, "."
	}
	name = parts[0]
	rest := strings.TrimPrefix(specifier, name)
	if rest == "" || rest == "/" {
		return name, "."
	}
	return name, "." + path.Clean(rest)
}
