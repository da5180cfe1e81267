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

// Package packagejson provides parsing and export resolution for package.json files.
package packagejson

import (
	"encoding/json"
	"errors"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bennypowers.dev/graft/fs"
)

// workspacesObjectFormat represents the object format for workspaces field.
// Used by yarn classic with nohoist: {"packages": [...], "nohoist": [...]}
type workspacesObjectFormat struct {
	Packages []string `json:"packages"`
}

// ErrNotExported is returned when a subpath is not exported by the package.
var ErrNotExported = errors.New("not exported by package.json")

// ErrNotImported is returned when a "#" specifier has no entry in the imports field.
var ErrNotImported = errors.New("not defined in package.json imports")

// DefaultConditions is the default export condition priority for browser environments.
var DefaultConditions = []string{"browser", "import", "default"}

// ResolveOptions configures how conditional exports are resolved.
type ResolveOptions struct {
	// Conditions is the ordered list of conditions to try when resolving exports.
	// If nil, defaults to DefaultConditions.
	Conditions []string
}

// PackageJSON represents the subset of package.json the resolver reads.
type PackageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Main            string            `json:"main,omitempty"`
	Module          string            `json:"module,omitempty"`
	Browser         any               `json:"browser,omitempty"`
	Exports         any               `json:"exports,omitempty"`
	Imports         any               `json:"imports,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
	RawWorkspaces   json.RawMessage   `json:"workspaces,omitempty"`
	RawSideEffects  json.RawMessage   `json:"sideEffects,omitempty"`
}

// WorkspacePatterns returns the workspace glob patterns from the workspaces field.
// Handles both array format ["packages/*"] and object format {"packages": ["libs/*"]}.
func (pkg *PackageJSON) WorkspacePatterns() []string {
	if len(pkg.RawWorkspaces) == 0 {
		return nil
	}

	var patterns []string
	if err := json.Unmarshal(pkg.RawWorkspaces, &patterns); err == nil {
		return patterns
	}

	var obj workspacesObjectFormat
	if err := json.Unmarshal(pkg.RawWorkspaces, &obj); err == nil {
		return obj.Packages
	}

	return nil
}

// HasWorkspaces returns true if the package has workspace patterns defined.
func (pkg *PackageJSON) HasWorkspaces() bool {
	return len(pkg.WorkspacePatterns()) > 0
}

// SideEffects reports what the package declares about side effects for a
// file at relPath (relative to the package root, slash separated).
// known is false when the package makes no declaration.
//
// "sideEffects": false marks every file side-effect free; an array of globs
// lists the files that do have side effects. Patterns without a slash match
// the basename anywhere in the package, as webpack does.
func (pkg *PackageJSON) SideEffects(relPath string) (hasSideEffects, known bool) {
	if len(pkg.RawSideEffects) == 0 {
		return false, false
	}

	var flag bool
	if err := json.Unmarshal(pkg.RawSideEffects, &flag); err == nil {
		return flag, true
	}

	var patterns []string
	if err := json.Unmarshal(pkg.RawSideEffects, &patterns); err != nil {
		return false, false
	}

	relPath = strings.TrimPrefix(path.Clean(relPath), "./")
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(pattern, "./")
		if !strings.Contains(pattern, "/") {
			pattern = "**/" + pattern
		}
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true, true
		}
	}
	return false, true
}

// Parse parses package.json data.
func Parse(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ParseFile parses a package.json file.
func ParseFile(fs fs.FileSystem, path string) (*PackageJSON, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ResolveExport resolves a subpath export to its target file path.
// The subpath should be "." for the main export or "./subpath" for subpath exports.
// Returns the resolved path without leading "./".
// Pass nil for opts to use DefaultConditions.
func (pkg *PackageJSON) ResolveExport(subpath string, opts *ResolveOptions) (string, error) {
	if pkg.Exports == nil {
		return pkg.resolveLegacyMain(subpath, opts)
	}

	if exportStr, ok := pkg.Exports.(string); ok {
		if subpath == "." {
			return trimDotSlash(exportStr), nil
		}
		return "", ErrNotExported
	}

	if fallbacks, ok := pkg.Exports.([]any); ok {
		if subpath != "." {
			return "", ErrNotExported
		}
		return resolveExportValue(fallbacks, "", opts, ErrNotExported)
	}

	exportsMap, ok := pkg.Exports.(map[string]any)
	if !ok {
		return "", ErrNotExported
	}

	// A map without "." keys is a condition map for the main entry.
	hasSubpaths := false
	for key := range exportsMap {
		if strings.HasPrefix(key, ".") {
			hasSubpaths = true
			break
		}
	}
	if !hasSubpaths {
		if subpath == "." {
			return resolveConditions(exportsMap, "", opts, ErrNotExported)
		}
		return "", ErrNotExported
	}

	return resolveSubpathMap(exportsMap, subpath, opts, ErrNotExported)
}

// ResolveImport resolves a "#" specifier through the imports field.
// The result is either a package-relative path (leading "./" trimmed, with
// isPath true) or a bare specifier to resolve as a dependency.
func (pkg *PackageJSON) ResolveImport(specifier string, opts *ResolveOptions) (target string, isPath bool, err error) {
	importsMap, ok := pkg.Imports.(map[string]any)
	if !ok || !strings.HasPrefix(specifier, "#") {
		return "", false, ErrNotImported
	}

	raw, err := resolveSubpathMapRaw(importsMap, specifier, opts, ErrNotImported)
	if err != nil {
		return "", false, err
	}
	if strings.HasPrefix(raw, "./") {
		return trimDotSlash(raw), true, nil
	}
	return raw, false, nil
}

// resolveLegacyMain resolves packages without an exports field.
// The browser field wins over module, which wins over main.
func (pkg *PackageJSON) resolveLegacyMain(subpath string, opts *ResolveOptions) (string, error) {
	if subpath != "." {
		return "", ErrNotExported
	}
	conditions := conditionList(opts)
	if slices.Contains(conditions, "browser") {
		if browser, ok := pkg.Browser.(string); ok && browser != "" {
			return trimDotSlash(browser), nil
		}
	}
	if slices.Contains(conditions, "import") && pkg.Module != "" {
		return trimDotSlash(pkg.Module), nil
	}
	if pkg.Main != "" {
		return trimDotSlash(pkg.Main), nil
	}
	return "", ErrNotExported
}

// resolveSubpathMap looks up an exact key first, then the longest matching
// wildcard pattern.
func resolveSubpathMap(m map[string]any, subpath string, opts *ResolveOptions, notFound error) (string, error) {
	raw, err := resolveSubpathMapRaw(m, subpath, opts, notFound)
	if err != nil {
		return "", err
	}
	return trimDotSlash(raw), nil
}

func resolveSubpathMapRaw(m map[string]any, subpath string, opts *ResolveOptions, notFound error) (string, error) {
	if value, ok := m[subpath]; ok {
		return resolveExportValueRaw(value, "", opts, notFound)
	}

	bestKey, bestMatch, bestLen := "", "", -1
	for key := range m {
		star := strings.IndexByte(key, '*')
		if star < 0 {
			continue
		}
		prefix, suffix := key[:star], key[star+1:]
		if !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		if len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		// Longest prefix wins; ties go to the lexically smaller key.
		if len(prefix) > bestLen || (len(prefix) == bestLen && key < bestKey) {
			bestKey, bestLen = key, len(prefix)
			bestMatch = subpath[len(prefix) : len(subpath)-len(suffix)]
		}
	}
	if bestKey == "" {
		return "", notFound
	}
	return resolveExportValueRaw(m[bestKey], bestMatch, opts, notFound)
}

// resolveExportValue resolves an export value with custom conditions,
// substituting the wildcard match into "*" targets.
func resolveExportValue(value any, match string, opts *ResolveOptions, notFound error) (string, error) {
	raw, err := resolveExportValueRaw(value, match, opts, notFound)
	if err != nil {
		return "", err
	}
	return trimDotSlash(raw), nil
}

func resolveExportValueRaw(value any, match string, opts *ResolveOptions, notFound error) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.ReplaceAll(v, "*", match), nil
	case map[string]any:
		return resolveConditionsRaw(v, match, opts, notFound)
	case []any:
		for _, item := range v {
			if result, err := resolveExportValueRaw(item, match, opts, notFound); err == nil {
				return result, nil
			}
		}
	}
	// null targets explicitly block a subpath.
	return "", notFound
}

// resolveConditions resolves a conditional export map to a path.
// Tries each condition in priority order, recursing into nested maps.
func resolveConditions(conditions map[string]any, match string, opts *ResolveOptions, notFound error) (string, error) {
	raw, err := resolveConditionsRaw(conditions, match, opts, notFound)
	if err != nil {
		return "", err
	}
	return trimDotSlash(raw), nil
}

func resolveConditionsRaw(conditions map[string]any, match string, opts *ResolveOptions, notFound error) (string, error) {
	for _, cond := range conditionList(opts) {
		value, ok := conditions[cond]
		if !ok {
			continue
		}
		if result, err := resolveExportValueRaw(value, match, opts, notFound); err == nil {
			return result, nil
		}
	}
	return "", notFound
}

func conditionList(opts *ResolveOptions) []string {
	if opts != nil && len(opts.Conditions) > 0 {
		return opts.Conditions
	}
	return DefaultConditions
}

// trimDotSlash removes a leading "./" from a path.
func trimDotSlash(path string) string {
	return strings.TrimPrefix(path, "./")
}
