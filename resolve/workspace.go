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
package resolve

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/packagejson"
)

// WorkspacePackage is a package linked from the project's workspaces field.
type WorkspacePackage struct {
	Name string
	Path string
}

// DiscoverWorkspacePackages finds all workspace packages based on the
// workspaces field in the root package.json.
// Returns nil if no workspaces are defined.
func DiscoverWorkspacePackages(fsys fs.FileSystem, rootDir string) ([]WorkspacePackage, error) {
	rootPkg, err := packagejson.ParseFile(fsys, filepath.Join(rootDir, "package.json"))
	if err != nil {
		return nil, err
	}

	patterns := rootPkg.WorkspacePatterns()
	if len(patterns) == 0 {
		return nil, nil
	}

	var packages []WorkspacePackage
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		dirs, err := expandWorkspacePattern(fsys, rootDir, pattern)
		if err != nil {
			return nil, fmt.Errorf("workspace pattern %q: %w", pattern, err)
		}
		for _, dir := range dirs {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			pkg, err := parseWorkspacePackage(fsys, dir)
			if err != nil {
				continue // directories without a named package.json are not packages
			}
			packages = append(packages, pkg)
		}
	}
	return packages, nil
}

// expandWorkspacePattern expands a workspace glob to the directories it matches.
// Patterns may use any doublestar syntax ("packages/*", "libs/**", "apps/{web,api}").
func expandWorkspacePattern(fsys fs.FileSystem, rootDir, pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "./")
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}

	if !strings.ContainsAny(pattern, "*?[{") {
		full := filepath.Join(rootDir, filepath.FromSlash(pattern))
		if fsys.IsDir(full) {
			return []string{full}, nil
		}
		return nil, nil
	}

	base, _ := doublestar.SplitPattern(pattern)
	var dirs []string
	var walk func(rel string, depth int)
	walk = func(rel string, depth int) {
		entries, err := fsys.ReadDir(filepath.Join(rootDir, filepath.FromSlash(rel)))
		if err != nil {
			return
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name() == "node_modules" || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			child := entry.Name()
			if rel != "." {
				child = rel + "/" + child
			}
			if ok, _ := doublestar.Match(pattern, child); ok {
				dirs = append(dirs, filepath.Join(rootDir, filepath.FromSlash(child)))
			}
			if depth < 8 {
				walk(child, depth+1)
			}
		}
	}
	walk(base, 0)
	return dirs, nil
}

// parseWorkspacePackage reads a package.json from a directory and returns
// a WorkspacePackage with its name and path.
func parseWorkspacePackage(fsys fs.FileSystem, dir string) (WorkspacePackage, error) {
	pkg, err := packagejson.ParseFile(fsys, filepath.Join(dir, "package.json"))
	if err != nil {
		return WorkspacePackage{}, err
	}
	if pkg.Name == "" {
		return WorkspacePackage{}, fmt.Errorf("package at %s has no name", dir)
	}
	return WorkspacePackage{Name: pkg.Name, Path: dir}, nil
}
