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
package build

import (
	"fmt"
	"path/filepath"
	"strings"

	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/packagejson"
	"bennypowers.dev/graft/resolve"
)

// IssueType classifies a dependency hygiene problem.
type IssueType int

const (
	// TransitiveDep indicates the package is in node_modules but not in dependencies.
	TransitiveDep IssueType = iota
	// DevDep indicates the package is a devDependency.
	DevDep
	// NotInstalled indicates the package is not found in node_modules.
	NotInstalled
)

func (t IssueType) String() string {
	switch t {
	case TransitiveDep:
		return "transitive dependency"
	case DevDep:
		return "devDependency"
	case NotInstalled:
		return "not installed"
	default:
		return "unknown"
	}
}

// ImportIssue is a bare import the project's package.json does not
// declare as a runtime dependency. It is reported as a warning.
type ImportIssue struct {
	Module    graph.Identity
	Line      int
	Specifier string
	Package   string
	IssueType IssueType
}

func (i *ImportIssue) Error() string {
	return fmt.Sprintf("%s:%d: %q imports %s (%s)", i.Module.Resource(), i.Line, i.Specifier, i.Package, i.IssueType)
}

// ValidateImports checks bare imports of project modules against pkg.
// Modules under node_modules and remote modules are skipped, as are
// self-references. Issues are ordered by module identity, then declaration.
func ValidateImports(g *graph.ModuleGraph, fsys fs.FileSystem, root string, pkg *packagejson.PackageJSON) []*ImportIssue {
	if pkg == nil {
		return nil
	}
	var issues []*ImportIssue
	for _, id := range g.Identities() {
		n := g.Node(id)
		if strings.Contains(n.Resource, "/node_modules/") || strings.Contains(n.Resource, "://") {
			continue
		}
		for _, dep := range n.Dependencies {
			if !resolve.IsBare(dep.Specifier) {
				continue
			}
			name, _ := resolve.SplitSpecifier(dep.Specifier)
			if name == pkg.Name {
				continue
			}
			if _, ok := pkg.Dependencies[name]; ok {
				continue
			}

			issue := &ImportIssue{
				Module:    id,
				Line:      dep.Line,
				Specifier: dep.Specifier,
				Package:   name,
			}
			switch {
			case hasKey(pkg.DevDependencies, name):
				issue.IssueType = DevDep
			case fsys.Exists(filepath.Join(root, "node_modules", name)):
				issue.IssueType = TransitiveDep
			default:
				issue.IssueType = NotInstalled
			}
			issues = append(issues, issue)
		}
	}
	return issues
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}
