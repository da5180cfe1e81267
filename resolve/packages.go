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
	"errors"
	"path/filepath"

	"bennypowers.dev/graft/packagejson"
)

// resolveBare resolves a package specifier: self-reference, then workspace
// packages, then node_modules directories walking up from dir.
func (r *Resolver) resolveBare(dir, specifier string, conditions []string) (string, error) {
	name, subpath := SplitSpecifier(specifier)
	opts := &packagejson.ResolveOptions{Conditions: conditions}

	if pkgDir, pkg := r.nearestPackage(dir); pkg != nil && pkg.Name == name && pkg.Exports != nil {
		return r.resolvePackageEntry(pkgDir, pkg, subpath, opts)
	}

	if wsDir, ok := r.workspacePackages()[name]; ok {
		if pkg, err := r.loadPackage(filepath.Join(wsDir, "package.json")); err == nil {
			return r.resolvePackageEntry(wsDir, pkg, subpath, opts)
		}
	}

	for cur := dir; ; {
		pkgDir := filepath.Join(cur, "node_modules", filepath.FromSlash(name))
		if r.isDir(pkgDir) {
			pkg, err := r.loadPackage(filepath.Join(pkgDir, "package.json"))
			if err != nil {
				// a directory without package.json is still addressable by path
				return r.resolveFile(filepath.Join(pkgDir, filepath.FromSlash(subpath)))
			}
			return r.resolvePackageEntry(pkgDir, pkg, subpath, opts)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "", &Error{Kind: NotFound}
}

// resolvePackageEntry maps a package subpath to a file. Exports targets must
// exist exactly; legacy main and deep imports are probed with extensions.
func (r *Resolver) resolvePackageEntry(pkgDir string, pkg *packagejson.PackageJSON, subpath string, opts *packagejson.ResolveOptions) (string, error) {
	if pkg.Exports != nil {
		target, err := pkg.ResolveExport(subpath, opts)
		if err != nil {
			return "", &Error{Kind: NotFound, Err: err}
		}
		full := filepath.Join(pkgDir, filepath.FromSlash(target))
		if !r.isFile(full) {
			return "", &Error{Kind: NotFound, Err: errors.New("exports target " + target + " does not exist")}
		}
		return full, nil
	}

	if subpath != "." {
		return r.resolveFile(filepath.Join(pkgDir, filepath.FromSlash(subpath)))
	}
	if main, err := pkg.ResolveExport(".", opts); err == nil {
		if found, err := r.resolveFile(filepath.Join(pkgDir, filepath.FromSlash(main))); err == nil || !IsNotFound(err) {
			return found, err
		}
	}
	for _, name := range r.opts.MainFiles {
		if found, err := r.probeExtensions(filepath.Join(pkgDir, name)); found != "" || err != nil {
			return found, err
		}
	}
	return "", &Error{Kind: NotFound}
}

// resolveImportsField resolves a "#" specifier through the nearest
// package.json imports field.
func (r *Resolver) resolveImportsField(dir, specifier string, conditions []string) (string, error) {
	pkgDir, pkg := r.nearestPackage(dir)
	if pkg == nil {
		return "", &Error{Kind: NotFound, Err: packagejson.ErrNotImported}
	}
	target, isPath, err := pkg.ResolveImport(specifier, &packagejson.ResolveOptions{Conditions: conditions})
	if err != nil {
		return "", &Error{Kind: NotFound, Err: err}
	}
	if !isPath {
		return r.resolveBare(pkgDir, target, conditions)
	}
	full := filepath.Join(pkgDir, filepath.FromSlash(target))
	if !r.isFile(full) {
		return "", &Error{Kind: NotFound, Err: errors.New("imports target " + target + " does not exist")}
	}
	return full, nil
}
