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
	"path/filepath"
	"sync"

	"bennypowers.dev/graft/packagejson"
)

// revisionState holds filesystem observations valid for one build revision.
type revisionState struct {
	revision uint64
	files    sync.Map // path -> bool
	dirs     sync.Map // path -> bool
	nearest  sync.Map // dir -> nearestPackage

	workspaceOnce sync.Once
	workspace     map[string]string
}

type nearestPackage struct {
	dir string
	pkg *packagejson.PackageJSON
}

func newRevisionState(revision uint64) *revisionState {
	return &revisionState{revision: revision}
}

func (r *Resolver) isFile(p string) bool {
	st := r.state.Load()
	if v, ok := st.files.Load(p); ok {
		return v.(bool)
	}
	ok := r.fs.Exists(p) && !r.fs.IsDir(p)
	st.files.Store(p, ok)
	return ok
}

func (r *Resolver) isDir(p string) bool {
	st := r.state.Load()
	if v, ok := st.dirs.Load(p); ok {
		return v.(bool)
	}
	ok := r.fs.IsDir(p)
	st.dirs.Store(p, ok)
	return ok
}

func (r *Resolver) loadPackage(p string) (*packagejson.PackageJSON, error) {
	return r.packages.GetOrLoad(p, func() (*packagejson.PackageJSON, error) {
		return packagejson.ParseFile(r.fs, p)
	})
}

// nearestPackage walks up from dir to the closest package.json.
func (r *Resolver) nearestPackage(dir string) (string, *packagejson.PackageJSON) {
	st := r.state.Load()
	if v, ok := st.nearest.Load(dir); ok {
		n := v.(nearestPackage)
		return n.dir, n.pkg
	}

	var found nearestPackage
	for cur := dir; ; {
		candidate := filepath.Join(cur, "package.json")
		if r.isFile(candidate) {
			if pkg, err := r.loadPackage(candidate); err == nil {
				found = nearestPackage{dir: cur, pkg: pkg}
				break
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	st.nearest.Store(dir, found)
	return found.dir, found.pkg
}

// workspacePackages maps workspace package names to their directories.
func (r *Resolver) workspacePackages() map[string]string {
	st := r.state.Load()
	st.workspaceOnce.Do(func() {
		st.workspace = make(map[string]string)
		if r.opts.Root == "" {
			return
		}
		pkgs, err := DiscoverWorkspacePackages(r.fs, r.opts.Root)
		if err != nil {
			r.logger.Debug("No workspaces", "root", r.opts.Root, "err", err)
			return
		}
		for _, p := range pkgs {
			st.workspace[p.Name] = p.Path
		}
	})
	return st.workspace
}
