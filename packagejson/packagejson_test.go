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
package packagejson_test

import (
	"errors"
	"testing"

	"bennypowers.dev/graft/packagejson"
	"bennypowers.dev/graft/testutil"
)

func mustParse(t *testing.T, data string) *packagejson.PackageJSON {
	t.Helper()
	pkg, err := packagejson.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return pkg
}

func TestParseFile(t *testing.T) {
	mfs := testutil.NewFixtureFS(t, "projects/packages", "/test")

	pkg, err := packagejson.ParseFile(mfs, "/test/node_modules/lit/package.json")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if pkg.Name != "lit" {
		t.Errorf("Expected package name 'lit', got %q", pkg.Name)
	}
}

func TestResolveExport(t *testing.T) {
	tests := []struct {
		name       string
		pkg        string
		subpath    string
		conditions []string
		want       string
		wantErr    error
	}{
		{
			name:    "string export",
			pkg:     `{"name":"a","exports":"./index.js"}`,
			subpath: ".",
			want:    "index.js",
		},
		{
			name:    "string export rejects subpaths",
			pkg:     `{"name":"a","exports":"./index.js"}`,
			subpath: "./other.js",
			wantErr: packagejson.ErrNotExported,
		},
		{
			name:    "subpath map",
			pkg:     `{"name":"a","exports":{".":"./index.js","./button":"./button/button.js"}}`,
			subpath: "./button",
			want:    "button/button.js",
		},
		{
			name:    "condition only map",
			pkg:     `{"name":"a","exports":{"import":"./esm.js","require":"./cjs.js"}}`,
			subpath: ".",
			want:    "esm.js",
		},
		{
			name:       "require condition",
			pkg:        `{"name":"a","exports":{"import":"./esm.js","require":"./cjs.js"}}`,
			subpath:    ".",
			conditions: []string{"require", "default"},
			want:       "cjs.js",
		},
		{
			name:    "nested conditions",
			pkg:     `{"name":"a","exports":{".":{"browser":{"import":"./b.mjs"},"default":"./d.js"}}}`,
			subpath: ".",
			want:    "b.mjs",
		},
		{
			name:    "wildcard",
			pkg:     `{"name":"a","exports":{"./*":"./dist/*.js"}}`,
			subpath: "./utils/format",
			want:    "dist/utils/format.js",
		},
		{
			name:    "longest wildcard prefix wins",
			pkg:     `{"name":"a","exports":{"./*":"./dist/*","./icons/*":"./svg/*.svg"}}`,
			subpath: "./icons/star",
			want:    "svg/star.svg",
		},
		{
			name:    "null blocks subpath",
			pkg:     `{"name":"a","exports":{"./*":"./dist/*","./internal/*":null}}`,
			subpath: "./internal/secret",
			wantErr: packagejson.ErrNotExported,
		},
		{
			name:    "fallback array",
			pkg:     `{"name":"a","exports":{".":[{"worker":"./w.js"},"./main.js"]}}`,
			subpath: ".",
			want:    "main.js",
		},
		{
			name:    "module field without exports",
			pkg:     `{"name":"a","main":"./cjs.js","module":"./esm.js"}`,
			subpath: ".",
			want:    "esm.js",
		},
		{
			name:    "browser field without exports",
			pkg:     `{"name":"a","main":"./cjs.js","browser":"./browser.js"}`,
			subpath: ".",
			want:    "browser.js",
		},
		{
			name:    "no entry",
			pkg:     `{"name":"a"}`,
			subpath: ".",
			wantErr: packagejson.ErrNotExported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := mustParse(t, tt.pkg)
			var opts *packagejson.ResolveOptions
			if tt.conditions != nil {
				opts = &packagejson.ResolveOptions{Conditions: tt.conditions}
			}
			got, err := pkg.ResolveExport(tt.subpath, opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected error %v, got %v (resolved %q)", tt.wantErr, err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveExport(%q) failed: %v", tt.subpath, err)
			}
			if got != tt.want {
				t.Errorf("ResolveExport(%q) = %q, want %q", tt.subpath, got, tt.want)
			}
		})
	}
}

func TestResolveImport(t *testing.T) {
	pkg := mustParse(t, `{
		"name": "app",
		"imports": {
			"#internal/*": "./src/internal/*.js",
			"#dep": "lit",
			"#env": {"browser": "./env-browser.js", "default": "./env-node.js"}
		}
	}`)

	tests := []struct {
		specifier string
		want      string
		isPath    bool
	}{
		{"#internal/util", "src/internal/util.js", true},
		{"#dep", "lit", false},
		{"#env", "env-browser.js", true},
	}

	for _, tt := range tests {
		t.Run(tt.specifier, func(t *testing.T) {
			got, isPath, err := pkg.ResolveImport(tt.specifier, nil)
			if err != nil {
				t.Fatalf("ResolveImport failed: %v", err)
			}
			if got != tt.want || isPath != tt.isPath {
				t.Errorf("ResolveImport(%q) = (%q, %v), want (%q, %v)", tt.specifier, got, isPath, tt.want, tt.isPath)
			}
		})
	}

	if _, _, err := pkg.ResolveImport("#missing", nil); !errors.Is(err, packagejson.ErrNotImported) {
		t.Errorf("Expected ErrNotImported, got %v", err)
	}
}

func TestSideEffects(t *testing.T) {
	tests := []struct {
		name      string
		pkg       string
		file      string
		wantHas   bool
		wantKnown bool
	}{
		{"undeclared", `{"name":"a"}`, "index.js", false, false},
		{"false", `{"name":"a","sideEffects":false}`, "index.js", false, true},
		{"true", `{"name":"a","sideEffects":true}`, "index.js", true, true},
		{"glob match", `{"name":"a","sideEffects":["./src/polyfill.js"]}`, "src/polyfill.js", true, true},
		{"glob miss", `{"name":"a","sideEffects":["./src/polyfill.js"]}`, "src/pure.js", false, true},
		{"basename pattern", `{"name":"a","sideEffects":["*.css"]}`, "styles/theme.css", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := mustParse(t, tt.pkg)
			has, known := pkg.SideEffects(tt.file)
			if has != tt.wantHas || known != tt.wantKnown {
				t.Errorf("SideEffects(%q) = (%v, %v), want (%v, %v)", tt.file, has, known, tt.wantHas, tt.wantKnown)
			}
		})
	}
}

func TestWorkspacePatterns(t *testing.T) {
	tests := []struct {
		name string
		pkg  string
		want int
	}{
		{"array", `{"name":"root","workspaces":["packages/*","apps/*"]}`, 2},
		{"object", `{"name":"root","workspaces":{"packages":["libs/*"]}}`, 1},
		{"none", `{"name":"root"}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := mustParse(t, tt.pkg)
			if got := len(pkg.WorkspacePatterns()); got != tt.want {
				t.Errorf("Expected %d patterns, got %d", tt.want, got)
			}
			if pkg.HasWorkspaces() != (tt.want > 0) {
				t.Errorf("HasWorkspaces() = %v", pkg.HasWorkspaces())
			}
		})
	}
}
