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
package scan

import (
	"fmt"
	"slices"
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"

	"bennypowers.dev/graft/graph"
)

// Import is one dependency found in a script.
type Import struct {
	Specifier string
	Kind      graph.DependencyKind
	Category  graph.Category
	// Optional is set for requires inside a try block, whose failure the
	// module handles itself.
	Optional bool
	Line     int
}

// Module is what a scan learns about a script.
type Module struct {
	// Imports in source order.
	Imports []Import
	// Exports are the exported binding names, sorted. Star re-exports
	// appear as "*:<specifier>".
	Exports []string
	// HasSyntaxErrors is set when the parser had to recover.
	HasSyntaxErrors bool
}

// LanguageFor picks the grammar for a script path.
func LanguageFor(resource string) Language {
	if strings.HasSuffix(resource, ".tsx") || strings.HasSuffix(resource, ".jsx") {
		return TSX
	}
	return TypeScript
}

// ExtractImports parses a script and returns its imports and exports.
func ExtractImports(lang Language, content []byte) (*Module, error) {
	qm, err := GetQueryManager()
	if err != nil {
		return nil, err
	}

	parser := getParser(lang)
	defer putParser(lang, parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse content")
	}
	defer tree.Close()

	root := tree.RootNode()
	mod := &Module{HasSyntaxErrors: root.HasError()}

	imports, err := qm.Query(lang, "imports")
	if err != nil {
		return nil, err
	}
	mod.Imports = collectImports(imports, root, content)

	exports, err := qm.Query(lang, "exports")
	if err != nil {
		return nil, err
	}
	mod.Exports = collectExports(exports, root, content)

	return mod, nil
}

func collectImports(query *ts.Query, root *ts.Node, content []byte) []Import {
	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var imports []Import
	matches := cursor.Matches(query, root, content)
	captureNames := query.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		captured := make(map[string]ts.Node, len(match.Captures))
		for _, capture := range match.Captures {
			captured[captureNames[capture.Index]] = capture.Node
		}
		text := func(name string) string {
			n, ok := captured[name]
			if !ok {
				return ""
			}
			return n.Utf8Text(content)
		}
		line := func(name string) int {
			n := captured[name]
			return int(n.StartPosition().Row) + 1
		}

		switch {
		case text("import.spec") != "":
			imports = append(imports, Import{
				Specifier: text("import.spec"),
				Kind:      graph.Static,
				Category:  graph.ESM,
				Line:      line("import.spec"),
			})

		case text("reexport.spec") != "":
			imports = append(imports, Import{
				Specifier: text("reexport.spec"),
				Kind:      graph.Static,
				Category:  graph.ESM,
				Line:      line("reexport.spec"),
			})

		case text("dynamicImport.spec") != "":
			imports = append(imports, Import{
				Specifier: text("dynamicImport.spec"),
				Kind:      graph.Dynamic,
				Category:  graph.ESM,
				Line:      line("dynamicImport.spec"),
			})

		case text("call.fn") == "require" && text("call.spec") != "":
			call := captured["call"]
			imports = append(imports, Import{
				Specifier: text("call.spec"),
				Kind:      graph.Static,
				Category:  graph.CommonJS,
				Optional:  insideTry(&call),
				Line:      line("call.spec"),
			})

		case text("member.obj") == "require" && text("member.spec") != "":
			var kind graph.DependencyKind
			switch text("member.prop") {
			case "resolveWeak":
				kind = graph.Weak
			case "context":
				kind = graph.Context
			default:
				continue
			}
			imports = append(imports, Import{
				Specifier: text("member.spec"),
				Kind:      kind,
				Category:  graph.CommonJS,
				Line:      line("member.spec"),
			})
		}
	}

	slices.SortStableFunc(imports, func(a, b Import) int {
		return a.Line - b.Line
	})
	return imports
}

// insideTry reports whether n sits in a try block.
func insideTry(n *ts.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "try_statement":
			return true
		case "function_declaration", "arrow_function", "function_expression", "method_definition":
			return false
		}
	}
	return false
}

func collectExports(query *ts.Query, root *ts.Node, content []byte) []string {
	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	seen := make(map[string]bool)
	matches := cursor.Matches(query, root, content)
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		for _, capture := range match.Captures {
			for _, name := range exportedNames(&capture.Node, content) {
				seen[name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// exportedNames reads the bindings an export_statement exposes.
func exportedNames(stmt *ts.Node, content []byte) []string {
	var names []string

	for i := uint(0); i < stmt.ChildCount(); i++ {
		if child := stmt.Child(i); child != nil && child.Kind() == "default" {
			return []string{"default"}
		}
	}

	if decl := stmt.ChildByFieldName("declaration"); decl != nil {
		if name := decl.ChildByFieldName("name"); name != nil {
			return []string{name.Utf8Text(content)}
		}
		for i := uint(0); i < decl.NamedChildCount(); i++ {
			declarator := decl.NamedChild(i)
			if declarator == nil || declarator.Kind() != "variable_declarator" {
				continue
			}
			if name := declarator.ChildByFieldName("name"); name != nil {
				names = append(names, name.Utf8Text(content))
			}
		}
		return names
	}

	for i := uint(0); i < stmt.NamedChildCount(); i++ {
		child := stmt.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "export_clause":
			for j := uint(0); j < child.NamedChildCount(); j++ {
				spec := child.NamedChild(j)
				if spec == nil || spec.Kind() != "export_specifier" {
					continue
				}
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					names = append(names, alias.Utf8Text(content))
				} else if name := spec.ChildByFieldName("name"); name != nil {
					names = append(names, name.Utf8Text(content))
				}
			}
		case "namespace_export":
			names = append(names, child.Utf8Text(content))
		}
	}

	if len(names) == 0 {
		if source := stmt.ChildByFieldName("source"); source != nil {
			names = append(names, "*:"+strings.Trim(source.Utf8Text(content), `'"`))
		}
	}
	return names
}
