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
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"

	"bennypowers.dev/graft/graph"
)

// ScriptTag represents a <script> tag found in HTML.
type ScriptTag struct {
	Type    string   // The type attribute (e.g., "module")
	Src     string   // The src attribute (external script)
	Inline  bool     // True if script has inline content
	Content string   // The inline script content
	Line    int      // 1-indexed line of the tag
	Imports []Import // Imports found in inline content
}

// IsModule reports whether the script is an ES module.
func (s ScriptTag) IsModule() bool {
	return s.Type == "module"
}

// ExtractScripts parses HTML content and extracts all script tags.
func ExtractScripts(content []byte) ([]ScriptTag, error) {
	qm, err := GetQueryManager()
	if err != nil {
		return nil, err
	}

	parser := getParser(HTML)
	defer putParser(HTML, parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse content")
	}
	defer tree.Close()

	query, err := qm.Query(HTML, "scriptTags")
	if err != nil {
		return nil, err
	}

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var scripts []ScriptTag
	matches := cursor.Matches(query, tree.RootNode(), content)

	for {
		match := matches.Next()
		if match == nil {
			break
		}
		for _, capture := range match.Captures {
			script := readScript(&capture.Node, content)

			// Inline imports are best-effort; syntax errors are ignored.
			// Classic scripts can only load modules through import().
			if script.Inline {
				if mod, err := ExtractImports(TypeScript, []byte(script.Content)); err == nil {
					for _, imp := range mod.Imports {
						if script.IsModule() || imp.Kind == graph.Dynamic {
							imp.Line += script.Line - 1
							script.Imports = append(script.Imports, imp)
						}
					}
				}
			}
			scripts = append(scripts, script)
		}
	}

	return scripts, nil
}

func readScript(element *ts.Node, content []byte) ScriptTag {
	script := ScriptTag{Line: int(element.StartPosition().Row) + 1}

	for i := uint(0); i < element.NamedChildCount(); i++ {
		child := element.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "start_tag":
			for j := uint(0); j < child.NamedChildCount(); j++ {
				attr := child.NamedChild(j)
				if attr == nil || attr.Kind() != "attribute" {
					continue
				}
				name, value := readAttribute(attr, content)
				switch name {
				case "type":
					script.Type = value
				case "src":
					script.Src = value
				}
			}
		case "raw_text":
			raw := strings.TrimSpace(child.Utf8Text(content))
			if raw != "" && script.Src == "" {
				script.Content = raw
				script.Inline = true
			}
		}
	}
	return script
}

func readAttribute(attr *ts.Node, content []byte) (name, value string) {
	for i := uint(0); i < attr.NamedChildCount(); i++ {
		child := attr.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "attribute_name":
			name = strings.ToLower(child.Utf8Text(content))
		case "attribute_value":
			value = child.Utf8Text(content)
		case "quoted_attribute_value":
			value = strings.Trim(child.Utf8Text(content), `"'`)
		}
	}
	return name, value
}
