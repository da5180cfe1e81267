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
package chunk

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Template is a chunk filename template with variable placeholders.
// Supported variables:
//   - {name} - Chunk name (entry name, or the id for unnamed chunks)
//   - {id} - Chunk id
//   - {hash} - Content hash of the chunk's module outputs
//   - {hash:N} - The first N characters of the content hash
type Template struct {
	pattern   string
	variables []string
}

var variablePattern = regexp.MustCompile(`\{(\w+)(?::(\d+))?\}`)

// DefaultTemplate names chunks after their name and id.
const DefaultTemplate = "{name}.{id}.js"

// ParseTemplate parses a filename template pattern.
func ParseTemplate(pattern string) (*Template, error) {
	if pattern == "" {
		return nil, fmt.Errorf("template pattern cannot be empty")
	}

	var variables []string
	for _, match := range variablePattern.FindAllStringSubmatch(pattern, -1) {
		switch match[1] {
		case "name", "id", "hash":
		default:
			return nil, fmt.Errorf("unknown template variable: {%s}", match[1])
		}
		if match[2] != "" && match[1] != "hash" {
			return nil, fmt.Errorf("only {hash} accepts a length: %s", match[0])
		}
		variables = append(variables, match[1])
	}
	if strings.ContainsAny(variablePattern.ReplaceAllString(pattern, ""), "{}") {
		return nil, fmt.Errorf("malformed template: %s", pattern)
	}

	return &Template{
		pattern:   pattern,
		variables: variables,
	}, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(pattern string) *Template {
	t, err := ParseTemplate(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

// Expand substitutes the chunk's name, id and hash.
func (t *Template) Expand(name, id, hash string) string {
	return variablePattern.ReplaceAllStringFunc(t.pattern, func(m string) string {
		sub := variablePattern.FindStringSubmatch(m)
		switch sub[1] {
		case "name":
			return name
		case "id":
			return id
		default:
			if n, err := strconv.Atoi(sub[2]); err == nil && n < len(hash) {
				return hash[:n]
			}
			return hash
		}
	})
}

// Pattern returns the original template pattern.
func (t *Template) Pattern() string {
	return t.pattern
}

// Variables returns the list of variables used in the template.
func (t *Template) Variables() []string {
	return t.variables
}

// HasHash reports whether filenames change with chunk content, which is
// what long-term caching needs.
func (t *Template) HasHash() bool {
	return slices.Contains(t.variables, "hash")
}
