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

// Package scan extracts declared dependencies from JavaScript, TypeScript
// and HTML sources with tree-sitter.
package scan

import (
	"embed"
	"fmt"
	"path"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsHtml "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/*/*.scm
var queryFiles embed.FS

// Language selects a grammar.
type Language string

const (
	HTML       Language = "html"
	TypeScript Language = "typescript"
	TSX        Language = "tsx"
)

// queryDir maps a language to its query directory. TSX shares the
// TypeScript queries.
func (l Language) queryDir() string {
	if l == TSX {
		return string(TypeScript)
	}
	return string(l)
}

var languages = map[Language]*ts.Language{
	HTML:       ts.NewLanguage(tsHtml.Language()),
	TypeScript: ts.NewLanguage(tsTypescript.LanguageTypescript()),
	TSX:        ts.NewLanguage(tsTypescript.LanguageTSX()),
}

var parserPools = map[Language]*sync.Pool{
	HTML:       newParserPool(HTML),
	TypeScript: newParserPool(TypeScript),
	TSX:        newParserPool(TSX),
}

func newParserPool(lang Language) *sync.Pool {
	return &sync.Pool{
		New: func() any {
			parser := ts.NewParser()
			if err := parser.SetLanguage(languages[lang]); err != nil {
				panic("failed to set " + string(lang) + " language: " + err.Error())
			}
			return parser
		},
	}
}

func getParser(lang Language) *ts.Parser {
	return parserPools[lang].Get().(*ts.Parser)
}

func putParser(lang Language, p *ts.Parser) {
	p.Reset()
	parserPools[lang].Put(p)
}

// QueryManager owns compiled tree-sitter queries.
type QueryManager struct {
	mu      sync.Mutex
	closed  bool
	queries map[Language]map[string]*ts.Query
}

// NewQueryManager compiles the named queries for each language.
func NewQueryManager(names map[Language][]string) (*QueryManager, error) {
	qm := &QueryManager{queries: make(map[Language]map[string]*ts.Query)}
	for lang, list := range names {
		for _, name := range list {
			if err := qm.loadQuery(lang, name); err != nil {
				qm.Close()
				return nil, err
			}
		}
	}
	return qm, nil
}

func (qm *QueryManager) loadQuery(lang Language, name string) error {
	grammar, ok := languages[lang]
	if !ok {
		return fmt.Errorf("unknown language: %s", lang)
	}
	queryPath := path.Join("queries", lang.queryDir(), name+".scm")
	data, err := queryFiles.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("failed to read query %s: %w", queryPath, err)
	}
	query, qerr := ts.NewQuery(grammar, string(data))
	if qerr != nil {
		return fmt.Errorf("failed to parse query %s/%s: %w", lang, name, qerr)
	}
	if qm.queries[lang] == nil {
		qm.queries[lang] = make(map[string]*ts.Query)
	}
	qm.queries[lang][name] = query
	return nil
}

// Close releases all query resources. Safe to call multiple times.
func (qm *QueryManager) Close() {
	qm.mu.Lock()
	if qm.closed {
		qm.mu.Unlock()
		return
	}
	qm.closed = true
	queries := qm.queries
	qm.queries = nil
	qm.mu.Unlock()

	for _, byName := range queries {
		for _, q := range byName {
			q.Close()
		}
	}
}

// Query returns a compiled query.
func (qm *QueryManager) Query(lang Language, name string) (*ts.Query, error) {
	q, ok := qm.queries[lang][name]
	if !ok {
		return nil, fmt.Errorf("query not found: %s/%s", lang, name)
	}
	return q, nil
}

var (
	globalQM     *QueryManager
	globalQMOnce sync.Once
	globalQMErr  error
)

// GetQueryManager returns the shared query manager.
func GetQueryManager() (*QueryManager, error) {
	globalQMOnce.Do(func() {
		globalQM, globalQMErr = NewQueryManager(map[Language][]string{
			HTML:       {"scriptTags"},
			TypeScript: {"imports", "exports"},
			TSX:        {"imports", "exports"},
		})
	})
	return globalQM, globalQMErr
}
