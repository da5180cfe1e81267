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
	"context"
	"strconv"
	"strings"

	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/loader"
)

// Scripts is the loader step that declares the dependencies of a script.
// With Strict set, sources the parser cannot read cleanly fail the chain.
type Scripts struct {
	Strict bool
}

func (Scripts) Name() string { return "scan" }

func (s Scripts) Fingerprint() string {
	return "strict=" + strconv.FormatBool(s.Strict)
}

func (s Scripts) Transform(ctx context.Context, lc *loader.Context) error {
	mod, err := ExtractImports(LanguageFor(lc.Resource), lc.Content)
	if err != nil {
		return err
	}
	if s.Strict && mod.HasSyntaxErrors {
		return &loader.Error{Step: "scan", Message: "syntax error in " + lc.Resource}
	}
	for _, imp := range mod.Imports {
		lc.AddDependency(imp.Specifier, imp.Kind, imp.Category, imp.Optional, imp.Line)
	}
	lc.SetMeta("exports", strings.Join(mod.Exports, ","))
	return ctx.Err()
}

// Pages is the loader step for HTML entry files. Module scripts become
// static dependencies; classic scripts contribute only their import() calls.
type Pages struct{}

func (Pages) Name() string { return "html" }

func (Pages) Transform(ctx context.Context, lc *loader.Context) error {
	scripts, err := ExtractScripts(lc.Content)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if script.IsModule() && script.Src != "" {
			lc.AddDependency(pageRelative(script.Src), graph.Static, graph.ESM, false, script.Line)
		}
		for _, imp := range script.Imports {
			lc.AddDependency(imp.Specifier, imp.Kind, imp.Category, imp.Optional, imp.Line)
		}
	}
	lc.SetMeta("type", "html")
	return ctx.Err()
}

// pageRelative turns an HTML src into a module specifier. Plain names in
// HTML are document-relative, not package names.
func pageRelative(src string) string {
	switch {
	case strings.HasPrefix(src, "./"), strings.HasPrefix(src, "../"), strings.HasPrefix(src, "/"),
		strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return src
	default:
		return "./" + src
	}
}

// DefaultChains are the reference chains: scripts are scanned, JSON is
// validated, HTML pages expand to their module scripts and everything
// else passes through.
func DefaultChains() []loader.Chain {
	return []loader.Chain{
		{Name: loader.FallbackChain, Steps: []loader.Step{Scripts{}}},
		{Name: "json", Steps: []loader.Step{loader.JSON{}}},
		{Name: "html", Steps: []loader.Step{Pages{}}},
		{Name: "asset", Steps: []loader.Step{loader.Raw{}}},
	}
}

// DefaultRules route resources to DefaultChains.
func DefaultRules() []loader.Rule {
	return []loader.Rule{
		{Pattern: "**/*.json", Chain: "json"},
		{Pattern: "**/*.{html,htm}", Chain: "html"},
		{Pattern: "**/*.{css,svg,png,jpg,jpeg,gif,webp,avif,woff,woff2,ttf,txt,wasm}", Chain: "asset"},
	}
}
