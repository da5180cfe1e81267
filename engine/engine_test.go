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
package engine_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bennypowers.dev/graft/build"
	"bennypowers.dev/graft/chunk"
	"bennypowers.dev/graft/engine"
	"bennypowers.dev/graft/graph"
	"bennypowers.dev/graft/internal/mapfs"
	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/lazy"
	"bennypowers.dev/graft/loader"
	"bennypowers.dev/graft/loader/scan"
	"bennypowers.dev/graft/resolve"
	"bennypowers.dev/graft/revision"
)

func id(resource string) graph.Identity {
	return graph.NewIdentity(loader.FallbackChain, resource, "")
}

func config(entries ...string) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Root = "/app"
	cfg.Entries = nil
	for _, e := range entries {
		name, spec, _ := strings.Cut(e, "=")
		cfg.Entries = append(cfg.Entries, build.Entry{Name: name, Specifier: spec})
	}
	return cfg
}

type runCounter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *runCounter) get(resource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[resource]
}

func (c *runCounter) step() loader.Step {
	return loader.StepFunc{StepName: "count", Func: func(_ context.Context, lc *loader.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.n[lc.Resource]++
		return nil
	}}
}

type fixture struct {
	// files mirrors fs so a fresh fixture can start from the same state.
	files map[string]string
	fs    *mapfs.MapFileSystem
	c     *engine.Compiler
	runs  *runCounter
}

func newFixture(t *testing.T, files map[string]string, cfg engine.Config) *fixture {
	t.Helper()
	return newFixtureWith(t, files, cfg, engine.Options{})
}

// newFixtureWith fills in the filesystem and counting chains of opts.
func newFixtureWith(t *testing.T, files map[string]string, cfg engine.Config, opts engine.Options) *fixture {
	t.Helper()
	fsys := mapfs.Files(files)
	runs := &runCounter{n: make(map[string]int)}
	chains := scan.DefaultChains()
	chains[0].Steps = append([]loader.Step{runs.step()}, chains[0].Steps...)
	opts.FS = fsys
	opts.Chains = chains
	opts.Rules = scan.DefaultRules()
	c, err := engine.New(cfg, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return &fixture{files: maps.Clone(files), fs: fsys, c: c, runs: runs}
}

func (f *fixture) build(t *testing.T) *revision.Compilation {
	t.Helper()
	comp, err := f.c.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return comp
}

func (f *fixture) rebuild(t *testing.T, changes ...invalidate.Change) *revision.Compilation {
	t.Helper()
	comp, err := f.c.Rebuild(context.Background(), changes)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	return comp
}

func (f *fixture) write(t *testing.T, path, content string) invalidate.Change {
	t.Helper()
	op := invalidate.Changed
	if !f.fs.Exists(path) {
		op = invalidate.Added
	}
	if err := f.fs.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	f.files[path] = content
	return invalidate.Change{Path: path, Op: op}
}

func (f *fixture) remove(t *testing.T, path string) invalidate.Change {
	t.Helper()
	if err := f.fs.Remove(path); err != nil {
		t.Fatal(err)
	}
	delete(f.files, path)
	return invalidate.Change{Path: path, Op: invalidate.Removed}
}

func chunkOf(t *testing.T, comp *revision.Compilation, root string) *chunk.Chunk {
	t.Helper()
	for _, c := range comp.Chunks.Chunks {
		if c.Root == id(root) {
			return c
		}
	}
	t.Fatalf("No chunk rooted at %s", root)
	return nil
}

func modules(resources ...string) []graph.Identity {
	out := make([]graph.Identity, len(resources))
	for i, r := range resources {
		out[i] = id(r)
	}
	return out
}

var scenarioA = map[string]string{
	"/app/src/main.js": "import { a } from './a.js';\nconsole.log(a);\n",
	"/app/src/a.js":    "export const a = 1;\nexport const load = () => import('./b.js');\n",
	"/app/src/b.js":    "export default 'b';\n",
}

func TestScenarioInitialChunks(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	comp := f.build(t)

	if len(comp.Errors) != 0 {
		t.Fatalf("Unexpected errors: %v", comp.Errors)
	}
	if comp.Chunks.Len() != 2 {
		t.Fatalf("Expected 2 chunks, got %d", comp.Chunks.Len())
	}
	main := comp.Chunks.Entry("main")
	if diff := cmp.Diff(modules("/app/src/main.js", "/app/src/a.js"), main.Modules); diff != "" {
		t.Errorf("Entry chunk mismatch (-want +got):\n%s", diff)
	}
	b := chunkOf(t, comp, "/app/src/b.js")
	if diff := cmp.Diff(modules("/app/src/b.js"), b.Modules); diff != "" {
		t.Errorf("Async chunk mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{b.ID}, main.Children); diff != "" {
		t.Errorf("Children mismatch (-want +got):\n%s", diff)
	}
	if comp.Revision != 1 || f.c.Current() != comp {
		t.Errorf("Expected revision 1 to be current, got %d", comp.Revision)
	}
}

func TestScenarioContentChange(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	first := f.build(t)
	bID := chunkOf(t, first, "/app/src/b.js").ID

	change := f.write(t, "/app/src/a.js", "export const a = 2;\nexport const load = () => import('./b.js');\n")
	second := f.rebuild(t, change)

	if diff := cmp.Diff(modules("/app/src/a.js"), second.Invalidated); diff != "" {
		t.Errorf("Invalidated mismatch (-want +got):\n%s", diff)
	}
	if got := chunkOf(t, second, "/app/src/b.js").ID; got != bID {
		t.Errorf("Expected b's chunk id %s to be kept, got %s", bID, got)
	}
	m := revision.Diff(first, second)
	want := revision.ModuleChanges{
		Added:   []graph.Identity{},
		Removed: []graph.Identity{},
		Changed: modules("/app/src/a.js"),
	}
	if diff := cmp.Diff(want, m.Modules); diff != "" {
		t.Errorf("Module changes mismatch (-want +got):\n%s", diff)
	}
	if len(m.Chunks.Added)+len(m.Chunks.Removed)+len(m.Chunks.Changed) != 0 {
		t.Errorf("Expected no chunk changes, got %+v", m.Chunks)
	}
	if f.runs.get("/app/src/main.js") != 1 {
		t.Errorf("Expected main to be built once, got %d", f.runs.get("/app/src/main.js"))
	}
}

func TestScenarioDeletedDependency(t *testing.T) {
	files := map[string]string{
		"/app/src/main.js": "import './x.js';\nimport './y.js';\n",
		"/app/src/x.js":    "export const x = 1;\n",
		"/app/src/y.js":    "import './z.js';\n",
		"/app/src/z.js":    "export const z = 1;\n",
	}
	f := newFixture(t, files, config("main=./src/main.js"))
	f.build(t)

	comp := f.rebuild(t, f.remove(t, "/app/src/x.js"))

	if len(comp.Errors) == 0 {
		t.Fatal("Expected errors after deleting x")
	}
	var modErr *graph.ModuleError
	if !errors.As(comp.Errors[0], &modErr) {
		t.Fatalf("Expected a ModuleError, got %T", comp.Errors[0])
	}
	if modErr.Identity != id("/app/src/main.js") || modErr.Specifier != "./x.js" {
		t.Errorf("Unexpected error location: %v", modErr)
	}
	if !resolve.IsNotFound(modErr) {
		t.Errorf("Expected a NotFound resolution error, got %v", modErr.Err)
	}
	main := comp.Chunks.Entry("main")
	if main == nil || main.Failed {
		t.Fatal("Expected main's chunk to be emitted")
	}
	if diff := cmp.Diff(modules("/app/src/main.js", "/app/src/y.js", "/app/src/z.js"), main.Modules); diff != "" {
		t.Errorf("Degraded chunk mismatch (-want +got):\n%s", diff)
	}
	if comp.Graph.Has(id("/app/src/x.js")) {
		t.Error("Expected x to leave the graph")
	}
}

func TestScenarioSharedChunk(t *testing.T) {
	big := "export const s = `" + strings.Repeat("s", 256) + "`;\n"
	files := map[string]string{
		"/app/src/e1.js":    "import './s.js';\nimport './small.js';\n",
		"/app/src/e2.js":    "import './s.js';\nimport './small.js';\n",
		"/app/src/s.js":     big,
		"/app/src/small.js": "export const t = 1;\n",
	}
	cfg := config("e1=./src/e1.js", "e2=./src/e2.js")
	cfg.Split = chunk.SplitPolicy{MinChunks: 2, MinSize: 100}
	f := newFixture(t, files, cfg)
	comp := f.build(t)

	var shared *chunk.Chunk
	for _, c := range comp.Chunks.Chunks {
		if c.Kind == chunk.SharedChunk {
			shared = c
		}
	}
	if shared == nil {
		t.Fatal("Expected a shared chunk")
	}
	if diff := cmp.Diff(modules("/app/src/s.js"), shared.Modules); diff != "" {
		t.Errorf("Shared chunk mismatch (-want +got):\n%s", diff)
	}
	for _, name := range []string{"e1", "e2"} {
		e := comp.Chunks.Entry(name)
		if !slices.Contains(e.Requires, shared.ID) {
			t.Errorf("Expected %s to require the shared chunk", name)
		}
		if slices.Contains(e.Modules, id("/app/src/s.js")) {
			t.Errorf("Expected s to leave %s", name)
		}
		if !slices.Contains(e.Modules, id("/app/src/small.js")) {
			t.Errorf("Expected small to stay in %s", name)
		}
	}
}

var lazyProject = map[string]string{
	"/app/src/main.js": "import './util.js';\nconst z = () => import('./z.js');\n",
	"/app/src/util.js": "export const u = 1;\n",
	"/app/src/z.js":    "export default 'z';\n",
}

func lazyConfig() engine.Config {
	cfg := config("main=./src/main.js")
	cfg.Lazy = lazy.Policy{Imports: true}
	return cfg
}

func TestScenarioLazyModule(t *testing.T) {
	f := newFixture(t, lazyProject, lazyConfig())
	first := f.build(t)

	z := first.Graph.Node(id("/app/src/z.js"))
	if z == nil || !z.IsStub() || z.State != graph.Unbuilt {
		t.Fatalf("Expected z to be an unbuilt stub, got %+v", z)
	}
	if !strings.HasPrefix(z.LazyHook, lazy.HookPrefix) {
		t.Errorf("Unexpected lazy hook %q", z.LazyHook)
	}
	if got := first.Chunks.ChunksFor(id("/app/src/z.js")); len(got) != 0 {
		t.Errorf("Expected no chunk for z, got %v", got)
	}
	if f.runs.get("/app/src/z.js") != 0 {
		t.Error("Expected z not to be built")
	}

	patch, err := f.c.Trigger(context.Background(), z.LazyHook)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	m := patch.Manifest
	if diff := cmp.Diff(modules("/app/src/z.js"), m.Modules.Added); diff != "" {
		t.Errorf("Added mismatch (-want +got):\n%s", diff)
	}
	if len(m.Modules.Changed)+len(m.Modules.Removed) != 0 {
		t.Errorf("Expected only z to change, got %+v", m.Modules)
	}
	if len(m.Chunks.Added) != 1 || len(m.Chunks.Removed)+len(m.Chunks.Changed) != 0 {
		t.Errorf("Expected one chunk update, got %+v", m.Chunks)
	}
	for _, c := range first.Chunks.Chunks {
		if patch.Compilation.Chunks.Chunk(c.ID) == nil {
			t.Errorf("Chunk %s lost its id", c.ID)
		}
	}
	if !patch.Compilation.Partial || patch.Compilation.Revision != 2 {
		t.Errorf("Expected partial revision 2, got partial=%v revision=%d", patch.Compilation.Partial, patch.Compilation.Revision)
	}
	if patch.Compilation.Entries["main"] != id("/app/src/main.js") {
		t.Error("Expected entries to carry over into the partial compilation")
	}
}

func TestTriggerConcurrentBuildsOnce(t *testing.T) {
	f := newFixture(t, lazyProject, lazyConfig())
	f.build(t)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if _, err := f.c.Trigger(context.Background(), string(id("/app/src/z.js"))); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()
	if n := f.runs.get("/app/src/z.js"); n != 1 {
		t.Errorf("Expected z to be built once, got %d", n)
	}
}

func TestTriggerUnknownModule(t *testing.T) {
	f := newFixture(t, lazyProject, lazyConfig())
	f.build(t)
	if _, err := f.c.Trigger(context.Background(), "default!/app/src/nope.js|"); !errors.Is(err, lazy.ErrUnknownModule) {
		t.Errorf("Expected ErrUnknownModule, got %v", err)
	}
}

func TestLazyStubSurvivesRebuild(t *testing.T) {
	f := newFixture(t, lazyProject, lazyConfig())
	f.build(t)
	comp := f.rebuild(t, f.write(t, "/app/src/util.js", "export const u = 2;\n"))
	if z := comp.Graph.Node(id("/app/src/z.js")); z == nil || !z.IsStub() {
		t.Errorf("Expected z to stay a stub, got %+v", z)
	}
}

func TestBuildIdempotent(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	first := f.build(t)
	second := f.build(t)

	if len(second.Built) != 0 {
		t.Errorf("Expected nothing to be built again, got %v", second.Built)
	}
	if !revision.Diff(first, second).Empty() {
		t.Errorf("Expected an empty diff, got %+v", revision.Diff(first, second))
	}
	for _, c := range first.Chunks.Chunks {
		if second.Chunks.Chunk(c.ID) != c {
			t.Errorf("Expected chunk %s to be shared", c.ID)
		}
	}
}

func TestBuildPicksUpUnreportedEdits(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	first := f.build(t)
	f.write(t, "/app/src/b.js", "export default 'b2';\n")

	second := f.build(t)
	if diff := cmp.Diff(modules("/app/src/b.js"), second.Built); diff != "" {
		t.Errorf("Expected only the edited module to rebuild (-want +got):\n%s", diff)
	}
	if changed := revision.Diff(first, second).Modules.Changed; !slices.Contains(changed, id("/app/src/b.js")) {
		t.Errorf("Expected new output for b.js, changed modules were %v", changed)
	}
}

func TestRebuildVerify(t *testing.T) {
	for _, verify := range []bool{false, true} {
		t.Run(fmt.Sprintf("verify=%v", verify), func(t *testing.T) {
			cfg := config("main=./src/main.js")
			cfg.Verify = verify
			f := newFixture(t, scenarioA, cfg)
			f.build(t)
			f.write(t, "/app/src/b.js", "export default 'b2';\n")

			comp := f.rebuild(t)
			rebuilt := slices.Contains(comp.Built, id("/app/src/b.js"))
			if rebuilt != verify {
				t.Errorf("Expected unreported edit rebuilt=%v, got %v", verify, rebuilt)
			}
		})
	}
}

func TestBuildDeterministicAcrossWorkers(t *testing.T) {
	files := map[string]string{
		"/app/src/main.js":   "import './a.js';\nimport './b.js';\nimport('./c.js');\nimport('./d.js');\n",
		"/app/src/a.js":      "import './shared.js';\n",
		"/app/src/b.js":      "import './shared.js';\nimport './a.js';\n",
		"/app/src/c.js":      "import './shared.js';\nimport './e.js';\n",
		"/app/src/d.js":      "import './e.js';\nimport('./c.js');\n",
		"/app/src/e.js":      "export const e = 1;\n",
		"/app/src/shared.js": "export const s = 1;\n",
	}
	var want []byte
	for _, workers := range []int{1, 2, 8} {
		cfg := config("main=./src/main.js")
		cfg.Workers = workers
		comp := newFixture(t, files, cfg).build(t)
		got, err := revision.Diff(nil, comp).JSON()
		if err != nil {
			t.Fatal(err)
		}
		if want == nil {
			want = got
			continue
		}
		if string(got) != string(want) {
			t.Errorf("Workers=%d manifest differs:\n%s\n%s", workers, got, want)
		}
	}
}

type nodeView struct {
	State     graph.BuildState
	Hash      string
	Interface string
	Targets   []graph.Identity
}

// chunkView leaves out ids: an incremental build may keep an async chunk's
// previous id where a fresh build derives a new one.
type chunkView struct {
	Kind    chunk.Kind
	Name    string
	Modules []graph.Identity
	Hash    string
	Failed  bool
}

func views(comp *revision.Compilation) (map[graph.Identity]nodeView, map[string]chunkView) {
	nodes := make(map[graph.Identity]nodeView)
	for _, nid := range comp.Graph.Identities() {
		n := comp.Graph.Node(nid)
		v := nodeView{State: n.State, Interface: n.Interface, Targets: n.Targets(nil)}
		if n.Output != nil {
			v.Hash = n.Output.Hash
		}
		nodes[nid] = v
	}
	chunks := make(map[string]chunkView)
	for _, c := range comp.Chunks.Chunks {
		v := chunkView{Kind: c.Kind, Modules: c.Modules, Hash: c.Hash, Failed: c.Failed}
		if c.Kind == chunk.EntryChunk {
			v.Name = c.Name
		}
		chunks[c.Kind.String()+":"+v.Name+":"+string(c.Root)] = v
	}
	return nodes, chunks
}

func TestIncrementalMatchesFromScratch(t *testing.T) {
	files := map[string]string{
		"/app/src/main.js": "import { a } from './a.js';\nimport './b.js';\nimport('./lazy.js');\n",
		"/app/src/a.js":    "export const a = 1;\n",
		"/app/src/b.js":    "import './gone.js';\nexport const b = 1;\n",
		"/app/src/gone.js": "export const g = 1;\n",
		"/app/src/lazy.js": "import { a } from './a.js';\n",
	}
	inc := newFixture(t, files, config("main=./src/main.js"))
	inc.build(t)

	changes := []invalidate.Change{
		inc.write(t, "/app/src/a.js", "import './fresh.js';\nexport const a = 1, extra = 2;\n"),
		inc.write(t, "/app/src/fresh.js", "export const f = 1;\n"),
		inc.write(t, "/app/src/b.js", "export const b = 2;\n"),
		inc.remove(t, "/app/src/gone.js"),
	}
	got := inc.rebuild(t, changes...)

	scratch := newFixture(t, inc.files, config("main=./src/main.js"))
	want := scratch.build(t)

	gotNodes, gotChunks := views(got)
	wantNodes, wantChunks := views(want)
	if diff := cmp.Diff(wantNodes, gotNodes); diff != "" {
		t.Errorf("Graph mismatch (-scratch +incremental):\n%s", diff)
	}
	if diff := cmp.Diff(wantChunks, gotChunks); diff != "" {
		t.Errorf("Chunk mismatch (-scratch +incremental):\n%s", diff)
	}
}

const randomPool = 6

func randomModulePath(k int) string {
	return fmt.Sprintf("/app/src/m%d.js", k)
}

// randomModule imports other pool modules through every edge kind and
// exports one of a few names, so edits change both edges and interfaces.
func randomModule(rng *rand.Rand, self int) string {
	var b strings.Builder
	for k := range randomPool {
		if k == self {
			continue
		}
		switch rng.IntN(8) {
		case 0, 1:
			fmt.Fprintf(&b, "import './m%d.js';\n", k)
		case 2:
			fmt.Fprintf(&b, "import('./m%d.js');\n", k)
		case 3:
			fmt.Fprintf(&b, "require.resolveWeak('./m%d.js');\n", k)
		}
	}
	if rng.IntN(3) == 0 {
		b.WriteString("import 'pkg';\n")
	}
	fmt.Fprintf(&b, "export const v%d = %d;\n", rng.IntN(3), rng.IntN(100))
	return b.String()
}

func randomProject(rng *rand.Rand) map[string]string {
	files := map[string]string{
		"/app/package.json":                  `{"name": "app", "dependencies": {"pkg": "1.0.0"}}`,
		"/app/src/main.js":                   "import './m0.js';\nimport('./m1.js');\n" + randomModule(rng, -1),
		"/app/node_modules/pkg/package.json": `{"name": "pkg", "main": "index.js"}`,
		"/app/node_modules/pkg/index.js":     "export const p = 1;\n",
		"/app/node_modules/pkg/alt.js":       "export const p = 2, q = 3;\n",
	}
	for k := range randomPool {
		files[randomModulePath(k)] = randomModule(rng, k)
	}
	return files
}

// randomBatch applies up to three edits to distinct paths: module edits,
// additions and deletions, a package entry switch, and a sideEffects flip.
func randomBatch(t *testing.T, rng *rand.Rand, f *fixture) []invalidate.Change {
	t.Helper()
	touched := make(map[string]bool)
	var changes []invalidate.Change
	for want := 1 + rng.IntN(3); len(changes) < want; {
		var path string
		op := rng.IntN(6)
		switch op {
		case 0, 1, 2:
			path = randomModulePath(rng.IntN(randomPool))
		case 3:
			path = "/app/src/main.js"
		case 4:
			path = "/app/node_modules/pkg/package.json"
		case 5:
			path = "/app/package.json"
		}
		if touched[path] {
			continue
		}
		touched[path] = true

		_, exists := f.files[path]
		switch {
		case op == 2 && exists:
			changes = append(changes, f.remove(t, path))
		case op <= 2:
			k := int(path[len("/app/src/m")] - '0')
			changes = append(changes, f.write(t, path, randomModule(rng, k)))
		case op == 3:
			main := "import './m0.js';\nimport('./m1.js');\n" + randomModule(rng, -1)
			changes = append(changes, f.write(t, path, main))
		case op == 4:
			entry := []string{"index.js", "alt.js"}[rng.IntN(2)]
			changes = append(changes, f.write(t, path, `{"name": "pkg", "main": "`+entry+`"}`))
		case op == 5:
			pkg := `{"name": "app", "dependencies": {"pkg": "1.0.0"}}`
			if rng.IntN(2) == 0 {
				pkg = `{"name": "app", "sideEffects": false, "dependencies": {"pkg": "1.0.0"}}`
			}
			changes = append(changes, f.write(t, path, pkg))
		}
	}
	return changes
}

func TestIncrementalMatchesFromScratchRandomized(t *testing.T) {
	const rounds = 4
	for _, propagation := range []invalidate.Propagation{invalidate.PropagateInterface, invalidate.PropagateEager} {
		for seed := range uint64(6) {
			t.Run(fmt.Sprintf("%s/seed=%d", propagation, seed), func(t *testing.T) {
				rng := rand.New(rand.NewPCG(seed, uint64(len(propagation))))
				cfg := config("main=./src/main.js")
				cfg.Invalidation.Propagation = propagation

				inc := newFixture(t, randomProject(rng), cfg)
				inc.build(t)
				for round := range rounds {
					changes := randomBatch(t, rng, inc)
					got := inc.rebuild(t, changes...)
					want := newFixture(t, inc.files, cfg).build(t)

					gotNodes, gotChunks := views(got)
					wantNodes, wantChunks := views(want)
					if diff := cmp.Diff(wantNodes, gotNodes); diff != "" {
						t.Fatalf("Round %d %v: graph mismatch (-scratch +incremental):\n%s", round, changes, diff)
					}
					if diff := cmp.Diff(wantChunks, gotChunks); diff != "" {
						t.Fatalf("Round %d %v: chunk mismatch (-scratch +incremental):\n%s", round, changes, diff)
					}
				}
			})
		}
	}
}

func TestUntrackedChangeIsWarning(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	f.build(t)
	comp := f.rebuild(t, invalidate.Change{Path: "/app/README.md", Op: invalidate.Changed})

	var note *invalidate.Error
	if len(comp.Warnings) == 0 || !errors.As(comp.Warnings[0], &note) {
		t.Fatalf("Expected an untracked path warning, got %v", comp.Warnings)
	}
	if len(comp.Built) != 0 {
		t.Errorf("Expected nothing rebuilt, got %v", comp.Built)
	}
}

func TestImportIssuesAreWarnings(t *testing.T) {
	files := map[string]string{
		"/app/package.json":                   `{"name": "app", "devDependencies": {"tool": "1.0.0"}}`,
		"/app/src/main.js":                    "import 'tool';\n",
		"/app/node_modules/tool/package.json": `{"name": "tool", "main": "index.js"}`,
		"/app/node_modules/tool/index.js":     "export default 1;\n",
	}
	f := newFixture(t, files, config("main=./src/main.js"))
	comp := f.build(t)

	var issue *build.ImportIssue
	if len(comp.Warnings) != 1 || !errors.As(comp.Warnings[0], &issue) {
		t.Fatalf("Expected one import issue, got %v", comp.Warnings)
	}
	if issue.IssueType != build.DevDep || issue.Package != "tool" {
		t.Errorf("Unexpected issue: %v", issue)
	}
}

func TestPersistentCacheAcrossCompilers(t *testing.T) {
	cfg := config("main=./src/main.js")
	cfg.CacheDir = t.TempDir()

	first := newFixture(t, scenarioA, cfg)
	if comp := first.build(t); len(comp.Built) != 3 {
		t.Fatalf("Expected 3 modules built, got %v", comp.Built)
	}
	if err := first.c.Close(); err != nil {
		t.Fatal(err)
	}

	second := newFixture(t, scenarioA, cfg)
	comp := second.build(t)
	if len(comp.Built) != 0 {
		t.Errorf("Expected every module from the cache, got %v", comp.Built)
	}
	if comp.Graph.Len() != 3 {
		t.Errorf("Expected 3 modules, got %d", comp.Graph.Len())
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	ch, cancel := f.c.Subscribe()
	defer cancel()

	comp := f.build(t)
	if got := <-ch; got != comp {
		t.Errorf("Expected revision %d, got %d", comp.Revision, got.Revision)
	}
}

func TestClosed(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	if err := f.c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.Build(context.Background()); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestCanceledBuildPublishesNothing(t *testing.T) {
	f := newFixture(t, scenarioA, config("main=./src/main.js"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.c.Build(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if f.c.Current() != nil {
		t.Error("Expected no compilation after a canceled build")
	}
	if comp := f.build(t); comp.Revision != 1 {
		t.Errorf("Expected revision 1 after the canceled build, got %d", comp.Revision)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := config("main=./a.js", "main=./b.js", "=./c.js")
	cfg.Filename = "{nope}.js"
	cfg.Invalidation.Propagation = "sideways"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	for _, want := range []string{"duplicate entry", "has no name", "sideways", "nope"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
	if err := engine.DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}
