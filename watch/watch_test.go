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
package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/watch"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want invalidate.Op
		ok   bool
	}{
		{fsnotify.Create, invalidate.Added, true},
		{fsnotify.Write, invalidate.Changed, true},
		{fsnotify.Remove, invalidate.Removed, true},
		{fsnotify.Rename, invalidate.Removed, true},
		{fsnotify.Chmod, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got, ok := watch.Translate(fsnotify.Event{Name: "/app/src/a.js", Op: tt.op})
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (got.Op != tt.want || got.Path != "/app/src/a.js") {
				t.Errorf("Translate() = %+v", got)
			}
		})
	}
}

func TestNewRejectsInvalidPattern(t *testing.T) {
	if _, err := watch.New(watch.Config{Root: t.TempDir(), Ignore: []string{"[oops"}}); err == nil {
		t.Error("Expected an error for an invalid ignore pattern")
	}
}

// waitFor reads batches until one contains path, failing on any change to
// a path containing forbidden.
func waitFor(t *testing.T, ch <-chan []invalidate.Change, path, forbidden string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				t.Fatal("Channel closed before change arrived")
			}
			for _, c := range batch {
				if forbidden != "" && strings.Contains(c.Path, forbidden) {
					t.Errorf("Unexpected change for ignored path %s", c.Path)
				}
				if c.Path == path {
					return
				}
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", path)
		}
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := watch.New(watch.Config{Root: dir, Ignore: []string{"**/*.tmp"}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []invalidate.Change, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, ch) }()

	if err := os.WriteFile(filepath.Join(dir, "src", "scratch.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "src", "a.js")
	if err := os.WriteFile(target, []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, filepath.ToSlash(target), "scratch.tmp")

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := watch.New(watch.Config{Root: dir})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan []invalidate.Change, 16)
	go func() { _ = w.Run(ctx, ch) }()

	sub := filepath.Join(dir, "lib")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	target := filepath.Join(sub, "b.js")
	if err := os.WriteFile(target, []byte("export {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, filepath.ToSlash(target), "")
}

func TestRunTwice(t *testing.T) {
	w, err := watch.New(watch.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, make(chan []invalidate.Change)); err != nil {
		t.Fatal(err)
	}
	if err := w.Run(ctx, make(chan []invalidate.Change)); err == nil {
		t.Error("Expected an error on the second Run")
	}
}
