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

// Package watch turns filesystem notifications into invalidation changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/invalidate"
)

var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/.cache/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Config configures a Watcher.
type Config struct {
	// Root is the directory to watch recursively.
	Root string
	// Ignore holds extra doublestar patterns, relative to Root.
	Ignore []string
	Logger logging.Logger
}

// Watcher watches a directory tree. Run may only be called once.
type Watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	ignores []string
	logger  logging.Logger
	started atomic.Bool
}

// New creates a watcher and registers every directory under cfg.Root that
// is not ignored.
func New(cfg Config) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	for _, pattern := range cfg.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pattern)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{
		fsw:     fsw,
		root:    root,
		ignores: append(append([]string(nil), defaultIgnores...), cfg.Ignore...),
		logger:  logging.OrDiscard(cfg.Logger),
	}
	if err := w.addTree(root); err != nil {
		return nil, errors.Join(err, fsw.Close())
	}
	return w, nil
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run sends batches of changes until ctx ends. Events already queued by the
// operating system are sent together. Run closes out when it returns.
func (w *Watcher) Run(ctx context.Context, out chan<- []invalidate.Change) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}
	defer close(out)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			batch := w.collect(nil, evt)
		drain:
			for {
				select {
				case evt, ok := <-w.fsw.Events:
					if !ok {
						break drain
					}
					batch = w.collect(batch, evt)
				default:
					break drain
				}
			}
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return nil
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if fatal(err) {
				return fmt.Errorf("watch: %w", err)
			}
			w.logger.Warn("Watcher error", "err", err)
		}
	}
}

func (w *Watcher) collect(batch []invalidate.Change, evt fsnotify.Event) []invalidate.Change {
	if w.ignored(evt.Name) {
		return batch
	}
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.addTree(evt.Name); err != nil {
				w.logger.Warn("Could not watch new directory", "path", evt.Name, "err", err)
			}
			return batch
		}
	}
	change, ok := Translate(evt)
	if !ok {
		return batch
	}
	return append(batch, change)
}

// Translate maps a notification to a change. Attribute-only events are
// dropped. A rename reports the old name as removed; the new name arrives
// as its own create event.
func Translate(evt fsnotify.Event) (invalidate.Change, bool) {
	path := filepath.ToSlash(filepath.Clean(evt.Name))
	switch {
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		return invalidate.Change{Path: path, Op: invalidate.Removed}, true
	case evt.Has(fsnotify.Create):
		return invalidate.Change{Path: path, Op: invalidate.Added}, true
	case evt.Has(fsnotify.Write):
		return invalidate.Change{Path: path, Op: invalidate.Changed}, true
	}
	return invalidate.Change{}, false
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Debug("Skipping unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.ignores {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// fatal reports errors after which the watcher cannot recover.
func fatal(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
