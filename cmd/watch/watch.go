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

// Package watch provides the watch command for graft.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/graft/engine"
	"bennypowers.dev/graft/internal/config"
	"bennypowers.dev/graft/internal/output"
	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/revision"
	"bennypowers.dev/graft/watch"
)

// Cmd is the watch command. It prints one manifest per revision as NDJSON.
var Cmd = &cobra.Command{
	Use:   "watch [entry...]",
	Short: "Rebuild on file changes and print a manifest per revision",
	Long: `Watch builds the project, then rebuilds whenever files under the root change.

Each revision is printed to stdout as one line of JSON describing the modules and
chunks that were added, removed or changed. The first line is a full manifest.`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		viper.Set("entry", args)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := config.NewCompiler(viper.GetViper(), os.Stderr)
	if err != nil {
		return err
	}
	return errors.Join(Run(ctx, c, os.Stdout, os.Stderr), c.Close())
}

// Run builds with c and then follows filesystem changes under the
// configured root until ctx ends, encoding a manifest per revision to w.
func Run(ctx context.Context, c *engine.Compiler, w, stderr io.Writer) error {
	cfg := c.Config()
	// Watch before building so edits made during the first build are seen.
	watcher, err := watch.New(watch.Config{Root: cfg.Root, Ignore: cfg.Watch.Ignore})
	if err != nil {
		return err
	}

	first, err := c.Build(ctx)
	if err != nil {
		return errors.Join(fmt.Errorf("initial build failed: %w", err), watcher.Close())
	}
	enc := json.NewEncoder(w)
	output.Diagnostics(stderr, first)
	if err := enc.Encode(revision.Diff(nil, first)); err != nil {
		return errors.Join(err, watcher.Close())
	}

	changes := make(chan []invalidate.Change)
	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Run(ctx, changes) }()

	prev := first
	for comp := range c.Watch(ctx, changes) {
		output.Diagnostics(stderr, comp)
		if err := enc.Encode(revision.Diff(prev, comp)); err != nil {
			return err
		}
		prev = comp
	}
	return <-watchErr
}
