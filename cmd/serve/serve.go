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

// Package serve provides the serve command for graft: a development server
// that compiles lazily and pushes manifests over a websocket.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"bennypowers.dev/graft/internal/config"
	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/watch"
)

// Cmd is the serve command.
var Cmd = &cobra.Command{
	Use:   "serve [entry...]",
	Short: "Run a development server with lazy compilation",
	Long: `Serve builds the project, watches the root for changes and listens for HTTP requests.

Requests to /__graft/lazy/{key} build deferred modules on demand. Clients
connected to /__graft/events receive one JSON manifest per revision.
The server speaks HTTP/1.1 and cleartext HTTP/2.`,
	Example: `  # Defer dynamic imports until the browser asks for them
  graft serve --lazy --addr localhost:5173`,
	RunE: run,
}

func init() {
	Cmd.Flags().String("addr", "localhost:5173", "Address to listen on")
	Cmd.Flags().Bool("lazy", false, "Defer dynamic imports until triggered")
	_ = viper.BindPFlag("addr", Cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("lazy.imports", Cmd.Flags().Lookup("lazy"))
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
	defer c.Close()
	logger := logging.New(os.Stderr, viper.GetString("log-level"))

	if _, err := c.Build(ctx); err != nil {
		return fmt.Errorf("initial build failed: %w", err)
	}

	cfg := c.Config()
	watcher, err := watch.New(watch.Config{Root: cfg.Root, Ignore: cfg.Watch.Ignore, Logger: logger})
	if err != nil {
		return err
	}
	changes := make(chan []invalidate.Change)
	go func() {
		if err := watcher.Run(ctx, changes); err != nil {
			logger.Error("Watcher stopped", "err", err)
		}
	}()
	go func() {
		for range c.Watch(ctx, changes) {
		}
	}()

	srv := &http.Server{
		Addr:              viper.GetString("addr"),
		Handler:           h2c.NewHandler(Handler(c, logger), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
