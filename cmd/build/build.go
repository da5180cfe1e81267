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

// Package build provides the build command for graft.
package build

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/internal/config"
	"bennypowers.dev/graft/internal/output"
)

// Cmd is the build command. It compiles the project once and prints a
// summary of the module and chunk graphs.
var Cmd = &cobra.Command{
	Use:   "build [entry...]",
	Short: "Build the module and chunk graphs once",
	Long: `Build resolves every entry, runs the loader chains and groups modules into chunks.

Entries come from graft.yaml, or from arguments of the form name=specifier.
The compilation summary is printed as JSON. Warnings and errors go to stderr;
the command fails when any module has errors.`,
	Example: `  # Build the entries in graft.yaml
  graft build

  # Build explicit entries with 8 workers
  graft build main=./src/main.js admin=./src/admin.js -j 8`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		viper.Set("entry", args)
	}
	c, err := config.NewCompiler(viper.GetViper(), os.Stderr)
	if err != nil {
		return err
	}

	comp, err := c.Build(cmd.Context())
	if err != nil {
		return errors.Join(fmt.Errorf("build failed: %w", err), c.Close())
	}
	output.Diagnostics(os.Stderr, comp)
	if err := output.JSON(fs.NewOSFileSystem(), os.Stdout, comp.Summary()); err != nil {
		return errors.Join(err, c.Close())
	}
	if err := c.Close(); err != nil {
		return err
	}
	if n := len(comp.Errors); n > 0 {
		return fmt.Errorf("build finished with %d errors", n)
	}
	return nil
}
