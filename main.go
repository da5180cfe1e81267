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

// Command graft builds JavaScript module graphs incrementally.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/graft/cmd/build"
	"bennypowers.dev/graft/cmd/serve"
	"bennypowers.dev/graft/cmd/version"
	"bennypowers.dev/graft/cmd/watch"
)

var (
	cpuprofile     string
	cpuprofileFile *os.File
	rootCmd        = &cobra.Command{
		Use:   "graft",
		Short: "Build JavaScript module graphs incrementally",
		Long: `graft resolves, loads and chunks JavaScript modules, rebuilding only what
changed between revisions.

Settings are read from graft.yaml in the project root. Flags override the file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("could not create CPU profile: %w", err)
				}
				cpuprofileFile = f
				if err := pprof.StartCPUProfile(f); err != nil {
					closeErr := f.Close()
					return errors.Join(
						fmt.Errorf("could not start CPU profile: %w", err),
						closeErr,
					)
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofileFile != nil {
				pprof.StopCPUProfile()
				if err := cpuprofileFile.Close(); err != nil {
					return fmt.Errorf("closing CPU profile: %w", err)
				}
			}
			return nil
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("root", "r", ".", "Project root directory")
	flags.StringP("config", "c", "", "Config file (default: graft.yaml in the root)")
	flags.StringP("output", "o", "", "Output file (default: stdout)")
	flags.IntP("jobs", "j", 0, "Concurrent loader jobs (default: number of CPUs)")
	flags.Bool("verify", false, "Re-read reused modules and rebuild those whose content changed")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&cpuprofile, "cpuprofile", "", "Write CPU profile to file")

	_ = viper.BindPFlag("root", flags.Lookup("root"))
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("workers", flags.Lookup("jobs"))
	_ = viper.BindPFlag("verify", flags.Lookup("verify"))
	_ = viper.BindPFlag("log-level", flags.Lookup("log-level"))

	rootCmd.AddCommand(build.Cmd)
	rootCmd.AddCommand(watch.Cmd)
	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(version.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
