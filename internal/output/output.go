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

// Package output provides shared output utilities for graft CLI commands.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/viper"

	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/revision"
)

// JSON writes v as indented JSON to the file named by viper's "output" key,
// or to w when it is empty.
func JSON(osfs fs.FileSystem, w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if outputPath := viper.GetString("output"); outputPath != "" {
		return osfs.WriteFile(outputPath, out, 0644)
	}
	_, err = w.Write(out)
	return err
}

// Diagnostics prints the errors and warnings of a compilation to w.
func Diagnostics(w io.Writer, comp *revision.Compilation) {
	for _, err := range comp.Warnings {
		fmt.Fprintf(w, "Warning: %v\n", err)
	}
	for _, err := range comp.Errors {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}
