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

// Package config loads graft.yaml and command line flags into an engine
// configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"bennypowers.dev/graft/build"
	"bennypowers.dev/graft/engine"
	"bennypowers.dev/graft/internal/logging"
)

// Name is the config file basename, without extension.
const Name = "graft"

// Load reads the config file into a copy of engine.DefaultConfig. The file
// is the one named by the "config" key, or graft.yaml in the "root"
// directory when present. Values bound from flags take precedence.
func Load(v *viper.Viper) (engine.Config, error) {
	cfg := engine.DefaultConfig()

	root := v.GetString("root")
	if root == "" {
		root = "."
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(root)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Root == "" || cfg.Root == "." {
		cfg.Root = root
	} else if !filepath.IsAbs(cfg.Root) {
		// A relative root in the file is relative to the file.
		if used := v.ConfigFileUsed(); used != "" {
			cfg.Root = filepath.Join(filepath.Dir(used), cfg.Root)
		}
	}

	if entries := v.GetStringSlice("entry"); len(entries) > 0 {
		parsed, err := ParseEntries(entries)
		if err != nil {
			return cfg, err
		}
		cfg.Entries = parsed
	}
	return cfg, cfg.Validate()
}

// ParseEntries parses "name=specifier" pairs. A bare specifier is named
// after its file.
func ParseEntries(args []string) ([]build.Entry, error) {
	entries := make([]build.Entry, 0, len(args))
	for _, arg := range args {
		name, spec, ok := strings.Cut(arg, "=")
		if !ok {
			spec = arg
			base := filepath.Base(arg)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		if spec == "" {
			return nil, fmt.Errorf("entry %q has no specifier", arg)
		}
		entries = append(entries, build.Entry{Name: name, Specifier: spec})
	}
	return entries, nil
}

// NewCompiler loads the configuration from v and creates a compiler that
// logs to stderr at the "log-level" key's level.
func NewCompiler(v *viper.Viper, stderr io.Writer) (*engine.Compiler, error) {
	cfg, err := Load(v)
	if err != nil {
		return nil, err
	}
	logger := logging.New(stderr, v.GetString("log-level"))
	return engine.New(cfg, engine.Options{Logger: logger})
}
