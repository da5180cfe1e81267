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
package engine

import (
	"errors"
	"fmt"
	"time"

	"bennypowers.dev/graft/build"
	"bennypowers.dev/graft/chunk"
	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/lazy"
)

// DefaultDebounce is how long Watch waits for more changes before
// rebuilding.
const DefaultDebounce = 100 * time.Millisecond

// WatchConfig configures change coalescing and the filesystem watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Ignore   []string      `mapstructure:"ignore"`
}

// Config is the engine configuration, usually read from graft.yaml.
type Config struct {
	// Root is the project directory.
	Root    string        `mapstructure:"root"`
	Entries []build.Entry `mapstructure:"entries"`
	// Workers bounds concurrent module builds. Zero means GOMAXPROCS.
	Workers          int               `mapstructure:"workers"`
	Conditions       []string          `mapstructure:"conditions"`
	Extensions       []string          `mapstructure:"extensions"`
	StrictExtensions bool              `mapstructure:"strict-extensions"`
	Alias            map[string]string `mapstructure:"alias"`
	// Remote allows http(s) modules.
	Remote bool `mapstructure:"remote"`
	// ForbidStaticCycles reports static import cycles that include an ESM
	// import as errors.
	ForbidStaticCycles bool `mapstructure:"forbid-static-cycles"`
	// Verify re-reads modules a Rebuild would reuse without invalidation
	// and rebuilds those whose content hash changed.
	Verify          bool              `mapstructure:"verify"`
	ValidateImports bool              `mapstructure:"validate-imports"`
	Invalidation    invalidate.Policy `mapstructure:"invalidation"`
	Lazy            lazy.Policy       `mapstructure:"lazy"`
	Split           chunk.SplitPolicy `mapstructure:"split"`
	// Filename is the chunk filename template.
	Filename string `mapstructure:"filename"`
	// CacheDir enables the persistent output cache.
	CacheDir string      `mapstructure:"cache-dir"`
	Watch    WatchConfig `mapstructure:"watch"`
}

// DefaultConfig returns the configuration used when graft.yaml is absent.
func DefaultConfig() Config {
	return Config{
		Root:            ".",
		Entries:         []build.Entry{{Name: "main", Specifier: "./src/index.js"}},
		ValidateImports: true,
		Invalidation:    invalidate.Policy{Propagation: invalidate.PropagateInterface},
		Filename:        chunk.DefaultTemplate,
		Watch:           WatchConfig{Debounce: DefaultDebounce},
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Entries) == 0 {
		errs = append(errs, errors.New("no entries configured"))
	}
	seen := make(map[string]bool)
	for _, e := range c.Entries {
		switch {
		case e.Name == "":
			errs = append(errs, fmt.Errorf("entry %q has no name", e.Specifier))
		case seen[e.Name]:
			errs = append(errs, fmt.Errorf("duplicate entry name %q", e.Name))
		}
		seen[e.Name] = true
	}
	switch c.Invalidation.Propagation {
	case "", invalidate.PropagateInterface, invalidate.PropagateEager:
	default:
		errs = append(errs, fmt.Errorf("unknown invalidation propagation %q", c.Invalidation.Propagation))
	}
	if c.Filename != "" {
		if _, err := chunk.ParseTemplate(c.Filename); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Lazy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	return errors.Join(errs...)
}
