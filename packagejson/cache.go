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
package packagejson

import (
	"sync"
)

// Cache provides a caching interface for parsed package.json files.
// Resolution probes the same manifests over and over within a build and
// across rebuilds; entries live until the file is reported changed.
type Cache interface {
	// GetOrLoad atomically retrieves from cache or loads using the provided function.
	// Only one goroutine executes the loader for a given path; others wait.
	// Failed loads are cached too, so a missing package.json is probed once.
	GetOrLoad(path string, loader func() (*PackageJSON, error)) (*PackageJSON, error)

	// Invalidate removes a cached entry, typically called when a file changes.
	Invalidate(path string)

	// Clear drops every entry.
	Clear()
}

// cacheEntry holds a cached value and coordinates concurrent loading.
type cacheEntry struct {
	pkg  *PackageJSON
	err  error
	once sync.Once
}

// MemoryCache is a thread-safe in-memory implementation of Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewMemoryCache creates a new in-memory cache for package.json files.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
	}
}

// GetOrLoad retrieves a cached result or loads it. Concurrent callers for the
// same path share the entry and block on its sync.Once.
func (c *MemoryCache) GetOrLoad(path string, loader func() (*PackageJSON, error)) (*PackageJSON, error) {
	c.mu.Lock()
	entry, ok := c.entries[path]
	if !ok {
		entry = &cacheEntry{}
		c.entries[path] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.pkg, entry.err = loader()
	})
	return entry.pkg, entry.err
}

// Invalidate removes a cached entry. Goroutines already waiting on the old
// entry still receive its result; later calls reload.
func (c *MemoryCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Clear drops every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the number of cached paths, loaded or failed.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
