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

// Package cache persists loader outputs across processes.
//
// Entries are keyed by module identity, raw content hash and chain config
// hash, so a hit is always safe to reuse. A missing or broken cache only
// costs time.
package cache

import (
	"context"
	"sync"

	"bennypowers.dev/graft/graph"
)

// Key identifies a cached loader run.
type Key struct {
	Identity   graph.Identity
	RawHash    string
	ConfigHash string
}

// Entry is a cached loader result.
type Entry struct {
	Output       graph.Output       `json:"output"`
	Dependencies []graph.Dependency `json:"dependencies"`
}

// Store is a persistent output cache.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	Put(ctx context.Context, key Key, entry *Entry) error
	Close() error
}

// Memory is an in-process Store, used in tests and when no cache
// directory is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]*Entry)}
}

func (m *Memory) Get(_ context.Context, key Key) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *Memory) Put(_ context.Context, key Key, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
