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
package remote

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached responses.
const DefaultCacheSize = 512

// Invalidator is implemented by fetchers that keep responses.
type Invalidator interface {
	Invalidate(url string)
}

type cacheEntry struct {
	ready chan struct{}
	body  []byte
	err   error
}

// CachingFetcher wraps a Fetcher with an LRU of responses. Concurrent
// requests for one URL share a single fetch, which is not canceled when the
// caller that started it gives up. Failed fetches are not kept.
type CachingFetcher struct {
	next Fetcher
	// mu makes lookup and removal of an entry atomic with respect to
	// each other. The LRU guards its own structure.
	mu      sync.Mutex
	entries *lru.Cache[string, *cacheEntry]
}

// NewCachingFetcher wraps next. A non-positive size uses DefaultCacheSize.
func NewCachingFetcher(next Fetcher, size int) *CachingFetcher {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for non-positive sizes.
	entries, _ := lru.New[string, *cacheEntry](size)
	return &CachingFetcher{next: next, entries: entries}
}

// Fetch returns the cached body for url or fetches it.
func (c *CachingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	entry, ok := c.entries.Get(url)
	if !ok {
		entry = &cacheEntry{ready: make(chan struct{})}
		c.entries.Add(url, entry)
		go c.fill(context.WithoutCancel(ctx), url, entry)
	}
	c.mu.Unlock()

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.body, nil
}

func (c *CachingFetcher) fill(ctx context.Context, url string, entry *cacheEntry) {
	defer close(entry.ready)
	defer func() {
		if p := recover(); p != nil {
			entry.body, entry.err = nil, &FetchError{URL: url, Message: fmt.Sprintf("fetcher panic: %v", p)}
		}
		c.settle(url, entry)
	}()
	entry.body, entry.err = c.next.Fetch(ctx, url)
}

// settle drops a failed entry unless a newer entry already replaced it
// after an Invalidate.
func (c *CachingFetcher) settle(url string, entry *cacheEntry) {
	if entry.err != nil {
		c.mu.Lock()
		if cur, ok := c.entries.Peek(url); ok && cur == entry {
			c.entries.Remove(url)
		}
		c.mu.Unlock()
	}
}

// Invalidate drops a cached response.
func (c *CachingFetcher) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(url)
}

// Len returns the number of cached responses.
func (c *CachingFetcher) Len() int {
	return c.entries.Len()
}
