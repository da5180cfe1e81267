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
package revision

import (
	"sync"
	"sync/atomic"
)

// Store publishes compilations. Readers never block writers: Current is a
// single atomic load and subscribers receive only the latest compilation.
type Store struct {
	current atomic.Pointer[Compilation]

	mu     sync.Mutex
	subs   map[int]chan *Compilation
	nextID int
	closed bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[int]chan *Compilation)}
}

// Current returns the latest published compilation, or nil.
func (s *Store) Current() *Compilation {
	return s.current.Load()
}

// Publish makes c current and notifies subscribers. A subscriber that has
// not read the previous compilation yet only sees c.
func (s *Store) Publish(c *Compilation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(c)
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

// Subscribe returns a channel of published compilations and a function
// that cancels the subscription and closes the channel.
func (s *Store) Subscribe() (<-chan *Compilation, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *Compilation, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes every subscription. Later subscriptions are closed at once.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
