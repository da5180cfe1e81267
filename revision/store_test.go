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
package revision_test

import (
	"sync"
	"testing"

	"bennypowers.dev/graft/revision"
)

func TestStoreCurrent(t *testing.T) {
	s := revision.NewStore()
	if s.Current() != nil {
		t.Fatal("Expected no current compilation")
	}
	c := &revision.Compilation{Revision: 1}
	s.Publish(c)
	if s.Current() != c {
		t.Error("Expected the published compilation to be current")
	}
}

func TestStoreLatestWins(t *testing.T) {
	s := revision.NewStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := range 5 {
		s.Publish(&revision.Compilation{Revision: uint64(i + 1)})
	}
	got := <-ch
	if got.Revision != 5 {
		t.Errorf("Expected revision 5, got %d", got.Revision)
	}
	select {
	case extra := <-ch:
		t.Errorf("Expected no pending compilation, got revision %d", extra.Revision)
	default:
	}
}

func TestStoreCancel(t *testing.T) {
	s := revision.NewStore()
	ch, cancel := s.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("Expected the channel to be closed")
	}
	s.Publish(&revision.Compilation{Revision: 1})
}

func TestStoreClose(t *testing.T) {
	s := revision.NewStore()
	ch, cancel := s.Subscribe()
	s.Close()
	if _, ok := <-ch; ok {
		t.Error("Expected the channel to be closed")
	}
	cancel()

	late, _ := s.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Expected a subscription after close to be closed")
	}
}

func TestStoreConcurrentReaders(t *testing.T) {
	s := revision.NewStore()
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				if c := s.Current(); c != nil && c.Revision == 0 {
					t.Error("Observed a zero revision")
				}
			}
		})
	}
	for i := range 100 {
		s.Publish(&revision.Compilation{Revision: uint64(i + 1)})
	}
	wg.Wait()
}
