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
package remote_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"bennypowers.dev/graft/remote"
)

type countingFetcher struct {
	calls atomic.Int32
	fail  bool
}

func (f *countingFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, &remote.FetchError{URL: url, StatusCode: 404, Message: "Not Found"}
	}
	return []byte("export default " + fmt.Sprintf("%q", url)), nil
}

func TestFetcherInterface(t *testing.T) {
	var _ remote.Fetcher = (*remote.HTTPFetcher)(nil)
	var _ remote.Fetcher = (*remote.CachingFetcher)(nil)
}

func TestCachingFetcherDedup(t *testing.T) {
	next := &countingFetcher{}
	c := remote.NewCachingFetcher(next, 0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if _, err := c.Fetch(context.Background(), "https://esm.sh/lit@3"); err != nil {
				t.Errorf("Fetch failed: %v", err)
			}
		})
	}
	wg.Wait()

	if next.calls.Load() != 1 {
		t.Errorf("Expected one upstream fetch, got %d", next.calls.Load())
	}
}

func TestCachingFetcherDropsFailures(t *testing.T) {
	next := &countingFetcher{fail: true}
	c := remote.NewCachingFetcher(next, 4)
	ctx := context.Background()

	for range 2 {
		_, err := c.Fetch(ctx, "https://esm.sh/missing")
		if !remote.IsNotFound(err) {
			t.Fatalf("Expected 404, got %v", err)
		}
	}
	if next.calls.Load() != 2 {
		t.Errorf("Expected failures to be retried, got %d calls", next.calls.Load())
	}
	if c.Len() != 0 {
		t.Errorf("Expected no cached failures, got %d", c.Len())
	}
}

func TestCachingFetcherEvicts(t *testing.T) {
	next := &countingFetcher{}
	c := remote.NewCachingFetcher(next, 2)
	ctx := context.Background()

	for _, u := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"} {
		if _, err := c.Fetch(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Expected LRU bound of 2, got %d", c.Len())
	}
	c.Invalidate("https://a.test/3")
	if c.Len() != 1 {
		t.Errorf("Expected invalidation to drop an entry, got %d", c.Len())
	}
}

// gatedFetcher blocks its first call until release is closed, then fails
// that call when failFirst is set. Later calls answer at once.
type gatedFetcher struct {
	calls     atomic.Int32
	failFirst bool
	started   chan struct{}
	release   chan struct{}
}

func newGatedFetcher(failFirst bool) *gatedFetcher {
	return &gatedFetcher{failFirst: failFirst, started: make(chan struct{}), release: make(chan struct{})}
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.calls.Add(1) > 1 {
		return []byte("export default 2;"), nil
	}
	close(f.started)
	<-f.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failFirst {
		return nil, &remote.FetchError{URL: url, StatusCode: 503, Message: "Service Unavailable"}
	}
	return []byte("export default 1;"), nil
}

type fetchResult struct {
	body []byte
	err  error
}

func fetchAsync(ctx context.Context, c *remote.CachingFetcher, url string) <-chan fetchResult {
	out := make(chan fetchResult, 1)
	go func() {
		body, err := c.Fetch(ctx, url)
		out <- fetchResult{body, err}
	}()
	return out
}

func TestCachingFetcherSurvivesCanceledCaller(t *testing.T) {
	const url = "https://esm.sh/slow"
	next := newGatedFetcher(false)
	c := remote.NewCachingFetcher(next, 4)

	ctx, cancel := context.WithCancel(context.Background())
	first := fetchAsync(ctx, c, url)
	<-next.started
	cancel()
	if r := <-first; !errors.Is(r.err, context.Canceled) {
		t.Fatalf("Expected the canceled caller to give up, got %v", r.err)
	}

	second := fetchAsync(context.Background(), c, url)
	close(next.release)
	r := <-second
	if r.err != nil {
		t.Fatalf("Expected the shared fetch to finish for the waiting caller, got %v", r.err)
	}
	if string(r.body) != "export default 1;" {
		t.Errorf("Unexpected body %q", r.body)
	}
	if next.calls.Load() != 1 {
		t.Errorf("Expected one upstream fetch, got %d", next.calls.Load())
	}
}

func TestCachingFetcherStaleFailureKeepsNewerEntry(t *testing.T) {
	const url = "https://esm.sh/flaky"
	next := newGatedFetcher(true)
	c := remote.NewCachingFetcher(next, 4)
	ctx := context.Background()

	stale := fetchAsync(ctx, c, url)
	<-next.started
	c.Invalidate(url)
	if body, err := c.Fetch(ctx, url); err != nil || string(body) != "export default 2;" {
		t.Fatalf("Expected a fresh fetch after invalidation, got %q, %v", body, err)
	}

	close(next.release)
	if r := <-stale; r.err == nil {
		t.Fatal("Expected the stale fetch to fail")
	}
	if c.Len() != 1 {
		t.Fatalf("Expected the newer entry to stay cached, got %d entries", c.Len())
	}
	if _, err := c.Fetch(ctx, url); err != nil {
		t.Fatal(err)
	}
	if next.calls.Load() != 2 {
		t.Errorf("Expected the newer entry to be served from cache, got %d upstream calls", next.calls.Load())
	}
}

func moduleServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mod.js", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "text/javascript") {
			http.Error(w, "expected a module request", http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		fmt.Fprint(w, "export default 1;")
	})
	mux.HandleFunc("/big.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprint(w, strings.Repeat("x", 64))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!doctype html><p>not here</p>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcher(t *testing.T) {
	srv := moduleServer(t)
	f := remote.NewHTTPFetcher()
	f.MaxSize = 32

	tests := []struct {
		name     string
		path     string
		want     string
		wantErr  error
		notFound bool
	}{
		{name: "module", path: "/mod.js", want: "export default 1;"},
		{name: "over size limit", path: "/big.js", wantErr: remote.ErrTooLarge},
		{name: "html error page", path: "/page", wantErr: remote.ErrNotModule},
		{name: "missing", path: "/nope.js", notFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := f.Fetch(context.Background(), srv.URL+tt.path)
			switch {
			case tt.notFound:
				if !remote.IsNotFound(err) {
					t.Errorf("Expected a 404, got %v", err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
			case err != nil:
				t.Fatalf("Fetch failed: %v", err)
			case string(body) != tt.want:
				t.Errorf("Expected %q, got %q", tt.want, body)
			}
		})
	}
}

func TestFetchErrorMessage(t *testing.T) {
	err := &remote.FetchError{URL: "https://x.test", StatusCode: 500, Message: "boom"}
	if err.Error() != "fetch https://x.test: HTTP 500: boom" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if remote.IsNotFound(errors.New("other")) {
		t.Error("Expected plain errors not to be 404s")
	}
}
