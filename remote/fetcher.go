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

// Package remote fetches http(s) modules.
package remote

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"time"

	"github.com/tinywasm/fetch"
)

const (
	// DefaultMaxModuleSize bounds a fetched module body in bytes.
	DefaultMaxModuleSize = 8 << 20
	// DefaultTimeout bounds a single remote module request.
	DefaultTimeout = 30 * time.Second

	acceptModules = "text/javascript, application/javascript, application/json;q=0.9, */*;q=0.1"
)

var (
	// ErrTooLarge reports a module body over the fetcher's size limit.
	ErrTooLarge = errors.New("module body too large")
	// ErrNotModule reports a response that is a document, not a module.
	ErrNotModule = errors.New("response is not a module")
)

// Fetcher provides an abstraction over HTTP fetching.
type Fetcher interface {
	// Fetch retrieves content from the given URL.
	// Returns the response body bytes or an error if the request fails.
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches modules over HTTP using tinywasm/fetch.
type HTTPFetcher struct {
	// MaxSize bounds response bodies. Zero disables the check.
	MaxSize int
	// Timeout bounds each request. Zero leaves requests unbounded.
	Timeout time.Duration
}

// NewHTTPFetcher creates a fetcher with the default size and time limits.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{MaxSize: DefaultMaxModuleSize, Timeout: DefaultTimeout}
}

// Fetch retrieves the module at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)

	req := fetch.Get(url).Header("Accept", acceptModules)
	if f.Timeout > 0 {
		req = req.Timeout(int(f.Timeout.Milliseconds()))
	}
	req.Send(func(resp *fetch.Response, err error) {
		if err != nil {
			done <- result{nil, &FetchError{URL: url, Message: err.Error()}}
			return
		}
		if err := f.check(url, resp); err != nil {
			done <- result{nil, err}
			return
		}
		done <- result{resp.Body(), nil}
	})

	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// check accepts only successful responses that can hold module source.
// HTML is refused since CDNs answer unknown paths with error pages.
func (f *HTTPFetcher) check(url string, resp *fetch.Response) error {
	if resp.Status != 200 {
		return &FetchError{
			URL:        url,
			StatusCode: resp.Status,
			Message:    fmt.Sprintf("HTTP %d", resp.Status),
		}
	}
	if f.MaxSize > 0 && len(resp.Body()) > f.MaxSize {
		return &FetchError{
			URL:     url,
			Message: fmt.Sprintf("%d bytes exceeds the %d byte limit", len(resp.Body()), f.MaxSize),
			Err:     ErrTooLarge,
		}
	}
	if ct := resp.GetHeader("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil && (mediaType == "text/html" || mediaType == "application/xhtml+xml") {
			return &FetchError{URL: url, Message: "content type " + mediaType, Err: ErrNotModule}
		}
	}
	return nil
}

// FetchError represents an HTTP fetch error with status information.
type FetchError struct {
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error represents a 404 Not Found response.
func (e *FetchError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsNotFound reports whether err is a 404 FetchError.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.IsNotFound()
}
