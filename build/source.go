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
package build

import (
	"context"
	"errors"
	"strings"

	"bennypowers.dev/graft/fs"
	"bennypowers.dev/graft/remote"
)

// ErrRemoteDisabled is returned when a URL resource is read without a fetcher.
var ErrRemoteDisabled = errors.New("remote modules are disabled")

// Source reads raw module content.
type Source interface {
	Read(ctx context.Context, resource string) ([]byte, error)
}

// FileSource reads paths from a filesystem and URLs through a fetcher.
type FileSource struct {
	FS      fs.FileSystem
	Fetcher remote.Fetcher
}

func (s FileSource) Read(ctx context.Context, resource string) ([]byte, error) {
	if strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://") {
		if s.Fetcher == nil {
			return nil, ErrRemoteDisabled
		}
		return s.Fetcher.Fetch(ctx, resource)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.FS.ReadFile(resource)
}
