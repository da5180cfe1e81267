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
package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies resolution failures.
type ErrorKind int

const (
	// NotFound means no file matched the specifier.
	NotFound ErrorKind = iota
	// Ambiguous means several extension candidates matched and
	// StrictExtensions forbids picking the first.
	Ambiguous
	// Invalid means the specifier itself is malformed or unsupported.
	Invalid
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Ambiguous:
		return "ambiguous"
	case Invalid:
		return "invalid specifier"
	default:
		return "unknown"
	}
}

// Error is a resolution failure.
type Error struct {
	Kind       ErrorKind
	Specifier  string
	Context    string
	Candidates []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot resolve %q from %s: %s", e.Specifier, e.Context, e.Kind)
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " (candidates: %s)", strings.Join(e.Candidates, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFound resolution error.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == NotFound
}

// KindOf returns the kind of a resolution error and whether err is one.
func KindOf(err error) (ErrorKind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}
