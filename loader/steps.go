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
package loader

import (
	"context"
	"encoding/json"
	"strconv"
)

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Func     func(context.Context, *Context) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Transform(c context.Context, ctx *Context) error {
	return s.Func(c, ctx)
}

// JSON validates JSON modules. It declares no dependencies.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Transform(_ context.Context, ctx *Context) error {
	if !json.Valid(ctx.Content) {
		var v any
		err := json.Unmarshal(ctx.Content, &v)
		return &Error{Step: "json", Message: "invalid JSON in " + ctx.Resource, Err: err}
	}
	ctx.SetMeta("type", "json")
	return nil
}

// Raw passes asset bytes through unchanged and records their size.
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (Raw) Transform(_ context.Context, ctx *Context) error {
	ctx.SetMeta("type", "asset")
	ctx.SetMeta("size", strconv.Itoa(len(ctx.Content)))
	return nil
}
