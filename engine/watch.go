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
package engine

import (
	"context"
	"errors"
	"time"

	"bennypowers.dev/graft/invalidate"
	"bennypowers.dev/graft/revision"
)

type rebuilt struct {
	comp *revision.Compilation
	err  error
}

// Watch rebuilds on every quiet period after batches arrive on changes.
// Batches arriving within the debounce window are coalesced. A batch that
// arrives while a rebuild runs cancels it; its changes are carried into the
// next rebuild. A failed rebuild keeps its changes for the rebuild that the
// next batch triggers. The returned channel closes when ctx ends or changes closes
// and the last rebuild finished.
func (c *Compiler) Watch(ctx context.Context, changes <-chan []invalidate.Change) <-chan *revision.Compilation {
	out := make(chan *revision.Compilation)
	go func() {
		defer close(out)

		var (
			pending  []invalidate.Change
			inflight []invalidate.Change
			timer    *time.Timer
			fire     <-chan time.Time
			cancel   context.CancelFunc
			done     chan rebuilt
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		arm := func() {
			if timer == nil {
				timer = time.NewTimer(c.cfg.Watch.Debounce)
			} else {
				timer.Reset(c.cfg.Watch.Debounce)
			}
			fire = timer.C
		}

		for {
			// Changes carried over from a failed rebuild wait for the next
			// batch, so they do not keep the loop alive once input ends.
			if changes == nil && done == nil && (len(pending) == 0 || fire == nil) {
				return
			}
			select {
			case <-ctx.Done():
				if cancel != nil {
					cancel()
					<-done
				}
				return

			case batch, ok := <-changes:
				if !ok {
					changes = nil
					if len(pending) > 0 && done == nil {
						arm()
					}
					continue
				}
				pending = append(pending, batch...)
				if cancel != nil {
					c.logger.Debug("Changes arrived during rebuild, restarting")
					cancel()
				}
				arm()

			case <-fire:
				fire = nil
				if done != nil || len(pending) == 0 {
					continue
				}
				inflight, pending = pending, nil
				var rctx context.Context
				rctx, cancel = context.WithCancel(ctx)
				done = make(chan rebuilt, 1)
				go func(batch []invalidate.Change, done chan<- rebuilt) {
					comp, err := c.Rebuild(rctx, batch)
					done <- rebuilt{comp, err}
				}(inflight, done)

			case r := <-done:
				cancel()
				cancel, done = nil, nil
				switch {
				case r.err == nil:
					inflight = nil
					select {
					case out <- r.comp:
					case <-ctx.Done():
						return
					}
				case ctx.Err() != nil:
					return
				case errors.Is(r.err, context.Canceled):
					pending = append(inflight, pending...)
					inflight = nil
				default:
					c.logger.Error("Rebuild failed", "err", r.err)
					retry := len(pending) > 0
					pending = append(inflight, pending...)
					inflight = nil
					if !retry {
						continue
					}
				}
				if len(pending) > 0 && fire == nil {
					arm()
				}
			}
		}
	}()
	return out
}
