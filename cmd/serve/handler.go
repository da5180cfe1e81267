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
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"bennypowers.dev/graft/internal/logging"
	"bennypowers.dev/graft/lazy"
	"bennypowers.dev/graft/revision"
)

// Paths served by Handler.
const (
	CompilationPath = "/__graft/compilation"
	TriggerPath     = "/__graft/trigger"
	EventsPath      = "/__graft/events"
)

// Compiler is what the dev server needs from the engine.
type Compiler interface {
	Current() *revision.Compilation
	Subscribe() (<-chan *revision.Compilation, func())
	Trigger(ctx context.Context, key string) (*revision.Patch, error)
}

type handler struct {
	c        Compiler
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// Handler serves the current compilation, lazy triggers and a websocket
// stream of manifests.
//
//	GET /__graft/compilation        compilation summary
//	GET /__graft/lazy/{key}         trigger a lazy hook, returns the manifest
//	GET /__graft/trigger?module=id  trigger by module identity
//	GET /__graft/events             websocket, one manifest per revision
func Handler(c Compiler, logger logging.Logger) http.Handler {
	h := &handler{
		c:      c,
		logger: logging.OrDiscard(logger),
		upgrader: websocket.Upgrader{
			// The dev server only listens locally.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+CompilationPath, h.compilation)
	mux.HandleFunc("GET "+lazy.HookPrefix+"{key}", h.hook)
	mux.HandleFunc("GET "+TriggerPath, h.trigger)
	mux.HandleFunc("GET "+EventsPath, h.events)
	return mux
}

func (h *handler) compilation(w http.ResponseWriter, r *http.Request) {
	cur := h.c.Current()
	if cur == nil {
		http.Error(w, "no compilation yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, cur.Summary())
}

func (h *handler) hook(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, lazy.HookPrefix+r.PathValue("key"))
}

func (h *handler) trigger(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	if module == "" {
		http.Error(w, "missing module parameter", http.StatusBadRequest)
		return
	}
	h.respond(w, r, module)
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request, key string) {
	patch, err := h.c.Trigger(r.Context(), key)
	switch {
	case errors.Is(err, lazy.ErrUnknownModule):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lazy.ErrNoCompilation):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		h.logger.Error("Trigger failed", "key", key, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, patch.Manifest)
	}
}

// events streams a full manifest for the current compilation, then one
// manifest per published revision.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.c.Subscribe()
	defer cancel()

	// Reading detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	prev := h.c.Current()
	if prev != nil {
		if err := conn.WriteJSON(revision.Diff(nil, prev)); err != nil {
			return
		}
	}
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case comp, ok := <-updates:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "compiler closed"))
				return
			}
			if prev != nil && comp.Revision <= prev.Revision {
				continue
			}
			if err := conn.WriteJSON(revision.Diff(prev, comp)); err != nil {
				h.logger.Debug("Websocket write failed", "err", err)
				return
			}
			prev = comp
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
