package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lostfound/board/internal/board"
	"github.com/lostfound/board/internal/metrics"
)

// keepAliveInterval spaces comment lines that hold idle streams open.
const keepAliveInterval = 25 * time.Second

// StreamHandler pushes the item list to browsers as Server-Sent Events:
// one "items" event on connect and one after every change.
type StreamHandler struct {
	Board   Board
	Metrics *metrics.Metrics
}

// ServeHTTP handles GET /api/items/stream?kind=&q=.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filters, err := board.ParseFilters(r.URL.Query().Get("kind"), r.URL.Query().Get("q"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "kind must be all, lost or found")
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("could not clear write deadline", "error", err)
	}

	changed := make(chan struct{}, 1)
	cancel := h.Board.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	h.Metrics.StreamOpened()
	defer h.Metrics.StreamClosed()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func() error {
		data, err := json.Marshal(h.Board.View(filters))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: items\ndata: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send(); err != nil {
		slog.Warn("stream write failed", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changed:
			if err := send(); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
