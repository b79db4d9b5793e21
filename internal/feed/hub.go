package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Watch on a closed feed.
var ErrClosed = errors.New("feed closed")

// Hub is an in-process feed: every Publish reaches every watcher of the
// same Hub. It serves single-process deployments and backs the postgres
// and redis strategies for local fan-out.
type Hub struct {
	mu       sync.Mutex
	watchers map[chan struct{}]struct{}
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[chan struct{}]struct{})}
}

// Watch registers a watcher until ctx is done.
func (h *Hub) Watch(ctx context.Context) (<-chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	ch := make(chan struct{}, 1)
	h.watchers[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		h.remove(ch)
	}()

	return ch, nil
}

func (h *Hub) remove(ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[ch]; ok {
		delete(h.watchers, ch)
		close(ch)
	}
}

// Publish signals every watcher.
func (h *Hub) Publish(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers {
		signal(ch)
	}
	return nil
}

// Watchers reports the number of registered watchers.
func (h *Hub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *Hub) Mode() Mode { return ModeLocal }

// Close closes every watcher channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for ch := range h.watchers {
		delete(h.watchers, ch)
		close(ch)
	}
	return nil
}
