// Package board holds the server-side view state of the bulletin board:
// the last delivered item list, the derived views over it, and the
// multi-step write flows that combine image uploads with item writes.
package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lostfound/board/internal/metrics"
	"github.com/lostfound/board/internal/model"
	"github.com/lostfound/board/internal/store"
)

// Flow steps reported by FlowError.
const (
	StepValidate = "validate"
	StepLookup   = "lookup"
	StepUpload   = "upload"
	StepInsert   = "insert"
	StepUpdate   = "update"
	StepDelete   = "delete"
)

// FlowError reports the step at which a write flow was abandoned.
type FlowError struct {
	Step string
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// ItemStore is the persistence the controller reads and writes.
type ItemStore interface {
	List(ctx context.Context) ([]model.Item, error)
	Get(ctx context.Context, id string) (*model.Item, error)
	Create(ctx context.Context, n model.NewItem) (string, error)
	Update(ctx context.Context, id string, p model.Patch) error
	Delete(ctx context.Context, id string) error
	Subscribe(fn func(store.Snapshot)) *store.Subscription
}

// ImageStore hosts item photos.
type ImageStore interface {
	Upload(ctx context.Context, r io.Reader, ownerKey string) (string, error)
	Delete(ctx context.Context, url string) (bool, error)
}

// Upload is an image attached to a create or edit.
type Upload struct {
	Filename string
	Body     io.Reader
}

// View is one derived view of the board.
type View struct {
	Items       []model.Item `json:"items"`
	Total       int          `json:"total"`
	Filters     Filters      `json:"filters"`
	Unavailable string       `json:"unavailable,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// snapshot is never modified after it is stored; updates swap it whole.
type snapshot struct {
	items       []model.Item
	unavailable string
	at          time.Time
}

// Controller owns the item list last delivered by the store.
type Controller struct {
	items   ItemStore
	images  ImageStore
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	snap      snapshot
	ready     chan struct{}
	readyOnce sync.Once

	lmu       sync.Mutex
	listeners map[int]func()
	nextID    int

	smu     sync.Mutex
	sub     *store.Subscription
	started bool
}

// NewController creates a controller. m may be nil.
func NewController(items ItemStore, images ImageStore, m *metrics.Metrics) *Controller {
	return &Controller{
		items:     items,
		images:    images,
		metrics:   m,
		now:       time.Now,
		ready:     make(chan struct{}),
		listeners: make(map[int]func()),
	}
}

// Start subscribes to the store. Calling it again is a no-op.
func (c *Controller) Start() {
	c.smu.Lock()
	defer c.smu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.sub = c.items.Subscribe(c.deliver)
}

// Close stops the subscription. It is safe to call when never started
// and more than once.
func (c *Controller) Close() {
	c.smu.Lock()
	sub := c.sub
	c.sub = nil
	c.smu.Unlock()
	sub.Stop()
}

// Ready is closed once the first list has been applied.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

func (c *Controller) deliver(s store.Snapshot) {
	c.metrics.ObserveDelivery(s.Err)
	c.apply(s.Items, s.Err, s.At)
}

// apply replaces the held list. A failed read keeps the previous items and
// records why they may be stale.
func (c *Controller) apply(items []model.Item, err error, at time.Time) {
	c.mu.Lock()
	next := snapshot{items: items, at: at}
	if err != nil {
		next.items = c.snap.items
		next.unavailable = unavailableReason(err)
		slog.Warn("item list unavailable", "error", err)
	}
	if next.items == nil {
		next.items = []model.Item{}
	}
	c.snap = next
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	c.notify()
}

func unavailableReason(err error) string {
	if errors.Is(err, store.ErrUnavailable) {
		return "The board is temporarily unavailable."
	}
	return err.Error()
}

// Refresh re-reads the full list and replaces the held one.
func (c *Controller) Refresh(ctx context.Context) error {
	items, err := c.items.List(ctx)
	c.apply(items, err, c.now())
	return err
}

// refreshAfterWrite is the re-fetch that follows every successful write.
// Its failure does not fail the write.
func (c *Controller) refreshAfterWrite(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("refresh after write failed", "error", err)
	}
}

// OnChange registers fn to run after every replacement of the list. fn
// runs on the delivering goroutine and must not block. The returned
// function unregisters it.
func (c *Controller) OnChange(fn func()) (cancel func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Controller) notify() {
	c.lmu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *Controller) current() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Items returns the full held list, most recent first.
func (c *Controller) Items() []model.Item {
	return c.current().items
}

// Item looks up an item in the held list.
func (c *Controller) Item(id string) (model.Item, bool) {
	for _, it := range c.current().items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Item{}, false
}

// View derives the items visible under f.
func (c *Controller) View(f Filters) View {
	s := c.current()
	if f.Kind == "" {
		f.Kind = KindAll
	}
	items := DeriveView(s.items, f)
	return View{
		Items:       items,
		Total:       len(s.items),
		Filters:     f,
		Unavailable: s.unavailable,
		UpdatedAt:   s.at,
	}
}

// Create validates n, uploads the image if one is attached, then inserts
// the item. A photo uploaded for an insert that fails is handed back to
// the image store for removal.
func (c *Controller) Create(ctx context.Context, n model.NewItem, up *Upload) (string, error) {
	if err := n.Validate(); err != nil {
		return "", &FlowError{Step: StepValidate, Err: err}
	}

	if up != nil {
		// No id exists yet, so the photo is named after a placeholder.
		url, err := c.images.Upload(ctx, up.Body, "tmp-"+uuid.NewString())
		if err != nil {
			return "", &FlowError{Step: StepUpload, Err: err}
		}
		n.ImageURL = url
	}

	id, err := c.items.Create(ctx, n)
	if err != nil {
		if n.ImageURL != "" {
			c.discardImage(ctx, n.ImageURL)
		}
		return "", &FlowError{Step: StepInsert, Err: err}
	}

	slog.Info("item created", "id", id, "kind", n.Kind, "image", n.ImageURL != "")
	c.refreshAfterWrite(ctx)
	return id, nil
}

// Edit rewrites the text fields of an item and, when up is set, replaces
// its photo.
func (c *Controller) Edit(ctx context.Context, id string, f model.Fields, up *Upload) error {
	if err := f.Validate(); err != nil {
		return &FlowError{Step: StepValidate, Err: err}
	}

	patch := model.FieldsPatch(f)
	if up != nil {
		current, err := c.items.Get(ctx, id)
		if err != nil {
			return &FlowError{Step: StepLookup, Err: err}
		}
		c.discardImage(ctx, current.ImageURL)

		url, err := c.images.Upload(ctx, up.Body, id)
		if err != nil {
			return &FlowError{Step: StepUpload, Err: err}
		}
		patch.ImageURL = &url
	}

	if err := c.items.Update(ctx, id, patch); err != nil {
		return &FlowError{Step: StepUpdate, Err: err}
	}

	slog.Info("item edited", "id", id, "image", up != nil)
	c.refreshAfterWrite(ctx)
	return nil
}

// SetStatus moves an active item to claimed or resolved.
func (c *Controller) SetStatus(ctx context.Context, id string, status model.Status) error {
	patch := model.Patch{Status: &status}
	if err := patch.Validate(); err != nil {
		return &FlowError{Step: StepValidate, Err: err}
	}
	if err := c.items.Update(ctx, id, patch); err != nil {
		return &FlowError{Step: StepUpdate, Err: err}
	}

	slog.Info("item status changed", "id", id, "status", status)
	c.refreshAfterWrite(ctx)
	return nil
}

// Delete removes an item after trying to remove its photo. The photo
// removal never blocks the row deletion.
func (c *Controller) Delete(ctx context.Context, id string) error {
	current, err := c.items.Get(ctx, id)
	if err != nil {
		return &FlowError{Step: StepLookup, Err: err}
	}
	c.discardImage(ctx, current.ImageURL)

	if err := c.items.Delete(ctx, id); err != nil {
		return &FlowError{Step: StepDelete, Err: err}
	}

	slog.Info("item deleted", "id", id)
	c.refreshAfterWrite(ctx)
	return nil
}

// discardImage asks the image store to drop url. Failures are logged only.
func (c *Controller) discardImage(ctx context.Context, url string) {
	if url == "" {
		return
	}
	removed, err := c.images.Delete(ctx, url)
	if err != nil {
		slog.Warn("failed to delete image", "url", url, "error", err)
		return
	}
	if !removed {
		slog.Debug("image left on host", "url", url)
	}
}
