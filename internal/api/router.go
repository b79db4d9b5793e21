package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lostfound/board/internal/board"
	"github.com/lostfound/board/internal/metrics"
	"github.com/lostfound/board/internal/model"
)

// Board is the view state and write flows the API serves.
type Board interface {
	View(f board.Filters) board.View
	Item(id string) (model.Item, bool)
	Create(ctx context.Context, n model.NewItem, up *board.Upload) (string, error)
	Edit(ctx context.Context, id string, f model.Fields, up *board.Upload) error
	SetStatus(ctx context.Context, id string, status model.Status) error
	Delete(ctx context.Context, id string) error
	OnChange(fn func()) (cancel func())
}

// PreviewStore keeps unsaved images behind signed references.
type PreviewStore interface {
	Create(r io.Reader) (string, error)
	Open(ref string) ([]byte, string, error)
	Release(ref string) error
}

// HealthChecker reports whether persistence is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the services behind the API.
type Deps struct {
	Board    Board
	Previews PreviewStore
	Health   HealthChecker
	// FeedMode names the change feed in use, for the health report.
	FeedMode string
	// UploadsConfigured reports whether the image host can take uploads.
	UploadsConfigured bool
	Metrics           *metrics.Metrics
}

// NewRouter creates the API router with all endpoints registered under /api.
func NewRouter(d Deps) http.Handler {
	items := &ItemsHandler{Board: d.Board, Previews: d.Previews}
	previews := &PreviewsHandler{Previews: d.Previews}
	stream := &StreamHandler{Board: d.Board, Metrics: d.Metrics}
	health := &HealthHandler{Health: d.Health, FeedMode: d.FeedMode, UploadsConfigured: d.UploadsConfigured}

	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.Get)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", items.List)
			r.Post("/", items.Create)
			r.Get("/stream", stream.ServeHTTP)
			r.Get("/{id}", items.Get)
			r.Put("/{id}", items.Update)
			r.Put("/{id}/status", items.SetStatus)
			r.Delete("/{id}", items.Delete)
		})

		r.Route("/previews", func(r chi.Router) {
			r.Post("/", previews.Create)
			r.Get("/{ref}", previews.Get)
			r.Delete("/{ref}", previews.Delete)
		})
	})

	return r
}
