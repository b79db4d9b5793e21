package web

import (
	"net/http"

	"github.com/lostfound/board/internal/api"
	webembed "github.com/lostfound/board/web"
)

// Server holds all dependencies for page handlers.
type Server struct {
	Board     api.Board
	Previews  api.PreviewStore
	Templates *Templates
}

// NewRouter creates the web page router with all page routes registered.
func NewRouter(b api.Board, previews api.PreviewStore) (http.Handler, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		Board:     b,
		Previews:  previews,
		Templates: templates,
	}

	mux := http.NewServeMux()

	// Static assets.
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(webembed.StaticFS()))))

	mux.HandleFunc("GET /{$}", s.BoardPage)
	mux.HandleFunc("GET /items/new", s.NewItemPage)
	mux.HandleFunc("POST /items", s.ItemCreateSubmit)
	mux.HandleFunc("GET /items/{id}/edit", s.EditItemPage)
	mux.HandleFunc("POST /items/{id}", s.ItemUpdateSubmit)
	mux.HandleFunc("POST /items/{id}/status", s.ItemStatusSubmit)
	mux.HandleFunc("POST /items/{id}/delete", s.ItemDeleteSubmit)

	return mux, nil
}
