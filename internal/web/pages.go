package web

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/lostfound/board/internal/api"
	"github.com/lostfound/board/internal/board"
	"github.com/lostfound/board/internal/model"
)

type tab struct {
	Value  string
	Label  string
	Active bool
}

type boardPage struct {
	PageData
	View    board.View
	Filters board.Filters
	Tabs    []tab
}

type formPage struct {
	PageData
	Action     string
	Editing    bool
	ID         string
	Kind       string
	Fields     model.Fields
	ImageURL   string
	PreviewRef string
}

var doneMessages = map[string]string{
	"created":  "Notice posted.",
	"updated":  "Notice updated.",
	"claimed":  "Notice marked as claimed.",
	"resolved": "Notice marked as resolved.",
	"deleted":  "Notice deleted.",
}

// BoardPage handles GET /.
func (s *Server) BoardPage(w http.ResponseWriter, r *http.Request) {
	filters, err := board.ParseFilters(r.URL.Query().Get("kind"), r.URL.Query().Get("q"))
	if err != nil {
		filters = board.Filters{Kind: board.KindAll, Query: r.URL.Query().Get("q")}
	}

	s.Templates.Render(w, http.StatusOK, "board.html", &boardPage{
		PageData: PageData{Title: "Lost & Found", Success: doneMessages[r.URL.Query().Get("done")]},
		View:     s.Board.View(filters),
		Filters:  filters,
		Tabs:     tabsFor(filters.Kind),
	})
}

// NewItemPage handles GET /items/new.
func (s *Server) NewItemPage(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if _, err := model.ParseKind(kind); err != nil {
		kind = string(model.KindLost)
	}
	s.Templates.Render(w, http.StatusOK, "form.html", &formPage{
		PageData: PageData{Title: "New notice"},
		Action:   "/items",
		Kind:     kind,
	})
}

// EditItemPage handles GET /items/{id}/edit.
func (s *Server) EditItemPage(w http.ResponseWriter, r *http.Request) {
	item, ok := s.Board.Item(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.Templates.Render(w, http.StatusOK, "form.html", &formPage{
		PageData: PageData{Title: "Edit notice"},
		Action:   "/items/" + item.ID,
		Editing:  true,
		ID:       item.ID,
		Kind:     string(item.Kind),
		Fields:   item.Fields(),
		ImageURL: item.ImageURL,
	})
}

// ItemCreateSubmit handles POST /items.
func (s *Server) ItemCreateSubmit(w http.ResponseWriter, r *http.Request) {
	page := &formPage{PageData: PageData{Title: "New notice"}, Action: "/items"}

	form, err := api.ReadItemForm(w, r, s.Previews)
	if err != nil {
		s.formError(w, r, page, err)
		return
	}
	defer form.Close()
	page.Kind, page.Fields, page.PreviewRef = form.Kind, form.Fields, form.PreviewRef

	n := model.NewItem{Kind: model.Kind(form.Kind), Fields: form.Fields}
	if _, err := s.Board.Create(r.Context(), n, form.Upload); err != nil {
		s.formError(w, r, page, err)
		return
	}
	form.Saved()

	redirectDone(w, r, "created", form.Kind)
}

// ItemUpdateSubmit handles POST /items/{id}.
func (s *Server) ItemUpdateSubmit(w http.ResponseWriter, r *http.Request) {
	item, ok := s.Board.Item(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	page := &formPage{
		PageData: PageData{Title: "Edit notice"},
		Action:   "/items/" + item.ID,
		Editing:  true,
		ID:       item.ID,
		Kind:     string(item.Kind),
		ImageURL: item.ImageURL,
	}

	form, err := api.ReadItemForm(w, r, s.Previews)
	if err != nil {
		s.formError(w, r, page, err)
		return
	}
	defer form.Close()
	page.Fields, page.PreviewRef = form.Fields, form.PreviewRef

	if err := s.Board.Edit(r.Context(), item.ID, form.Fields, form.Upload); err != nil {
		s.formError(w, r, page, err)
		return
	}
	form.Saved()

	redirectDone(w, r, "updated", "")
}

// ItemStatusSubmit handles POST /items/{id}/status.
func (s *Server) ItemStatusSubmit(w http.ResponseWriter, r *http.Request) {
	status, err := model.ParseStatus(r.FormValue("status"))
	if err == nil {
		err = s.Board.SetStatus(r.Context(), r.PathValue("id"), status)
	}
	if err != nil {
		s.boardError(w, r, err)
		return
	}
	redirectDone(w, r, string(status), "")
}

// ItemDeleteSubmit handles POST /items/{id}/delete.
func (s *Server) ItemDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.Board.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.boardError(w, r, err)
		return
	}
	redirectDone(w, r, "deleted", "")
}

// formError re-renders the form with what was entered and a message.
func (s *Server) formError(w http.ResponseWriter, r *http.Request, page *formPage, err error) {
	status, msg := api.StatusFor(err)
	slog.Warn("form submission failed", "path", r.URL.Path, "status", status, "error", err)
	page.Error = msg
	s.Templates.Render(w, status, "form.html", page)
}

// boardError renders the board with a message.
func (s *Server) boardError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := api.StatusFor(err)
	slog.Warn("board action failed", "path", r.URL.Path, "status", status, "error", err)
	filters := board.Filters{Kind: board.KindAll}
	s.Templates.Render(w, status, "board.html", &boardPage{
		PageData: PageData{Title: "Lost & Found", Error: msg},
		View:     s.Board.View(filters),
		Filters:  filters,
		Tabs:     tabsFor(filters.Kind),
	})
}

func tabsFor(kind string) []tab {
	tabs := []tab{
		{Value: board.KindAll, Label: "All"},
		{Value: string(model.KindLost), Label: "Lost"},
		{Value: string(model.KindFound), Label: "Found"},
	}
	for i := range tabs {
		tabs[i].Active = tabs[i].Value == kind
	}
	return tabs
}

func redirectDone(w http.ResponseWriter, r *http.Request, done, kind string) {
	q := url.Values{"done": {done}}
	if kind != "" {
		q.Set("kind", kind)
	}
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusSeeOther)
}
