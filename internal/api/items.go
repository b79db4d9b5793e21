package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/lostfound/board/internal/board"
	"github.com/lostfound/board/internal/imaging"
	"github.com/lostfound/board/internal/model"
)

// maxFormBytes bounds a create or edit request: the image plus the text.
const maxFormBytes = imaging.MaxInputBytes + 1<<20

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	Board    Board
	Previews PreviewStore
}

type itemResponse struct {
	ID   string      `json:"id"`
	Item *model.Item `json:"item,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// List handles GET /api/items?kind=&q=.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, err := board.ParseFilters(r.URL.Query().Get("kind"), r.URL.Query().Get("q"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "kind must be all, lost or found")
		return
	}

	view := h.Board.View(filters)
	if view.Unavailable != "" && view.Total == 0 {
		jsonError(w, http.StatusServiceUnavailable, view.Unavailable)
		return
	}

	body, err := json.Marshal(view)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to encode items")
		return
	}
	sum := blake2b.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.Board.Item(chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	form, err := ReadItemForm(w, r, h.Previews)
	if err != nil {
		flowError(w, r, err)
		return
	}
	defer form.Close()

	n := model.NewItem{Kind: model.Kind(form.Kind), Fields: form.Fields}
	id, err := h.Board.Create(r.Context(), n, form.Upload)
	if err != nil {
		flowError(w, r, err)
		return
	}
	form.Saved()

	resp := itemResponse{ID: id}
	if item, ok := h.Board.Item(id); ok {
		resp.Item = &item
	}
	jsonResponse(w, http.StatusCreated, resp)
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	form, err := ReadItemForm(w, r, h.Previews)
	if err != nil {
		flowError(w, r, err)
		return
	}
	defer form.Close()

	if form.Kind != "" {
		if item, ok := h.Board.Item(id); ok && string(item.Kind) != form.Kind {
			jsonError(w, http.StatusBadRequest, "kind cannot be changed")
			return
		}
	}

	if err := h.Board.Edit(r.Context(), id, form.Fields, form.Upload); err != nil {
		flowError(w, r, err)
		return
	}
	form.Saved()

	resp := itemResponse{ID: id}
	if item, ok := h.Board.Item(id); ok {
		resp.Item = &item
	}
	jsonResponse(w, http.StatusOK, resp)
}

// SetStatus handles PUT /api/items/{id}/status.
func (h *ItemsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "status must be claimed or resolved")
		return
	}

	if err := h.Board.SetStatus(r.Context(), id, status); err != nil {
		flowError(w, r, err)
		return
	}

	resp := itemResponse{ID: id}
	if item, ok := h.Board.Item(id); ok {
		resp.Item = &item
	}
	jsonResponse(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Board.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		flowError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// ItemForm is a parsed create or edit submission.
type ItemForm struct {
	Kind       string
	Fields     model.Fields
	Upload     *board.Upload
	PreviewRef string

	previews PreviewStore
	closers  []io.Closer
}

// Close releases the uploaded file.
func (f *ItemForm) Close() {
	for _, c := range f.closers {
		c.Close()
	}
}

// Saved releases the preview the submission was built from. A failed
// submission keeps it so the form can be retried.
func (f *ItemForm) Saved() {
	if f.PreviewRef == "" || f.previews == nil {
		return
	}
	if err := f.previews.Release(f.PreviewRef); err != nil {
		slog.Warn("failed to release preview", "error", err)
	}
}

// ReadItemForm reads a multipart (or urlencoded) item form. The image
// comes from the "image" file part, or from a preview reference in
// "preview_ref". The caller must Close the form.
func ReadItemForm(w http.ResponseWriter, r *http.Request, previews PreviewStore) (*ItemForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var err error
	if isMultipart(r) {
		err = r.ParseMultipartForm(2 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("reading form: %w", imaging.ErrTooLarge)
		}
		return nil, fmt.Errorf("reading form: %w: %v", model.ErrMissingField, err)
	}

	form := &ItemForm{
		Kind: r.FormValue("kind"),
		Fields: model.Fields{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Location:    r.FormValue("location"),
			ContactInfo: r.FormValue("contact_info"),
		},
		PreviewRef: r.FormValue("preview_ref"),
		previews:   previews,
	}

	if r.MultipartForm != nil {
		if file, header, err := r.FormFile("image"); err == nil {
			if header.Size > imaging.MaxInputBytes {
				file.Close()
				return nil, fmt.Errorf("%s: %w", header.Filename, imaging.ErrTooLarge)
			}
			form.Upload = &board.Upload{Filename: header.Filename, Body: file}
			form.closers = append(form.closers, file)
			// A fresh file supersedes any earlier preview.
			return form, nil
		} else if !errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("reading image: %w", imaging.ErrNotImage)
		}
	}

	if form.PreviewRef != "" && previews != nil {
		data, _, err := previews.Open(form.PreviewRef)
		if err != nil {
			return nil, fmt.Errorf("opening preview: %w", err)
		}
		form.Upload = &board.Upload{Filename: "preview", Body: bytes.NewReader(data)}
	}
	return form, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
