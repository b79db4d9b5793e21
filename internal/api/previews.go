package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lostfound/board/internal/imaging"
)

// PreviewsHandler serves images picked in a form before it is saved.
type PreviewsHandler struct {
	Previews PreviewStore
}

type previewResponse struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// Create handles POST /api/previews.
func (h *PreviewsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(2 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			flowError(w, r, imaging.ErrTooLarge)
			return
		}
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	ref, err := h.Previews.Create(file)
	if err != nil {
		flowError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, previewResponse{Ref: ref, URL: "/api/previews/" + ref})
}

// Get handles GET /api/previews/{ref}.
func (h *PreviewsHandler) Get(w http.ResponseWriter, r *http.Request) {
	data, mime, err := h.Previews.Open(chi.URLParam(r, "ref"))
	if err != nil {
		jsonError(w, http.StatusNotFound, "preview not found")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Write(data)
}

// Delete handles DELETE /api/previews/{ref}.
func (h *PreviewsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Previews.Release(chi.URLParam(r, "ref")); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid preview reference")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "preview released"})
}
