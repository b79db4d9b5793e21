package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lostfound/board/internal/board"
	"github.com/lostfound/board/internal/imaging"
	"github.com/lostfound/board/internal/model"
	"github.com/lostfound/board/internal/storage"
	"github.com/lostfound/board/internal/store"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// retryMessage is shown for failures the user can only retry.
const retryMessage = "Something went wrong, please try again."

// StatusFor maps a flow error to an HTTP status and a message fit for the
// user. Validation problems keep their detail; remote failures do not.
func StatusFor(err error) (int, string) {
	var remote *storage.RemoteError
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, model.ErrMissingField),
		errors.Is(err, model.ErrFieldTooLong),
		errors.Is(err, model.ErrInvalidKind),
		errors.Is(err, model.ErrInvalidStatus):
		return http.StatusBadRequest, detail(err)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "only active items can be claimed or resolved"
	case errors.Is(err, imaging.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "image must be at most 10 MB"
	case errors.Is(err, imaging.ErrNotImage):
		return http.StatusUnprocessableEntity, "file must be a JPEG, PNG, GIF or WebP image"
	case errors.Is(err, imaging.ErrCompressionFailed):
		return http.StatusUnprocessableEntity, "image could not be compressed below 3 MB"
	case errors.Is(err, imaging.ErrPreviewNotFound), errors.Is(err, imaging.ErrPreviewInvalid):
		return http.StatusBadRequest, "the image preview expired, please pick the file again"
	case errors.Is(err, storage.ErrNotConfigured):
		return http.StatusServiceUnavailable, "image uploads are not configured"
	case errors.As(err, &remote), errors.Is(err, storage.ErrNoURL):
		return http.StatusBadGateway, retryMessage
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "the board is temporarily unavailable"
	}
	return http.StatusInternalServerError, retryMessage
}

// detail drops the flow step prefix from a validation message.
func detail(err error) string {
	var ferr *board.FlowError
	if errors.As(err, &ferr) {
		return ferr.Err.Error()
	}
	return err.Error()
}

// flowError logs err and writes the mapped response.
func flowError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	jsonError(w, status, msg)
}
