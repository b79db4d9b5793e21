package api

import (
	"net/http"
)

// HealthHandler reports on the service dependencies.
type HealthHandler struct {
	Health            HealthChecker
	FeedMode          string
	UploadsConfigured bool
}

type healthResponse struct {
	Persistence string `json:"persistence"`
	Feed        string `json:"feed"`
	Uploads     string `json:"uploads"`
}

// Get handles GET /api/health. It answers 503 while persistence is
// unreachable.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Persistence: "ok", Feed: h.FeedMode, Uploads: "configured"}
	status := http.StatusOK

	if h.Health == nil || h.Health.Health(r.Context()) != nil {
		resp.Persistence = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if !h.UploadsConfigured {
		resp.Uploads = "not_configured"
	}
	jsonResponse(w, status, resp)
}
