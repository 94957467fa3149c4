package marketfeed

import (
	"encoding/json"
	"net/http"
)

// Handler serves Market-Feed's read-only HTTP surface.
type Handler struct {
	feed *Feed
}

// NewHandler creates a Handler bound to feed.
func NewHandler(feed *Feed) *Handler {
	return &Handler{feed: feed}
}

// HealthCheck responds with the last-cycle batch counts per venue.
// GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.feed.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not initialised"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"venue_a": len(h.feed.Latest("venue_a")),
		"venue_b": len(h.feed.Latest("venue_b")),
	})
}

// Funding responds with the last successful batch for a given venue.
// GET /funding/{venue}
func (h *Handler) Funding(w http.ResponseWriter, r *http.Request) {
	venue := r.PathValue("venue")
	if venue != "venue_a" && venue != "venue_b" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown venue"})
		return
	}
	writeJSON(w, http.StatusOK, h.feed.Latest(venue))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
