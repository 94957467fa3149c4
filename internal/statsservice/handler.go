package statsservice

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fundarb/fundarb/internal/domain"
)

// Handler serves Stats-Service's read-only HTTP surface.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler bound to svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetDynamic responds with the cached-or-recomputed dynamic aggregate.
// GET /stats/dynamic
func (h *Handler) GetDynamic(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetDynamicStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetStatic responds with the persisted StatsSnapshot for snapshot_date
// (default today UTC).
// GET /stats/static?snapshot_date=2025-01-15
func (h *Handler) GetStatic(w http.ResponseWriter, r *http.Request) {
	date, err := parseSnapshotDate(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot_date"})
		return
	}
	snap, err := h.svc.GetSnapshot(r.Context(), date)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot for date"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListStatic responds with the most recent StatsSnapshots.
// GET /stats/static/list?limit=1..365 (default 30)
func (h *Handler) ListStatic(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 30, 365)
	snaps, err := h.svc.stats.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// PostSnapshot triggers an out-of-schedule archive for snapshot_date
// (default today UTC).
// POST /stats/snapshot?snapshot_date=2025-01-15
func (h *Handler) PostSnapshot(w http.ResponseWriter, r *http.Request) {
	date, err := parseSnapshotDate(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot_date"})
		return
	}
	if err := h.svc.ArchiveSnapshot(r.Context(), date); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	snap, err := h.svc.GetSnapshot(r.Context(), date)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetRecentEvents responds with the most recent PositionEvents.
// GET /events/recent?limit=1..500 (default 50)
func (h *Handler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	events, err := h.svc.events.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetOpenPositions responds with a live view of every OPEN group.
// GET /positions/open
func (h *Handler) GetOpenPositions(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.GetOpenPositions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func parseSnapshotDate(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("snapshot_date")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
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
