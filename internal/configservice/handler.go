package configservice

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fundarb/fundarb/internal/domain"
)

// Handler serves the Config-Service HTTP surface.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler bound to svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetCurrent responds with the current (highest-version) profile.
// GET /config/current
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.Current(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no config profile"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type putRequest struct {
	Thresholds           *domain.Thresholds `json:"thresholds,omitempty"`
	RiskLimits           *domain.RiskLimits `json:"risk_limits,omitempty"`
	GlobalEnable         *bool              `json:"global_enable,omitempty"`
	ScanIntervalSeconds  *int               `json:"scan_interval_seconds,omitempty"`
	CloseIntervalSeconds *int               `json:"close_interval_seconds,omitempty"`
	OpenIntervalSeconds  *int               `json:"open_interval_seconds,omitempty"`
	Operator             string             `json:"operator,omitempty"`
}

// PutCurrent writes a new versioned profile, merging absent fields from the
// previous one.
// PUT /config/current
func (h *Handler) PutCurrent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body failed"})
		return
	}

	var req putRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	operator := req.Operator
	if operator == "" {
		operator = "console"
	}

	profile, err := h.svc.Put(r.Context(), PutOptions{
		Thresholds:           req.Thresholds,
		RiskLimits:           req.RiskLimits,
		GlobalEnable:         req.GlobalEnable,
		ScanIntervalSeconds:  req.ScanIntervalSeconds,
		CloseIntervalSeconds: req.CloseIntervalSeconds,
		OpenIntervalSeconds:  req.OpenIntervalSeconds,
		Operator:             operator,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
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
