package api

import (
	"context"
	"net/http"
	"time"

	"happin/internal/bus"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	OK         bool             `json:"ok"`
	Status     string           `json:"status"` // "healthy" or "degraded"
	Service    string           `json:"service"`
	Version    string           `json:"version"`
	Classifier string           `json:"classifier,omitempty"`
	Checks     map[string]Check `json:"checks"`
	Timestamp  string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	if h.store != nil {
		start := time.Now()
		if err := h.store.Ping(ctx); err != nil {
			checks["store"] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
		} else {
			checks["store"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["store"] = Check{Status: "fail", Message: "not configured"}
		healthy = false
	}

	resp := HealthResponse{
		OK:         healthy,
		Status:     "healthy",
		Service:    "happin",
		Version:    version,
		Classifier: h.strategy,
		Checks:     checks,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.JSON(w, code, resp)
}

// RecentEvents serves GET /api/events?type=&since=.
func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.eventLog == nil {
		h.JSON(w, http.StatusOK, map[string]any{"ok": true, "events": []bus.Event{}})
		return
	}
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = "*"
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "events": h.eventLog.Replay(typ, since)})
}
