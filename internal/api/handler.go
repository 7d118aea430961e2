// Package api exposes the webhook endpoints and the message API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"happin/internal/bus"
	"happin/internal/channel"
	"happin/internal/classify"
	"happin/internal/domain"
	"happin/internal/enrich"
	"happin/internal/ingest"
)

// BatchRunner runs batch enrichment. *enrich.Orchestrator implements it.
type BatchRunner interface {
	BatchEnrich(ctx context.Context, ids []string, progress func(done, total int)) (enrich.BatchReport, error)
	BackfillUnprocessed(ctx context.Context, pageSize int, progress func(done int)) (enrich.BatchReport, error)
}

// EventLog returns recent events. *bus.EventBus implements it.
type EventLog interface {
	Replay(eventType string, since time.Time) []bus.Event
}

// Adapters holds one adapter per webhook endpoint.
type Adapters struct {
	Generic channel.Adapter
	Email   channel.Adapter
	Slack   channel.Adapter
	Twilio  channel.Adapter
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     domain.MessageStore
	ingest    *ingest.Service
	adapters  Adapters
	analyzer  classify.Analyzer
	strategy  string
	batch     BatchRunner
	jobs      *enrich.Jobs
	events    bus.Emitter
	eventLog  EventLog
	publicURL string
	jobCtx    context.Context
	logger    *slog.Logger
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("response encode failed", "err", err)
	}
}

// Error sends {ok:false, error} with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]any{"ok": false, "error": message})
}

// Fail maps err onto a status code and writes it.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
		switch status {
		case http.StatusServiceUnavailable:
			msg = "store unavailable"
		default:
			msg = "internal error"
		}
	}
	h.Error(w, status, msg)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrMissingSignature):
		return http.StatusUnauthorized
	case errors.Is(err, channel.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.Invalid("body", "malformed JSON")
	}
	return nil
}
