package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"happin/internal/enrich"
)

const maxBatchIDs = 500

type batchRequest struct {
	IDs         []string `json:"ids"`
	Unprocessed bool     `json:"unprocessed"`
}

// StartBatch serves POST /api/enrich/batch and returns before any work is done.
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if h.batch == nil {
		h.Error(w, http.StatusServiceUnavailable, "enrichment disabled")
		return
	}
	if len(req.IDs) == 0 && !req.Unprocessed {
		h.Error(w, http.StatusBadRequest, "ids or unprocessed is required")
		return
	}
	if len(req.IDs) > maxBatchIDs {
		h.Error(w, http.StatusBadRequest, "too many ids")
		return
	}

	var id string
	if len(req.IDs) > 0 {
		ids := append([]string(nil), req.IDs...)
		id = h.jobs.Submit(h.jobCtx, "batch", len(ids), func(ctx context.Context, progress func(int)) (enrich.BatchReport, error) {
			return h.batch.BatchEnrich(ctx, ids, func(done, total int) {
				progress(done * 100 / total)
			})
		})
	} else {
		id = h.jobs.Submit(h.jobCtx, "backfill", 0, func(ctx context.Context, _ func(int)) (enrich.BatchReport, error) {
			return h.batch.BackfillUnprocessed(ctx, 0, nil)
		})
	}
	h.JSON(w, http.StatusAccepted, map[string]any{"ok": true, "jobId": id})
}

// GetJob serves GET /api/enrich/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		h.Error(w, http.StatusNotFound, "job not found")
		return
	}
	h.JSON(w, http.StatusOK, job)
}

// ListJobs serves GET /api/enrich/jobs. Finished jobs older than a day are
// dropped first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.jobs.Clean(24 * time.Hour)
	h.JSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": h.jobs.List()})
}
