package enrich

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"happin/internal/domain"
)

// BatchReport summarizes one batch run.
type BatchReport struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"` // ids not found
	Failures  map[string]string `json:"failures,omitempty"`
}

func (r *BatchReport) merge(o BatchReport) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	for id, e := range o.Failures {
		if r.Failures == nil {
			r.Failures = map[string]string{}
		}
		r.Failures[id] = e
	}
}

// BatchEnrich enriches ids in groups of the configured batch size, pausing
// between groups. A failing id never stops its siblings. progress, if set, is
// called with the number of ids handled so far after every group.
//
// The returned error is non-nil only when ctx ends before all groups ran.
func (o *Orchestrator) BatchEnrich(ctx context.Context, ids []string, progress func(done, total int)) (BatchReport, error) {
	var (
		mu  sync.Mutex
		rep BatchReport
	)
	for start := 0; start < len(ids); start += o.batchSize {
		if start > 0 {
			if err := o.sleep(ctx, o.batchPause); err != nil {
				return rep, fmt.Errorf("batch interrupted after %d of %d: %w", start, len(ids), err)
			}
		}
		end := min(start+o.batchSize, len(ids))

		var g errgroup.Group
		for _, id := range ids[start:end] {
			g.Go(func() error {
				err := o.Enrich(ctx, id, nil)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					rep.Attempted++
					rep.Succeeded++
				case isNotFound(err):
					rep.Skipped++
				default:
					rep.Attempted++
					rep.Failed++
					if rep.Failures == nil {
						rep.Failures = map[string]string{}
					}
					rep.Failures[id] = err.Error()
				}
				return nil
			})
		}
		_ = g.Wait()

		o.logger.Info("batch group enriched", "group", start/o.batchSize+1, "size", end-start, "total", len(ids))
		if progress != nil {
			progress(end, len(ids))
		}
	}
	return rep, nil
}

// BackfillUnprocessed walks every message not yet enriched, newest first, and
// enriches them in batches of pageSize.
func (o *Orchestrator) BackfillUnprocessed(ctx context.Context, pageSize int, progress func(done int)) (BatchReport, error) {
	if pageSize <= 0 {
		pageSize = domain.DefaultListLimit
	}
	var (
		total  BatchReport
		cursor string
	)
	for {
		page, err := o.store.List(ctx, domain.ListFilter{UnprocessedOnly: true, Limit: pageSize, Cursor: cursor})
		if err != nil {
			return total, fmt.Errorf("list unprocessed: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}
		ids := make([]string, len(page))
		for i, m := range page {
			ids[i] = m.ID
		}
		rep, err := o.BatchEnrich(ctx, ids, nil)
		total.merge(rep)
		if progress != nil {
			progress(total.Attempted + total.Skipped)
		}
		if err != nil {
			return total, err
		}
		if len(page) < pageSize {
			return total, nil
		}
		if err := o.sleep(ctx, o.batchPause); err != nil {
			return total, err
		}
		cursor = ids[len(ids)-1]
	}
}
