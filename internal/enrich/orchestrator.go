// Package enrich runs message analysis off the ingestion path and writes the
// results back to the store.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"happin/internal/bus"
	"happin/internal/classify"
	"happin/internal/domain"
	"happin/internal/metrics"
)

const (
	DefaultWorkers    = 4
	DefaultQueueSize  = 256
	DefaultBatchSize  = 5
	DefaultBatchPause = time.Second
	DefaultTimeout    = 60 * time.Second
)

// Store is the part of the message store enrichment needs.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Message, error)
	List(ctx context.Context, f domain.ListFilter) ([]domain.Message, error)
	Update(ctx context.Context, id string, u domain.MessageUpdate) error
}

type Config struct {
	Store      Store
	Analyzer   classify.Analyzer
	Events     bus.Emitter // optional
	Workers    int
	QueueSize  int
	BatchSize  int           // messages in flight per batch group
	BatchPause time.Duration // pause between batch groups; negative disables
	Timeout    time.Duration // per message
	Logger     *slog.Logger
}

type task struct {
	id  string
	msg *domain.Message
}

// Orchestrator owns a bounded task queue drained by a fixed worker pool.
type Orchestrator struct {
	store      Store
	analyzer   classify.Analyzer
	events     bus.Emitter
	workers    int
	batchSize  int
	batchPause time.Duration
	timeout    time.Duration
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	queue   chan task
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

func New(cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	switch {
	case cfg.BatchPause == 0:
		cfg.BatchPause = DefaultBatchPause
	case cfg.BatchPause < 0:
		cfg.BatchPause = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Events == nil {
		cfg.Events = bus.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		store:      cfg.Store,
		analyzer:   cfg.Analyzer,
		events:     cfg.Events,
		workers:    cfg.Workers,
		batchSize:  cfg.BatchSize,
		batchPause: cfg.BatchPause,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		now:        time.Now,
		sleep:      sleepContext,
		queue:      make(chan task, cfg.QueueSize),
	}
}

// Start launches the worker pool. Tasks keep running after ctx is cancelled
// until Stop drains the queue; each one is bounded by the per-message timeout.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.closed {
		return
	}
	o.started = true

	base := context.WithoutCancel(ctx)
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for t := range o.queue {
				metrics.EnrichmentQueueDepth.Set(float64(len(o.queue)))
				_ = o.Enrich(base, t.id, t.msg)
			}
		}()
	}
	o.logger.Info("enrichment workers started", "workers", o.workers, "queue", cap(o.queue))
}

// Stop stops accepting tasks and waits for queued and in-flight ones.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	o.wg.Wait()
	metrics.EnrichmentQueueDepth.Set(0)
	o.logger.Info("enrichment workers stopped")
}

// Submit schedules enrichment without blocking. It returns false when the
// queue is full or stopped; the message then stays unprocessed until a
// backfill picks it up.
func (o *Orchestrator) Submit(id string, msg *domain.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		metrics.EnrichmentsTotal.WithLabelValues("dropped").Inc()
		o.logger.Warn("enrichment stopped, task dropped", "id", id)
		return false
	}
	select {
	case o.queue <- task{id: id, msg: msg}:
		metrics.EnrichmentQueueDepth.Set(float64(len(o.queue)))
		return true
	default:
		metrics.EnrichmentsTotal.WithLabelValues("dropped").Inc()
		o.logger.Warn("enrichment queue full, task dropped", "id", id, "queue", cap(o.queue))
		return false
	}
}

// Enrich analyzes one message and records the result with a single update.
// msg may be nil, in which case it is loaded from the store.
func (o *Orchestrator) Enrich(ctx context.Context, id string, msg *domain.Message) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if msg == nil {
		m, err := o.store.Get(ctx, id)
		if isNotFound(err) {
			o.logger.Warn("enrichment skipped, message not found", "id", id)
			return err
		}
		if err != nil {
			o.fail(id, "", err)
			return err
		}
		msg = m
	}

	p, s := o.analyzer.Analyze(ctx, msg)
	upd := domain.EnrichmentUpdate(p, s, o.now().UTC())
	if err := o.store.Update(ctx, id, upd); err != nil {
		uerr := &domain.EnrichmentUpdateError{MessageID: id, Err: err}
		o.fail(id, msg.Channel, uerr)
		return uerr
	}

	metrics.EnrichmentsTotal.WithLabelValues("ok").Inc()
	metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	o.logger.Debug("message enriched", "id", id, "priority", *upd.Priority, "category", p.Category)
	o.events.Emit(bus.Event{
		Type:      bus.EventMessageEnriched,
		Source:    "enrich",
		MessageID: id,
		Channel:   string(msg.Channel),
		Payload: map[string]any{
			"priority":       *upd.Priority,
			"category":       string(p.Category),
			"sentiment":      string(p.Sentiment),
			"actionRequired": p.ActionRequired,
		},
	})
	return nil
}

func (o *Orchestrator) fail(id string, ch domain.Channel, err error) {
	metrics.EnrichmentsTotal.WithLabelValues("failed").Inc()
	o.logger.Error("enrichment failed", "id", id, "err", err)
	o.events.Emit(bus.Event{
		Type:      bus.EventMessageEnrichFailed,
		Source:    "enrich",
		MessageID: id,
		Channel:   string(ch),
		Payload:   map[string]any{"error": err.Error()},
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
