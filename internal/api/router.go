package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"happin/internal/bus"
	"happin/internal/classify"
	"happin/internal/domain"
	"happin/internal/enrich"
	"happin/internal/ingest"
	"happin/internal/metrics"
)

const defaultMaxBody = 10 << 20

type Config struct {
	Store    domain.MessageStore
	Ingest   *ingest.Service
	Adapters Adapters
	Analyzer classify.Analyzer
	Strategy string // reported by /health
	Batch    BatchRunner
	Jobs     *enrich.Jobs
	Events   bus.Emitter // optional
	EventLog EventLog    // optional; enables GET /api/events
	// PublicURL is the externally visible base URL. Twilio signs the full
	// URL it called, which differs from r.Host behind a proxy.
	PublicURL    string
	MaxBodyBytes int64
	MetricsPath  string // empty disables /metrics
	// JobContext bounds background jobs started by the API.
	JobContext context.Context
	Logger     *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg Config) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.Events == nil {
		cfg.Events = bus.Nop{}
	}
	if cfg.Jobs == nil {
		cfg.Jobs = enrich.NewJobs(cfg.Logger)
	}
	if cfg.JobContext == nil {
		cfg.JobContext = context.Background()
	}

	h := &Handler{
		store:     cfg.Store,
		ingest:    cfg.Ingest,
		adapters:  cfg.Adapters,
		analyzer:  cfg.Analyzer,
		strategy:  cfg.Strategy,
		batch:     cfg.Batch,
		jobs:      cfg.Jobs,
		events:    cfg.Events,
		eventLog:  cfg.EventLog,
		publicURL: cfg.PublicURL,
		jobCtx:    cfg.JobContext,
		logger:    cfg.Logger,
	}

	r := chi.NewRouter()

	// Metrics first to capture all requests
	r.Use(Metrics)
	r.Use(MaxBodySize(cfg.MaxBodyBytes))

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Correlation)
	r.Use(Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	if cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, metrics.Handler())
	}
	r.Get("/health", h.Health)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/generic", h.webhook(cfg.Adapters.Generic))
		r.Post("/email", h.webhook(cfg.Adapters.Email))
		r.Post("/slack", h.webhook(cfg.Adapters.Slack))
		r.Post("/twilio", h.TwilioWebhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", h.ListMessages)
		r.Patch("/messages", h.PatchMessage)
		r.Get("/messages/{id}", h.GetMessage)
		r.Post("/ai/summarize", h.Summarize)
		r.Post("/enrich/batch", h.StartBatch)
		r.Get("/enrich/jobs", h.ListJobs)
		r.Get("/enrich/jobs/{id}", h.GetJob)
		r.Get("/events", h.RecentEvents)
	})

	return r
}
