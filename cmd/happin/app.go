package main

import (
	"context"
	"fmt"
	"net/http"

	"happin/internal/api"
	"happin/internal/bus"
	"happin/internal/channel"
	"happin/internal/classify"
	"happin/internal/config"
	"happin/internal/enrich"
	"happin/internal/ingest"
	"happin/internal/provider"
	"happin/internal/store"
)

// app holds the wired service graph shared by serve and the batch commands.
type app struct {
	cfg       *config.Config
	store     *store.SQLStore
	events    *bus.EventBus
	forwarder *bus.Forwarder
	engine    *classify.Engine
	enricher  *enrich.Orchestrator
	jobs      *enrich.Jobs
	ingest    *ingest.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.DBPath,
		DSN:    cfg.Store.DSN,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("message store: %w", err)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	events := bus.NewEventBus(logger)
	a := &app{cfg: cfg, store: st, events: events, engine: engine}

	if cfg.Events.AMQP.Enabled {
		a.forwarder = bus.NewForwarder(bus.ForwarderConfig{
			Publisher: newPublisher(cfg.Events.AMQP),
			Producer:  "happin",
			QueueSize: cfg.Enrichment.QueueSize,
			Logger:    logger,
		})
		a.forwarder.Attach(events)
		a.forwarder.Start(ctx)
	}

	a.enricher = enrich.New(enrich.Config{
		Store:      st,
		Analyzer:   engine,
		Events:     events,
		Workers:    cfg.Enrichment.Workers,
		QueueSize:  cfg.Enrichment.QueueSize,
		BatchSize:  cfg.Enrichment.BatchSize,
		BatchPause: cfg.Enrichment.BatchPause(),
		Timeout:    cfg.Enrichment.Timeout(),
		Logger:     logger,
	})
	a.jobs = enrich.NewJobs(logger)
	a.ingest = ingest.New(ingest.Config{
		Store:    st,
		Enricher: a.enricher,
		Events:   events,
		Logger:   logger,
	})

	logger.Info("service wired",
		"store", st.Driver(),
		"classifier", engine.Strategy(),
		"workers", cfg.Enrichment.Workers,
		"amqp", cfg.Events.AMQP.Enabled,
	)
	return a, nil
}

// newEngine picks the classification strategy. With "auto" a missing or
// broken provider falls back to heuristics; with "llm" it is an error.
func newEngine(cfg *config.Config) (*classify.Engine, error) {
	llm := classify.LLMConfig{
		Temperature: cfg.Classifier.Temperature,
		Timeout:     secondsDuration(cfg.Classifier.TimeoutSeconds),
		Logger:      logger,
	}
	if cfg.Classifier.Strategy != classify.StrategyHeuristic {
		p, err := provider.NewFactory(cfg, logger).Classifier()
		switch {
		case err == nil:
			llm.Provider = p
		case cfg.Classifier.Strategy == classify.StrategyLLM:
			return nil, fmt.Errorf("classifier provider: %w", err)
		default:
			logger.Warn("no classifier provider, using heuristics", "err", err)
		}
	}
	return classify.New(cfg.Classifier.Strategy, llm)
}

func newPublisher(c config.AMQPConfig) bus.Publisher {
	pub, err := bus.NewAMQPPublisher(c.URL, c.Exchange, logger)
	if err != nil {
		logger.Warn("amqp unavailable, event forwarding disabled", "exchange", c.Exchange, "err", err)
		return bus.NewFallbackPublisher(logger)
	}
	return pub
}

func (a *app) router(jobCtx context.Context) http.Handler {
	ch := a.cfg.Channels
	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Endpoint
	}
	return api.NewRouter(api.Config{
		Store:  a.store,
		Ingest: a.ingest,
		Adapters: api.Adapters{
			Generic: channel.NewGeneric(channel.GenericConfig{Secret: ch.Generic.Secret}),
			Email:   channel.NewEmail(channel.EmailConfig{Token: ch.Email.Token}),
			Slack:   channel.NewSlack(channel.SlackConfig{SigningSecret: ch.Slack.SigningSecret}),
			Twilio:  channel.NewTwilio(channel.TwilioConfig{AuthToken: ch.Twilio.AuthToken}),
		},
		Analyzer:     a.engine,
		Strategy:     a.engine.Strategy(),
		Batch:        a.enricher,
		Jobs:         a.jobs,
		Events:       a.events,
		EventLog:     a.events,
		PublicURL:    a.cfg.Server.PublicURL,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		MetricsPath:  metricsPath,
		JobContext:   jobCtx,
		Logger:       logger,
	})
}

// Close stops enrichment, flushes forwarded events and closes the store, in
// that order.
func (a *app) Close() {
	a.enricher.Stop()
	a.jobs.Wait()
	if a.forwarder != nil {
		if err := a.forwarder.Stop(); err != nil {
			logger.Warn("event forwarder close", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("store close", "err", err)
	}
}
