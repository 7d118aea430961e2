// Package ingest runs one webhook delivery through verification,
// normalization and persistence, then hands the message to enrichment.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"happin/internal/bus"
	"happin/internal/channel"
	"happin/internal/domain"
	"happin/internal/metrics"
)

// Saver is the part of the message store ingestion needs.
type Saver interface {
	Save(ctx context.Context, msg *domain.Message) (string, error)
}

// Enqueuer schedules enrichment without blocking.
type Enqueuer interface {
	Submit(id string, msg *domain.Message) bool
}

type Config struct {
	Store    Saver
	Enricher Enqueuer    // optional; nil disables enrichment
	Events   bus.Emitter // optional
	Logger   *slog.Logger
}

// Service ingests deliveries from any channel adapter.
type Service struct {
	store    Saver
	enricher Enqueuer
	events   bus.Emitter
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config) *Service {
	if cfg.Events == nil {
		cfg.Events = bus.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		enricher: cfg.Enricher,
		events:   cfg.Events,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Outcome describes what happened to one delivery. At most one of ID,
// Skipped and Challenge is meaningful.
type Outcome struct {
	ID        string
	Duplicate bool
	Enqueued  bool
	Skipped   string
	Challenge string
}

// Ingest verifies, decodes and stores one delivery. The message is in the
// store when Ingest returns without error; enrichment happens later.
func (s *Service) Ingest(ctx context.Context, a channel.Adapter, in channel.Inbound) (Outcome, error) {
	name := a.Name()
	if err := a.Verify(in); err != nil {
		metrics.MessagesIngested.WithLabelValues(name, "unauthorized").Inc()
		s.logger.Warn("webhook signature rejected", "channel", name, "err", err)
		return Outcome{}, fmt.Errorf("%s webhook: %w", name, err)
	}

	payload, err := a.Decode(in)
	if err != nil {
		metrics.MessagesIngested.WithLabelValues(name, "invalid").Inc()
		return Outcome{}, fmt.Errorf("%s webhook: %w", name, err)
	}
	return s.IngestPayload(ctx, payload)
}

// IngestPayload normalizes and stores an already decoded payload.
func (s *Service) IngestPayload(ctx context.Context, p channel.Payload) (Outcome, error) {
	label := "unknown"
	if p != nil {
		label = string(p.Channel())
	}
	res, err := channel.Normalize(p, s.now().UTC())
	if err != nil {
		metrics.MessagesIngested.WithLabelValues(label, "invalid").Inc()
		return Outcome{}, err
	}

	switch {
	case res.Challenge != "":
		return Outcome{Challenge: res.Challenge}, nil
	case res.Message == nil:
		metrics.MessagesIngested.WithLabelValues(label, "skipped").Inc()
		s.logger.Debug("delivery skipped", "channel", label, "reason", res.Skipped)
		s.emit(ctx, bus.EventMessageSkipped, "", label, map[string]any{"reason": res.Skipped})
		return Outcome{Skipped: res.Skipped}, nil
	}

	msg := res.Message
	start := time.Now()
	id, err := s.store.Save(ctx, msg)
	metrics.ObserveStore("save", start)

	var dup *domain.DuplicateError
	if errors.As(err, &dup) {
		metrics.MessagesIngested.WithLabelValues(label, "duplicate").Inc()
		s.logger.Info("duplicate delivery", "id", dup.ID, "channel", msg.Channel, "channel_id", msg.ChannelID)
		s.emit(ctx, bus.EventMessageDuplicate, dup.ID, label, map[string]any{"channelId": msg.ChannelID})
		return Outcome{ID: dup.ID, Duplicate: true}, nil
	}
	if err != nil {
		metrics.MessagesIngested.WithLabelValues(label, "error").Inc()
		s.logger.Error("message not stored", "channel", msg.Channel, "channel_id", msg.ChannelID, "err", err)
		return Outcome{}, err
	}

	metrics.MessagesIngested.WithLabelValues(label, "stored").Inc()
	s.logger.Info("message received", "id", id, "channel", msg.Channel, "from", displayName(msg.From))
	s.emit(ctx, bus.EventMessageReceived, id, label, map[string]any{
		"channelId": msg.ChannelID,
		"threadId":  msg.ThreadID,
		"subject":   msg.Subject,
	})

	out := Outcome{ID: id}
	if s.enricher != nil {
		out.Enqueued = s.enricher.Submit(id, msg)
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, typ, id, ch string, payload map[string]any) {
	s.events.Emit(bus.Event{
		Type:          typ,
		Source:        "ingest",
		MessageID:     id,
		Channel:       ch,
		CorrelationID: CorrelationID(ctx),
		Payload:       payload,
	})
}

func displayName(p domain.Participant) string {
	for _, v := range []string{p.Name, p.Email, p.Phone, p.UserID} {
		if v != "" {
			return v
		}
	}
	return "unknown"
}

type correlationKey struct{}

// WithCorrelationID attaches a request id that ends up on emitted events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the request id stored by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
