package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"happin/internal/metrics"
)

// Envelope is the wire format of forwarded events.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	// Request correlation id
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event id
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// When the event was emitted
	Time time.Time `json:"time"`
	// Event name, e.g. message.received
	Type string `json:"type"`
}

// Publisher delivers envelopes to a broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQPPublisher connects to RabbitMQ and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	return &rmqPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := uuid.NewString()
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	err = ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msgID,
		CorrelationId: cid,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err == nil {
		r.logger.Debug("event published", "key", key, "exchange", r.exchange)
	}
	return err
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}

// FallbackPublisher drops every envelope. It stands in when the broker is
// disabled or unreachable at startup.
type FallbackPublisher struct {
	logger *slog.Logger
}

func NewFallbackPublisher(logger *slog.Logger) Publisher {
	return &FallbackPublisher{logger: logger}
}

func (p *FallbackPublisher) Publish(_ context.Context, key string, _ Envelope) error {
	p.logger.Debug("event forwarding disabled, skipped publish", "key", key)
	return nil
}

func (p *FallbackPublisher) Close() error { return nil }

// Forwarder copies bus events to a Publisher from a background goroutine so
// emitters never wait on the broker.
type Forwarder struct {
	pub      Publisher
	producer string
	queue    chan Event
	logger   *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	started bool
}

type ForwarderConfig struct {
	Publisher Publisher
	Producer  string // reported in Meta.Producer
	QueueSize int
	Timeout   time.Duration // per publish
	Logger    *slog.Logger
}

func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Producer == "" {
		cfg.Producer = "happin"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Forwarder{
		pub:      cfg.Publisher,
		producer: cfg.Producer,
		queue:    make(chan Event, cfg.QueueSize),
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		done:     make(chan struct{}),
	}
}

// Attach subscribes the forwarder to every event on eb.
func (f *Forwarder) Attach(eb *EventBus) string {
	return eb.On("*", f.Handle)
}

// Handle enqueues e without blocking. Events are dropped when the queue is
// full or the forwarder is stopped.
func (f *Forwarder) Handle(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- e:
	default:
		metrics.EventsPublished.WithLabelValues(e.Type, "dropped").Inc()
		f.logger.Warn("event forward queue full, dropping event", "type", e.Type, "id", e.ID)
	}
}

// Start runs the publish loop until Stop is called.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go func() {
		defer close(f.done)
		for e := range f.queue {
			f.publish(ctx, e)
		}
	}()
}

// Stop stops accepting events, flushes the queue and closes the publisher.
func (f *Forwarder) Stop() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	started := f.started
	f.mu.Unlock()

	if started {
		<-f.done
	}
	return f.pub.Close()
}

func (f *Forwarder) publish(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	env := ToEnvelope(e, f.producer)
	if err := f.pub.Publish(ctx, e.Type, env); err != nil {
		metrics.EventsPublished.WithLabelValues(e.Type, "error").Inc()
		f.logger.Warn("event publish failed", "type", e.Type, "id", e.ID, "err", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(e.Type, "ok").Inc()
}

// ToEnvelope wraps e for the wire.
func ToEnvelope(e Event, producer string) Envelope {
	meta := Meta{
		ID:   e.ID,
		Time: e.Timestamp,
		Type: e.Type,
	}
	if producer != "" {
		meta.Producer = &producer
	}
	if e.CorrelationID != "" {
		cid := e.CorrelationID
		meta.CorrelationID = &cid
	}
	return Envelope{Meta: meta, Data: e}
}
