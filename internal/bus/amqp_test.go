package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	envs   []Envelope
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, key string, msg Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, msg)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestToEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env := ToEnvelope(Event{ID: "e1", Type: EventMessageReceived, CorrelationID: "req-1", Timestamp: ts}, "happin")

	if env.Meta.ID != "e1" || env.Meta.Type != EventMessageReceived || !env.Meta.Time.Equal(ts) {
		t.Fatalf("unexpected meta %+v", env.Meta)
	}
	if env.Meta.Producer == nil || *env.Meta.Producer != "happin" {
		t.Fatalf("expected producer happin, got %v", env.Meta.Producer)
	}
	if env.Meta.CorrelationID == nil || *env.Meta.CorrelationID != "req-1" {
		t.Fatalf("expected correlation id, got %v", env.Meta.CorrelationID)
	}

	bare := ToEnvelope(Event{ID: "e2", Type: "x"}, "")
	if bare.Meta.Producer != nil || bare.Meta.CorrelationID != nil {
		t.Fatalf("expected nil optional meta, got %+v", bare.Meta)
	}
}

func TestForwarder_PublishesBusEvents(t *testing.T) {
	pub := &recordingPublisher{}
	eb := NewEventBus(testEBLogger())
	fw := NewForwarder(ForwarderConfig{Publisher: pub, Logger: testEBLogger()})
	fw.Attach(eb)
	fw.Start(context.Background())

	eb.Emit(Event{Type: EventMessageReceived, MessageID: "m1"})
	eb.Emit(Event{Type: EventMessageEnriched, MessageID: "m1"})

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.keys) != 2 || pub.keys[0] != EventMessageReceived || pub.keys[1] != EventMessageEnriched {
		t.Fatalf("unexpected routing keys %v", pub.keys)
	}
	data, ok := pub.envs[0].Data.(Event)
	if !ok || data.MessageID != "m1" {
		t.Fatalf("unexpected envelope data %#v", pub.envs[0].Data)
	}
	if !pub.closed {
		t.Fatal("publisher should be closed on Stop")
	}
}

func TestForwarder_PublishErrorDoesNotStopLoop(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	fw := NewForwarder(ForwarderConfig{Publisher: pub, Logger: testEBLogger()})
	fw.Start(context.Background())

	fw.Handle(Event{Type: "a"})
	fw.Handle(Event{Type: "b"})
	fw.Stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.keys) != 2 {
		t.Fatalf("expected both events attempted, got %v", pub.keys)
	}
}

func TestForwarder_DropsWhenFullOrStopped(t *testing.T) {
	pub := &recordingPublisher{}
	fw := NewForwarder(ForwarderConfig{Publisher: pub, QueueSize: 1, Logger: testEBLogger()})

	// Not started: queue holds one event, the second is dropped.
	fw.Handle(Event{Type: "a"})
	fw.Handle(Event{Type: "b"})
	fw.Start(context.Background())
	fw.Stop()
	fw.Handle(Event{Type: "c"})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.keys) != 1 || pub.keys[0] != "a" {
		t.Fatalf("expected only the first event, got %v", pub.keys)
	}
}

func TestFallbackPublisher(t *testing.T) {
	p := NewFallbackPublisher(testEBLogger())
	if err := p.Publish(context.Background(), "k", Envelope{}); err != nil {
		t.Fatalf("fallback publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("fallback close: %v", err)
	}
}
