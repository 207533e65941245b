package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func newTestPublisher(t *testing.T, writer kafkaWriter) *KafkaPublisher {
	t.Helper()
	pub, err := NewKafkaPublisher(KafkaPublisherDeps{
		OrderTopic:     "orders.events",
		InventoryTopic: "inventory.events",
		Writer:         writer,
		IDGenerator:    func() string { return "evt-1" },
		Clock:          func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewKafkaPublisher returned error: %v", err)
	}
	return pub
}

func TestPublishOrderEventWrapsEnvelope(t *testing.T) {
	writer := &recordingWriter{}
	pub := newTestPublisher(t, writer)

	err := pub.PublishOrderEvent(context.Background(), "order.paid", "ord_123", map[string]string{"status": "paid"})
	if err != nil {
		t.Fatalf("PublishOrderEvent returned error: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}

	msg := writer.messages[0]
	if msg.Topic != "orders.events" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	if string(msg.Key) != "ord_123" {
		t.Fatalf("unexpected key %q", msg.Key)
	}

	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.ID != "evt-1" || envelope.Type != "order.paid" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if !envelope.OccurredAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurredAt %v", envelope.OccurredAt)
	}
}

func TestPublishInventoryEventUsesInventoryTopic(t *testing.T) {
	writer := &recordingWriter{}
	pub := newTestPublisher(t, writer)

	if err := pub.PublishInventoryEvent(context.Background(), "inventory.reserved", "var_9", nil); err != nil {
		t.Fatalf("PublishInventoryEvent returned error: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	if writer.messages[0].Topic != "inventory.events" {
		t.Fatalf("unexpected topic %q", writer.messages[0].Topic)
	}
	if string(writer.messages[0].Key) != "var_9" {
		t.Fatalf("unexpected key %q", writer.messages[0].Key)
	}
}

func TestPublishRejectsEmptyEventType(t *testing.T) {
	pub := newTestPublisher(t, &recordingWriter{})

	if err := pub.PublishOrderEvent(context.Background(), "  ", "ord_1", nil); err == nil {
		t.Fatal("expected error for empty event type")
	}
}

func TestPublishPropagatesWriterError(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker down")}
	pub := newTestPublisher(t, writer)

	err := pub.PublishOrderEvent(context.Background(), "order.created", "ord_1", nil)
	if err == nil {
		t.Fatal("expected error when writer fails")
	}
}

func TestNewKafkaPublisherRequiresTopics(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaPublisherDeps{Writer: &recordingWriter{}})
	if err == nil {
		t.Fatal("expected error when topics are missing")
	}
}
