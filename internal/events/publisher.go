package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Envelope is the wire format shared by every event topic.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// kafkaWriter is the subset of kafka.Writer the publisher needs; tests swap in
// an in-memory recorder.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher emits domain events to Kafka topics. Messages are keyed by
// the aggregate id so consumers see per-order and per-variant ordering.
type KafkaPublisher struct {
	writer         kafkaWriter
	orderTopic     string
	inventoryTopic string
	marshal        func(any) ([]byte, error)
	newID          func() string
	clock          func() time.Time
}

// KafkaPublisherDeps lists the dependencies for NewKafkaPublisher.
type KafkaPublisherDeps struct {
	Brokers        []string
	OrderTopic     string
	InventoryTopic string
	Writer         kafkaWriter
	IDGenerator    func() string
	Clock          func() time.Time
}

// NewKafkaPublisher constructs a Kafka backed event publisher. When no writer
// is supplied one is created from Brokers.
func NewKafkaPublisher(deps KafkaPublisherDeps) (*KafkaPublisher, error) {
	orderTopic := strings.TrimSpace(deps.OrderTopic)
	inventoryTopic := strings.TrimSpace(deps.InventoryTopic)
	if orderTopic == "" || inventoryTopic == "" {
		return nil, errors.New("kafka publisher: order and inventory topics are required")
	}

	writer := deps.Writer
	if writer == nil {
		if len(deps.Brokers) == 0 {
			return nil, errors.New("kafka publisher: brokers are required")
		}
		writer = &kafka.Writer{
			Addr:         kafka.TCP(deps.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		}
	}

	newID := deps.IDGenerator
	if newID == nil {
		newID = uuid.NewString
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &KafkaPublisher{
		writer:         writer,
		orderTopic:     orderTopic,
		inventoryTopic: inventoryTopic,
		marshal:        json.Marshal,
		newID:          newID,
		clock:          clock,
	}, nil
}

// PublishOrderEvent emits one event on the order topic, keyed by order id.
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, eventType, orderID string, payload any) error {
	return p.publish(ctx, p.orderTopic, eventType, orderID, payload)
}

// PublishInventoryEvent emits one event on the inventory topic, keyed by variant id.
func (p *KafkaPublisher) PublishInventoryEvent(ctx context.Context, eventType, variantID string, payload any) error {
	return p.publish(ctx, p.inventoryTopic, eventType, variantID, payload)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, eventType, key string, payload any) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher: not initialised")
	}
	if strings.TrimSpace(eventType) == "" {
		return errors.New("kafka publisher: event type is required")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	envelope := Envelope{
		ID:         p.newID(),
		Type:       eventType,
		OccurredAt: p.clock().UTC(),
		Data:       data,
	}
	value, err := p.marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
			{Key: "event-id", Value: []byte(envelope.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Close flushes and releases the underlying writer when it owns one.
func (p *KafkaPublisher) Close() error {
	if closer, ok := p.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
