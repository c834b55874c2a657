package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/style-suite/api/internal/services"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that hashes message keys to partitions, keeping each order's events in
// sequence.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaOrderEventPublisher publishes order lifecycle events keyed by order ID.
type KafkaOrderEventPublisher struct {
	writer  MessageWriter
	marshal func(any) ([]byte, error)
	now     func() time.Time
}

// NewKafkaOrderEventPublisher wraps writer.
func NewKafkaOrderEventPublisher(writer MessageWriter) (*KafkaOrderEventPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka order publisher: writer is required")
	}
	return &KafkaOrderEventPublisher{
		writer:  writer,
		marshal: json.Marshal,
		now:     time.Now,
	}, nil
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := eventAttributes(event)
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]kafka.Header, 0, len(names))
	for _, name := range names {
		headers = append(headers, kafka.Header{Key: name, Value: []byte(attrs[name])})
	}

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = p.now()
	}
	msg := kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   data,
		Headers: headers,
		Time:    occurred.UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaOrderEventPublisher) Close() error {
	return p.writer.Close()
}
