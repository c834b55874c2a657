package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/style-suite/api/internal/services"
)

type stubWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaOrderEventPublisherKeysByOrder(t *testing.T) {
	writer := &stubWriter{}
	publisher, err := NewKafkaOrderEventPublisher(writer)
	if err != nil {
		t.Fatalf("NewKafkaOrderEventPublisher: %v", err)
	}
	fixed := time.Date(2025, 5, 6, 10, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return fixed }

	event := services.OrderEvent{
		Type:           services.OrderEventStatusChanged,
		OrderID:        "01J0ORDER",
		Status:         "SHIPPED",
		PreviousStatus: "PROCESSING",
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "01J0ORDER" {
		t.Fatalf("expected order id key, got %q", msg.Key)
	}
	if !msg.Time.Equal(fixed) {
		t.Fatalf("expected clock fallback time, got %s", msg.Time)
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.PreviousStatus != "PROCESSING" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	want := []string{"orderId", "status", "type"}
	if len(msg.Headers) != len(want) {
		t.Fatalf("expected headers %v, got %v", want, msg.Headers)
	}
	for i, header := range msg.Headers {
		if header.Key != want[i] {
			t.Fatalf("expected header %s at %d, got %s", want[i], i, header.Key)
		}
	}

	if err := publisher.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaOrderEventPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	publisher, _ := NewKafkaOrderEventPublisher(&stubWriter{err: boom})
	err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{OrderID: "o-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if _, err := NewKafkaOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil writer")
	}
}

func TestNewKafkaWriterUsesHashBalancer(t *testing.T) {
	writer := NewKafkaWriter([]string{"k1:9092", "k2:9092"}, "order-events")
	if _, ok := writer.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected hash balancer, got %T", writer.Balancer)
	}
	if writer.Topic != "order-events" || writer.RequiredAcks != kafka.RequireOne {
		t.Fatalf("unexpected writer config %+v", writer)
	}
	if writer.Addr == nil || writer.Addr.Network() == "" {
		t.Fatalf("expected broker address")
	}
}
