package kafka

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(context.Background(), config.KafkaConfig{Brokers: []string{" ", ""}}, nil)
	if err != errNoBrokers {
		t.Fatalf("expected errNoBrokers, got %v", err)
	}
}

func TestBuildRecordCopiesHeaders(t *testing.T) {
	rec := buildRecord("events", Message{
		Key:     []byte("order-1"),
		Value:   []byte(`{"ok":true}`),
		Headers: map[string]string{"event_type": "order_paid"},
	})
	if rec.Topic != "events" {
		t.Fatalf("unexpected topic %q", rec.Topic)
	}
	if string(rec.Key) != "order-1" {
		t.Fatalf("unexpected key %q", rec.Key)
	}
	if len(rec.Headers) != 1 || rec.Headers[0].Key != "event_type" || string(rec.Headers[0].Value) != "order_paid" {
		t.Fatalf("unexpected headers %+v", rec.Headers)
	}
}

func TestNilProducerIsSafe(t *testing.T) {
	var p *Producer
	if err := p.Publish(context.Background(), Message{}); err == nil {
		t.Fatal("expected error publishing on nil producer")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close on nil producer: %v", err)
	}
	if p.Topic() != "" {
		t.Fatal("nil producer should have no topic")
	}
}
