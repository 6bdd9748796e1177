package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

var errNoBrokers = errors.New("kafka brokers are required")

// Message is a single record destined for a topic.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes records synchronously through a franz-go client.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the configured brokers and verifies reachability.
func NewProducer(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Producer, error) {
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	opts := []kgo.Opt{kgo.SeedBrokers(brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging kafka: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "brokers", brokers), "kafka producer initialized")
	}
	return &Producer{client: client, topic: cfg.Topic}, nil
}

// Topic returns the default topic for domain events.
func (p *Producer) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Publish writes msg and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.client == nil {
		return errors.New("kafka producer not initialized")
	}
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}
	if topic == "" {
		return errors.New("kafka topic is required")
	}
	return p.client.ProduceSync(ctx, buildRecord(topic, msg)).FirstErr()
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errors.New("kafka producer not initialized")
	}
	return p.client.Ping(ctx)
}

// Close releases the broker connections.
func (p *Producer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Close()
	return nil
}

func buildRecord(topic string, msg Message) *kgo.Record {
	record := &kgo.Record{
		Topic: topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return record
}

func normalizeBrokers(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, b := range raw {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
