package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/storefront-backend/pkg/kafka"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

type outboundMessage struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// sink delivers resolved outbox rows to a broker.
type sink interface {
	Name() string
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg outboundMessage) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type pubsubSink struct {
	client  pubSubClient
	factory publisherFactory
}

func newPubSubSink(client pubSubClient, factory publisherFactory) *pubsubSink {
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPubPublisher(client.Publisher(topic))
		}
	}
	return &pubsubSink{client: client, factory: factory}
}

func (s *pubsubSink) Name() string { return "pubsub" }

func (s *pubsubSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *pubsubSink) Send(ctx context.Context, topic string, msg outboundMessage) error {
	pub := s.factory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(ctx)
	return err
}

type kafkaProducer interface {
	Ping(context.Context) error
	Publish(context.Context, kafka.Message) error
}

type kafkaSink struct {
	producer kafkaProducer
}

func (s *kafkaSink) Name() string { return "kafka" }

func (s *kafkaSink) Ping(ctx context.Context) error {
	return s.producer.Ping(ctx)
}

func (s *kafkaSink) Send(ctx context.Context, topic string, msg outboundMessage) error {
	return s.producer.Publish(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: msg.Attributes,
	})
}

func newGCPPubPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
