// Copyright (C) 2023 Storx Labs, Inc.
// See LICENSE for copying information.

package orderevents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// PublisherConfig configures the order event broadcast.
type PublisherConfig struct {
	Brokers []string `help:"kafka brokers to broadcast order events to"`
	Topic   string   `help:"kafka topic for order events" default:"order-events"`
}

// Publisher broadcasts order lifecycle events to a Kafka topic, keyed by
// order UID so per-order ordering is preserved across partitions.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher. Returns nil when no brokers are
// configured.
func NewPublisher(config PublisherConfig) *Publisher {
	if len(config.Brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends a single event.
func (publisher *Publisher) Publish(ctx context.Context, event Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := json.Marshal(struct {
		UID       string    `json:"uid"`
		Label     Label     `json:"label"`
		Timestamp time.Time `json:"timestamp"`
	}{
		UID:       event.UID.Hex(),
		Label:     event.Label,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return Error.Wrap(err)
	}

	return Error.Wrap(publisher.writer.WriteMessages(ctx, kafka.Message{
		Key:   event.UID.Bytes(),
		Value: value,
	}))
}

// Close flushes and closes the underlying writer.
func (publisher *Publisher) Close() error {
	if publisher == nil {
		return nil
	}
	return Error.Wrap(publisher.writer.Close())
}
