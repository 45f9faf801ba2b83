package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// Publisher writes events to Kafka as JSON, keyed by event type.
type Publisher struct {
	writer *kafka.Writer
}

// ParseCompression maps a config value to a kafka-go codec.
// An empty value or "none" disables compression.
func ParseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unknown kafka compression %q", name)
}

func NewPublisher(brokers []string, topic string, compression kafka.Compression) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			Compression:  compression,
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends event under the given event type. The writer's topic is
// used; the event type travels as the message key and a header.
func (p *Publisher) Publish(eventType string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	err = p.writer.WriteMessages(
		context.Background(),
		kafka.Message{
			Key:     []byte(eventType),
			Value:   data,
			Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
		},
	)
	if err != nil {
		log.WithFields(log.Fields{
			"eventType": eventType,
			"topic":     p.writer.Topic,
			"error":     err,
		}).Error("Failed to publish event")
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
