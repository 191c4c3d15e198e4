package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/internal/domain/interfaces"
)

// KafkaPublisher emits transfer lifecycle events keyed by transaction id
// so all events for one transfer land on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events. Used when kafka is not configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error { return nil }
func (NopPublisher) Close() error                                                    { return nil }

var _ interfaces.EventsPublisher = (*KafkaPublisher)(nil)
var _ interfaces.EventsPublisher = NopPublisher{}
