package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer writes Events to Kafka synchronously.
type Producer struct {
	client *kgo.Client
	logger *logrus.Logger
}

// NewProducer creates a producer for the given seed brokers.
func NewProducer(brokers []string, clientID string, logger *logrus.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// Produce writes one record and waits for the broker ack.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent encodes event as JSON keyed by its owner so one user's events stay ordered.
func (p *Producer) PublishEvent(ctx context.Context, topic string, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	headers := map[string]string{
		"source":     event.Source,
		"event_type": event.Type,
	}
	key := event.OwnerUserID
	if key == "" {
		key = event.ID
	}
	return p.Produce(ctx, topic, []byte(key), value, headers)
}
