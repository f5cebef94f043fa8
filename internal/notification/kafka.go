package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// RecordProducer is satisfied by *kgo.Client.
type RecordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes lifecycle events to a topic, keyed by expedient id so one
// expedient's events stay on one partition.
type Kafka struct {
	producer RecordProducer
	topic    string
	now      func() time.Time
}

func NewKafka(producer RecordProducer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic, now: time.Now}
}

func (k *Kafka) Name() string { return "kafka" }

type kafkaEnvelope struct {
	Event   string    `json:"event"`
	SentAt  time.Time `json:"sentAt"`
	Payload any       `json:"payload"`
}

func (k *Kafka) Send(ctx context.Context, eventName string, payload any) error {
	value, err := json.Marshal(kafkaEnvelope{Event: eventName, SentAt: k.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("kafka: encode: %w", err)
	}
	props, err := properties(payload)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(eventName)},
		},
	}
	if id := entityID(props); id != "" {
		rec.Key = []byte(id)
	}
	if err := k.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce to %s: %w", k.topic, err)
	}
	return nil
}
