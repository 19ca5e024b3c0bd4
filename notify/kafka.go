package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic, with the event name in the "event"
// header. The writer runs in async mode so Emit returns without waiting
// for the broker.
type Kafka struct {
	writer messageWriter
	log    zerolog.Logger
}

func NewKafka(brokers []string, topic string, log zerolog.Logger) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}

	k := &Kafka{log: log}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		Completion:   k.completion,
	}
	return k, nil
}

func (k *Kafka) Emit(e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		k.log.Error().Str("Method", "Emit").Str("Event", e.Name).Err(err).Msg("encode failed")
		return
	}

	// Hash balancing on the key keeps every event on one partition, so
	// consumers see them in emission order.
	err = k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte("castbridge"),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(e.Name)},
		},
	})
	if err != nil {
		k.log.Warn().Str("Method", "Emit").Str("Event", e.Name).Err(err).Msg("publish failed")
	}
}

func (k *Kafka) completion(msgs []kafka.Message, err error) {
	if err != nil {
		k.log.Warn().Str("Method", "completion").Int("Messages", len(msgs)).Err(err).Msg("kafka delivery failed")
	}
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("kafka close: %w", err)
	}
	return nil
}
