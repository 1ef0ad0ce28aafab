// Package orchestrator mirrors coordination-server broadcasts onto an
// external Kafka topic so out-of-process tooling can observe the bus
// without speaking the coordination server's own wire protocol (see
// SPEC_FULL.md §4.x "Kafka event mirror"). It is purely additive: the
// in-process subscription fan-out in internal/coordination remains
// authoritative, and a broadcast is never delayed or dropped waiting on
// Kafka. Marshal errors are logged, not surfaced to the caller; the writer
// is asynchronous, so broker delivery failures are not reported at all.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// EventMirror publishes coordination events to Kafka, one record per event
// on a topic derived from the configured base topic and the event type
// (cogmem.events.<type>), matching the teacher's internal/orchestrator
// writer-construction pattern trimmed to a pure producer.
type EventMirror struct {
	writer    *kafka.Writer
	baseTopic string
}

// NewEventMirror constructs a mirror writing to brokers. baseTopic is the
// configured config.KafkaConfig.Topic (default "cogmem.events").
func NewEventMirror(brokers []string, baseTopic string) *EventMirror {
	return &EventMirror{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
			Async:    true,
		},
		baseTopic: baseTopic,
	}
}

// Publish mirrors one coordination event. key is used for partition
// affinity (typically the agent or lock id the event concerns).
func (m *EventMirror) Publish(ctx context.Context, eventType, key string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("orchestrator: marshal event for kafka mirror")
		return
	}
	topic := fmt.Sprintf("%s.%s", m.baseTopic, eventType)
	err = m.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
	})
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("orchestrator: kafka mirror publish failed")
	}
}

// Close flushes and closes the underlying writer.
func (m *EventMirror) Close() error {
	return m.writer.Close()
}
