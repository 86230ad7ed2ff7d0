// Package export streams applied-compensation events to Kafka for external
// analytics. Export is optional and best effort; a broker outage never
// blocks the control loop.
package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Event is the exported record for one applied compensation.
type Event struct {
	Room      string    `json:"room"`
	Offset    float64   `json:"offset"`
	Target    float64   `json:"target"`
	Forced    bool      `json:"forced"`
	Clamped   bool      `json:"clamped"`
	Timestamp time.Time `json:"timestamp"`
}

// Exporter publishes events to a Kafka topic, keyed by room so a room's
// history stays in one partition.
type Exporter struct {
	writer *kafka.Writer
}

// New creates an exporter for the given brokers and topic.
func New(brokers []string, topic string) *Exporter {
	return &Exporter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // partition by key (room)
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn().Err(err).Int("messages", len(messages)).Msg("Kafka export delivery failed")
				}
			},
		},
	}
}

// Publish enqueues one event. With an async writer this returns quickly;
// delivery failures surface through the completion callback.
func (e *Exporter) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Room),
		Value: payload,
	})
}

// Close flushes pending messages and releases the writer.
func (e *Exporter) Close() error {
	return e.writer.Close()
}
