// Package events publishes sync run notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bling-wix-sync/internal/model"

	"github.com/segmentio/kafka-go"
)

// RunFinished is the event type emitted after every sync run.
const RunFinished = "sync.run.finished"

// Event is the message body written to the topic.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Run       *model.SyncRun `json:"run"`
}

// Publisher emits run events.
type Publisher interface {
	PublishRun(ctx context.Context, run *model.SyncRun) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes run events to a Kafka topic keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, now: time.Now}
}

// PublishRun writes one event for run.
func (p *KafkaPublisher) PublishRun(ctx context.Context, run *model.SyncRun) error {
	value, err := json.Marshal(Event{Type: RunFinished, Timestamp: p.now().UTC(), Run: run})
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(run.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(RunFinished)},
			{Key: "outcome", Value: []byte(run.Outcome)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write run event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) PublishRun(context.Context, *model.SyncRun) error { return nil }
func (NoopPublisher) Close() error                                    { return nil }

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
