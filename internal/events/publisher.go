// Package events carries pipeline side effects to the outside world.
// The lifecycle only emits events; delivery happens on the notifier goroutine.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers one event to a transport
type Publisher interface {
	Publish(ctx context.Context, evt models.Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by complaint or hotspot id
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.SugaredLogger
}

// NewKafkaPublisher creates a new publisher writing to topic
func NewKafkaPublisher(brokers []string, topic string, logger *zap.SugaredLogger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt models.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Key()),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// LogPublisher logs events instead of delivering them. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.SugaredLogger
}

// NewLogPublisher creates a new log-only publisher
func NewLogPublisher(logger *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt models.Event) error {
	p.logger.Infow("Event emitted",
		"type", evt.Type,
		"event_id", evt.ID,
		"complaint_id", evt.ComplaintID,
		"hotspot_id", evt.HotspotID,
		"departments", evt.Departments,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Recorder keeps every published event in memory
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Publish(ctx context.Context, evt models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of what has been recorded so far
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// OfType returns the recorded events with the given type
func (r *Recorder) OfType(t models.EventType) []models.Event {
	var out []models.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
