package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type countingObserver struct {
	mu        sync.Mutex
	published map[string]int
	failed    int
	dropped   int
}

func (o *countingObserver) EventPublished(eventType string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed++
		return
	}
	if o.published == nil {
		o.published = make(map[string]int)
	}
	o.published[eventType]++
}

func (o *countingObserver) EventDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func TestKafkaPublisherKeysByComplaint(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop().Sugar()}

	evt := models.Event{
		ID:          "e-1",
		Type:        models.EventComplaintRouted,
		ComplaintID: "c-1",
		Departments: []string{"PUBLIC_WORKS", "TRAFFIC_MANAGEMENT"},
		OccurredAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), evt))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "c-1", string(msg.Key))
	assert.Equal(t, "complaint.routed", string(msg.Headers[0].Value))

	var decoded models.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, evt.Departments, decoded.Departments)
}

func TestNotifierDeliversAndRetries(t *testing.T) {
	w := &fakeWriter{failures: 1}
	obs := &countingObserver{}
	n := NewNotifier(&KafkaPublisher{writer: w, logger: zap.NewNop().Sugar()}, obs, 8, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	go n.Start(ctx)

	n.Emit(models.Event{Type: models.EventHotspotActivated, HotspotID: "h-1"})
	n.Emit(models.Event{Type: models.EventNeedsReview, ComplaintID: "c-2"})

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	n.Close(time.Second)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.published["hotspot.activated"])
	assert.Equal(t, 1, obs.published["complaint.needs_review"])
	assert.Zero(t, obs.failed)
}

type deadLetterLog struct {
	mu      sync.Mutex
	letters []*models.DeadLetter
}

func (l *deadLetterLog) PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.letters = append(l.letters, dl)
	return nil
}

func (l *deadLetterLog) all() []*models.DeadLetter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*models.DeadLetter(nil), l.letters...)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	obs := &countingObserver{}
	dlq := &deadLetterLog{}
	n := NewNotifier(&Recorder{}, obs, 1, zap.NewNop().Sugar())
	n.DeadLetterTo(dlq)

	// no dispatcher running: the second event has nowhere to go
	assert.True(t, n.Emit(models.Event{Type: models.EventComplaintRouted, ComplaintID: "a"}))
	assert.False(t, n.Emit(models.Event{Type: models.EventComplaintRouted, ComplaintID: "b"}))
	assert.False(t, n.Emit(models.Event{Type: models.EventHotspotActivated, HotspotID: "h-9"}))
	assert.Equal(t, 2, obs.dropped)

	letters := dlq.all()
	require.Len(t, letters, 2)
	assert.Equal(t, "b", letters[0].ComplaintID)
	assert.Equal(t, "event:complaint.routed", letters[0].Collaborator)
	assert.Equal(t, "event:hotspot.activated", letters[1].Collaborator)
	assert.Contains(t, letters[1].Error, "h-9")
	assert.Contains(t, letters[1].Error, "queue full")
}

func TestNotifierDeadLettersFailedDelivery(t *testing.T) {
	w := &fakeWriter{failures: 100}
	dlq := &deadLetterLog{}
	n := NewNotifier(&KafkaPublisher{writer: w, logger: zap.NewNop().Sugar()}, nil, 4, zap.NewNop().Sugar())
	n.DeadLetterTo(dlq)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Start(ctx)

	require.True(t, n.Emit(models.Event{Type: models.EventComplaintRouted, ComplaintID: "c-1"}))
	require.Eventually(t, func() bool { return len(dlq.all()) == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	n.Close(time.Second)

	dl := dlq.all()[0]
	assert.Equal(t, "c-1", dl.ComplaintID)
	assert.Equal(t, 3, dl.Attempts)
	assert.Contains(t, dl.Error, "leader not available")
}

func TestNotifierDrainsOnShutdown(t *testing.T) {
	rec := &Recorder{}
	n := NewNotifier(rec, nil, 16, zap.NewNop().Sugar())
	for i := 0; i < 5; i++ {
		n.Emit(models.Event{Type: models.EventFeedbackRequested, ComplaintID: "c"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Start(ctx)

	assert.Len(t, rec.Events(), 5)
	for _, e := range rec.Events() {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.OccurredAt.IsZero())
	}

	n.Close(time.Second)
	n.Emit(models.Event{Type: models.EventFeedbackRequested})
	assert.Len(t, rec.Events(), 5, "closed notifier accepts nothing")
}
