package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/resilience"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Emitter accepts side-effect events from the lifecycle. Emit reports whether
// the event was accepted for delivery.
type Emitter interface {
	Emit(evt models.Event) bool
}

// Observer receives delivery outcomes, normally the metrics collector
type Observer interface {
	EventPublished(eventType string, err error)
	EventDropped()
}

// Notifier decouples emission from delivery with a bounded queue and one
// dispatch goroutine. Emit never blocks the caller.
type Notifier struct {
	publisher   Publisher
	observer    Observer
	deadLetters resilience.DeadLetterSink
	logger      *zap.SugaredLogger
	queue       chan models.Event
	attempts    int

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	started sync.Once
}

// NewNotifier creates a new notifier with the given queue size
func NewNotifier(publisher Publisher, observer Observer, queueSize int, logger *zap.SugaredLogger) *Notifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Notifier{
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		queue:     make(chan models.Event, queueSize),
		attempts:  3,
		done:      make(chan struct{}),
	}
}

// DeadLetterTo records events that are dropped or exhaust their delivery
// retries in sink. The sink must not emit through this notifier.
func (n *Notifier) DeadLetterTo(sink resilience.DeadLetterSink) {
	n.deadLetters = sink
}

// Emit stamps and enqueues evt. It returns false when the queue is full or
// closed; the event is then dead-lettered.
func (n *Notifier) Emit(evt models.Event) bool {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.drop(evt, "notifier closed")
		return false
	}
	select {
	case n.queue <- evt:
		return true
	default:
		n.drop(evt, "queue full")
		return false
	}
}

// Start dispatches queued events until ctx is cancelled, then drains what is
// left. It blocks, so run it in its own goroutine.
func (n *Notifier) Start(ctx context.Context) {
	n.started.Do(func() {
		defer close(n.done)
		n.logger.Info("Event notifier started")
		for {
			select {
			case <-ctx.Done():
				n.drain()
				n.logger.Info("Event notifier stopped")
				return
			case evt := <-n.queue:
				n.deliver(ctx, evt)
			}
		}
	})
}

// Close stops accepting events and waits for the dispatcher to drain. Cancel
// the Start context first.
func (n *Notifier) Close(timeout time.Duration) {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	select {
	case <-n.done:
	case <-time.After(timeout):
		n.logger.Warnw("Notifier drain timed out", "pending", len(n.queue))
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-n.queue:
			n.deliver(ctx, evt)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, evt models.Event) {
	err := resilience.Retry(ctx, n.attempts, 100*time.Millisecond, func() error {
		return n.publisher.Publish(ctx, evt)
	})
	if n.observer != nil {
		n.observer.EventPublished(string(evt.Type), err)
	}
	if err != nil {
		n.logger.Errorw("Failed to publish event",
			"type", evt.Type,
			"event_id", evt.ID,
			"complaint_id", evt.ComplaintID,
			"error", err,
		)
		n.deadLetter(evt, n.attempts, err.Error())
	}
}

func (n *Notifier) drop(evt models.Event, reason string) {
	if n.observer != nil {
		n.observer.EventDropped()
	}
	n.logger.Warnw("Dropped event",
		"type", evt.Type,
		"complaint_id", evt.ComplaintID,
		"hotspot_id", evt.HotspotID,
		"reason", reason,
	)
	n.deadLetter(evt, 0, reason)
}

func (n *Notifier) deadLetter(evt models.Event, attempts int, reason string) {
	if n.deadLetters == nil {
		return
	}
	msg := reason
	if evt.HotspotID != "" {
		msg = fmt.Sprintf("hotspot %s: %s", evt.HotspotID, reason)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.deadLetters.PutDeadLetter(ctx, &models.DeadLetter{
		ID:           evt.ID,
		ComplaintID:  evt.ComplaintID,
		Collaborator: "event:" + string(evt.Type),
		Error:        msg,
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		n.logger.Errorw("Failed to dead-letter event",
			"type", evt.Type,
			"event_id", evt.ID,
			"error", err,
		)
	}
}

// Sync delivers events on the caller's goroutine. Used by tests and tools
// that need emission to be observable immediately.
type Sync struct {
	Publisher Publisher
}

func (s Sync) Emit(evt models.Event) bool {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	return s.Publisher.Publish(context.Background(), evt) == nil
}
