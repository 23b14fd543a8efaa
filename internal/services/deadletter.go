package services

import (
	"context"
	"fmt"

	"github.com/aawaaz/civic-pipeline/internal/events"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/store"
)

// DeadLetterObserver counts dead letters, normally the metrics collector
type DeadLetterObserver interface {
	DeadLettered(collaborator string)
}

// DeadLetterRecorder is the resilience sink: it persists exhausted calls,
// counts them and emits an event so operators can intervene.
type DeadLetterRecorder struct {
	store    store.DeadLetterStore
	emitter  events.Emitter
	observer DeadLetterObserver
}

// NewDeadLetterRecorder creates a new dead-letter recorder
func NewDeadLetterRecorder(s store.DeadLetterStore, emitter events.Emitter, observer DeadLetterObserver) *DeadLetterRecorder {
	return &DeadLetterRecorder{store: s, emitter: emitter, observer: observer}
}

func (r *DeadLetterRecorder) PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	if err := r.store.PutDeadLetter(ctx, dl); err != nil {
		return err
	}
	if r.observer != nil {
		r.observer.DeadLettered(dl.Collaborator)
	}
	r.emitter.Emit(models.Event{
		Type:        models.EventCollaboratorFailed,
		ComplaintID: dl.ComplaintID,
		Notes:       fmt.Sprintf("%s failed after %d attempts: %s", dl.Collaborator, dl.Attempts, dl.Error),
		OccurredAt:  dl.CreatedAt,
	})
	return nil
}
