package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	letters []*models.DeadLetter
}

func (s *recordingSink) PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.letters)
}

func fastSettings() Settings {
	return Settings{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BreakerFailures: 10,
		BreakerCooldown: 50 * time.Millisecond,
	}
}

var errFlaky = fmt.Errorf("%w: upstream 503", models.ErrCollaboratorUnavailable)

func TestPolicyRetriesTransientFailures(t *testing.T) {
	sink := &recordingSink{}
	p := NewPolicy("transcription", fastSettings(), sink, zap.NewNop().Sugar())

	calls := 0
	err := p.Do(context.Background(), "c-1", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Zero(t, sink.count())
}

func TestPolicyDeadLettersExhaustedCalls(t *testing.T) {
	sink := &recordingSink{}
	p := NewPolicy("classification", fastSettings(), sink, zap.NewNop().Sugar())

	calls := 0
	err := p.Do(context.Background(), "c-2", func(ctx context.Context) error {
		calls++
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCollaboratorUnavailable))
	assert.Equal(t, 3, calls)

	require.Equal(t, 1, sink.count())
	dl := sink.letters[0]
	assert.Equal(t, "c-2", dl.ComplaintID)
	assert.Equal(t, "classification", dl.Collaborator)
	assert.Equal(t, 3, dl.Attempts)
	assert.NotEmpty(t, dl.ID)
}

func TestPolicyDoesNotRetryValidationErrors(t *testing.T) {
	sink := &recordingSink{}
	p := NewPolicy("image_analysis", fastSettings(), sink, zap.NewNop().Sugar())

	calls := 0
	err := p.Do(context.Background(), "c-3", func(ctx context.Context) error {
		calls++
		return models.ValidationError("image_ref", "unsupported format")
	})
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.Equal(t, 1, calls)
	assert.Zero(t, sink.count())
}

func TestPolicyBreakerOpensAndFailsFast(t *testing.T) {
	settings := fastSettings()
	settings.MaxAttempts = 1
	settings.BreakerFailures = 2
	sink := &recordingSink{}
	p := NewPolicy("transcription", settings, sink, zap.NewNop().Sugar())

	var transitions []gobreaker.State
	p.OnStateChange(func(name string, from, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	failing := func(ctx context.Context) error { return errFlaky }
	_ = p.Do(context.Background(), "c-4", failing)
	_ = p.Do(context.Background(), "c-5", failing)
	assert.Equal(t, gobreaker.StateOpen, p.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	called := false
	err := p.Do(context.Background(), "c-6", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open breaker must short-circuit")
	assert.True(t, errors.Is(err, models.ErrCollaboratorUnavailable))
	assert.Equal(t, 2, sink.count(), "short-circuited calls are not dead-lettered")

	time.Sleep(settings.BreakerCooldown + 10*time.Millisecond)
	err = p.Do(context.Background(), "c-7", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestPolicyStopsOnCancelledContext(t *testing.T) {
	sink := &recordingSink{}
	settings := fastSettings()
	settings.InitialInterval = 50 * time.Millisecond
	settings.MaxAttempts = 10
	p := NewPolicy("classification", settings, sink, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, "c-8", func(ctx context.Context) error { return errFlaky })
	assert.True(t, errors.Is(err, models.ErrCollaboratorUnavailable))
	assert.Zero(t, sink.count(), "cancellation is degradation, not exhaustion")
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return models.ErrNotFound
	})
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, 1, calls)
}
