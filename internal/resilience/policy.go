// Package resilience wraps external collaborator calls with bounded retries,
// a circuit breaker and dead-lettering of calls that exhaust their retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings tunes one Policy
type Settings struct {
	MaxAttempts     int           // total attempts including the first (default: 3)
	InitialInterval time.Duration // first backoff delay (default: 250ms)
	MaxInterval     time.Duration // cap on a single delay (default: 4s)
	BreakerFailures int           // consecutive failures before opening (default: 5)
	BreakerCooldown time.Duration // open duration before half-open (default: 30s)
	HalfOpenProbes  uint32        // requests allowed while half-open (default: 1)
}

func (s Settings) withDefaults() Settings {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.InitialInterval <= 0 {
		s.InitialInterval = 250 * time.Millisecond
	}
	if s.MaxInterval <= 0 {
		s.MaxInterval = 4 * time.Second
	}
	if s.BreakerFailures <= 0 {
		s.BreakerFailures = 5
	}
	if s.BreakerCooldown <= 0 {
		s.BreakerCooldown = 30 * time.Second
	}
	if s.HalfOpenProbes == 0 {
		s.HalfOpenProbes = 1
	}
	return s
}

// DeadLetterSink receives calls that exhausted their retries
type DeadLetterSink interface {
	PutDeadLetter(ctx context.Context, dl *models.DeadLetter) error
}

// StateListener observes breaker state changes
type StateListener func(name string, from, to gobreaker.State)

// Policy guards calls to one collaborator kind
type Policy struct {
	name     string
	settings Settings
	breaker  *gobreaker.CircuitBreaker
	sink     DeadLetterSink
	logger   *zap.SugaredLogger
	listener atomic.Pointer[StateListener]
}

// NewPolicy creates a policy named after the collaborator it protects
func NewPolicy(name string, settings Settings, sink DeadLetterSink, logger *zap.SugaredLogger) *Policy {
	s := settings.withDefaults()
	p := &Policy{name: name, settings: s, sink: sink, logger: logger}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenProbes,
		Timeout:     s.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(s.BreakerFailures)
		},
		IsSuccessful: func(err error) bool {
			// Bad input and caller cancellation say nothing about collaborator health.
			return err == nil ||
				errors.Is(err, models.ErrValidation) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("Circuit breaker state changed",
				"collaborator", name,
				"from", from.String(),
				"to", to.String(),
			)
			if l := p.listener.Load(); l != nil {
				(*l)(name, from, to)
			}
		},
	})
	return p
}

// OnStateChange registers a listener for breaker transitions
func (p *Policy) OnStateChange(fn StateListener) {
	p.listener.Store(&fn)
}

// Name returns the collaborator name
func (p *Policy) Name() string { return p.name }

// State returns the breaker state
func (p *Policy) State() gobreaker.State { return p.breaker.State() }

// Do runs fn under the policy. Transient failures are retried with exponential
// backoff; an open breaker fails fast; exhausted retries are dead-lettered.
// Every returned error wraps ErrCollaboratorUnavailable or ErrValidation.
func (p *Policy) Do(ctx context.Context, complaintID string, fn func(ctx context.Context) error) error {
	var (
		attempts  int
		lastErr   error
		permanent bool
	)

	op := func() error {
		attempts++
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			permanent = true
			return backoff.Permanent(fmt.Errorf("%w: %s: circuit %s", models.ErrCollaboratorUnavailable, p.name, p.breaker.State()))
		case errors.Is(err, models.ErrValidation):
			permanent = true
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			permanent = true
			return backoff.Permanent(fmt.Errorf("%w: %s: %v", models.ErrCollaboratorUnavailable, p.name, ctx.Err()))
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.settings.InitialInterval
	b.MaxInterval = p.settings.MaxInterval
	b.MaxElapsedTime = 0
	bounded := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.settings.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, bounded, func(err error, next time.Duration) {
		p.logger.Debugw("Retrying collaborator call",
			"collaborator", p.name,
			"complaint_id", complaintID,
			"attempt", attempts,
			"next_in", next,
			"error", err,
		)
	})
	if err == nil {
		return nil
	}
	if permanent {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrCollaboratorUnavailable, p.name, ctx.Err())
	}

	p.deadLetter(complaintID, attempts, lastErr)
	if !errors.Is(lastErr, models.ErrCollaboratorUnavailable) {
		return fmt.Errorf("%w: %s: %v", models.ErrCollaboratorUnavailable, p.name, lastErr)
	}
	return lastErr
}

func (p *Policy) deadLetter(complaintID string, attempts int, cause error) {
	p.logger.Errorw("Collaborator retries exhausted",
		"collaborator", p.name,
		"complaint_id", complaintID,
		"attempts", attempts,
		"error", cause,
	)
	if p.sink == nil {
		return
	}

	// The caller's context may be about to expire; the dead letter must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dl := &models.DeadLetter{
		ID:           uuid.NewString(),
		ComplaintID:  complaintID,
		Collaborator: p.name,
		Error:        cause.Error(),
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.sink.PutDeadLetter(ctx, dl); err != nil {
		p.logger.Errorw("Failed to store dead letter", "collaborator", p.name, "complaint_id", complaintID, "error", err)
	}
}
