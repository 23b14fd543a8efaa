package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn with bounded exponential backoff and no breaker. Used for storage
// writes. Errors that describe the request rather than the store are not retried.
func Retry(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}

func isPermanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrDuplicateTrackingNumber) ||
		errors.Is(err, models.ErrConflict) ||
		errors.Is(err, models.ErrAlreadyProcessing)
}
