package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
var (
	ErrValidation                = errors.New("validation error")
	ErrCollaboratorUnavailable   = errors.New("collaborator unavailable")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrNoDepartmentMapping       = errors.New("no department mapping")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrPersistenceFailure        = errors.New("persistence failure")
	ErrNotFound                  = errors.New("not found")
	ErrAlreadyProcessing         = errors.New("complaint already processing")
	ErrDuplicateTrackingNumber   = errors.New("duplicate tracking number")
	ErrConflict                  = errors.New("concurrent modification")
)

// ValidationError wraps ErrValidation with the offending field
func ValidationError(field, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, msg)
}

// TransitionError wraps ErrInvalidTransition with both ends of the rejected change
func TransitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
