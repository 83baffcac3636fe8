package submission

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("submission not found")
	ErrValidation             = errors.New("validation error")
	ErrStateConflict          = errors.New("illegal submission state transition")
	ErrRevisionLimitExceeded  = errors.New("revision limit exceeded")
	ErrConcurrentModification = errors.New("submission was modified concurrently")
	ErrPersistence            = errors.New("submission persistence failure")
	ErrStaleFetch             = errors.New("proof fetch result is stale")
)

// StateConflictError reports an operation invoked from an illegal source state.
type StateConflictError struct {
	Operation string
	From      Status
	To        Status
	Model     ContentModel
}

func (e *StateConflictError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("%s: cannot move %s submission from %s to %s", e.Operation, e.Model, e.From, e.To)
	}
	return fmt.Sprintf("%s: not allowed for %s submission in %s", e.Operation, e.Model, e.From)
}

func (e *StateConflictError) Unwrap() error {
	return ErrStateConflict
}

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
