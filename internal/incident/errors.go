package incident

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a keyed record does not exist.
	// Service lookups translate it into ok=false rather than an error.
	ErrNotFound = errors.New("incident not found")

	// ErrDuplicateID is returned by stores when an insert collides with an existing id.
	ErrDuplicateID = errors.New("duplicate incident id")

	// ErrForbidden is returned when ownership is enforced and the caller does not own the record.
	ErrForbidden = errors.New("incident owned by another subject")

	// ErrInvalidInput is returned when a create or patch would violate a record invariant.
	ErrInvalidInput = errors.New("invalid incident input")
)

// PersistenceError wraps a store failure. It is never retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("incident store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SummarizationError wraps a summarizer failure. The stored record is
// guaranteed unchanged when this is returned.
type SummarizationError struct {
	ID  string
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarize incident %s: %v", e.ID, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
