package core

import (
	"errors"
	"fmt"
)

// Outward-facing failure classes.
var (
	ErrValidation       = errors.New("ledger: invalid input")
	ErrNotFound         = errors.New("ledger: job not found")
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
)

// Validation causes
var (
	ErrEmptyOwner            = errors.New("ledger: owner must be non-empty")
	ErrOwnerTooLong          = errors.New("ledger: owner too long")
	ErrEmptyTaskName         = errors.New("ledger: task name must be non-empty")
	ErrTaskNameTooLong       = errors.New("ledger: task name too long")
	ErrEmptyQueue            = errors.New("ledger: queue must be non-empty")
	ErrQueueNameTooLong      = errors.New("ledger: queue name too long")
	ErrIdempotencyKeyTooLong = errors.New("ledger: idempotency key exceeds maximum length")
	ErrEmptyIdempotencyKey   = errors.New("ledger: idempotency key must be non-empty when set")
	ErrPayloadTooLarge       = errors.New("ledger: payload exceeds size limit")
	ErrInvalidLimit          = errors.New("ledger: limit out of range")
	ErrInvalidStatus         = errors.New("ledger: unknown job status")
	ErrMalformedCursor       = errors.New("ledger: malformed cursor")
	ErrInvalidJobID          = errors.New("ledger: job id is not a uuid")
)

// Worker-side errors
var (
	ErrJobNotOwned = errors.New("ledger: job not owned by this worker")
)

// ValidationError reports caller input rejected before touching storage.
// It matches ErrValidation and unwraps to the specific cause.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid wraps err as a ValidationError for field.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// StoreError wraps a failure of the backing store. It matches ErrStoreUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// StoreFailure wraps err as a StoreError for op. A nil err stays nil.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
