// Package apperrors defines the error taxonomy shared by the snapshot store and its callers.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates that input data failed validation checks.
	ErrValidation = errors.New("validation error")

	// ErrStorage indicates that the persistence layer failed.
	ErrStorage = errors.New("storage error")

	// ErrCancelled indicates that the caller cancelled the operation before it completed.
	ErrCancelled = errors.New("operation cancelled")
)

// ValidationError reports malformed input. No state is changed when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps a failure of the underlying persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError for operation op.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// CancelledError reports that the caller's context ended before the operation completed.
type CancelledError struct {
	Op  string
	Err error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCancelled, e.Op, e.Err)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *CancelledError) Unwrap() error { return e.Err }

// NewCancelledError wraps the context error for operation op.
func NewCancelledError(op string, err error) *CancelledError {
	return &CancelledError{Op: op, Err: err}
}

// CheckContext returns a CancelledError if ctx is already done.
func CheckContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return NewCancelledError(op, err)
	}
	return nil
}

// Classify maps a backend error into the taxonomy. Errors that are already
// classified pass through unchanged. If the caller's context is done the
// error becomes a CancelledError, otherwise a StorageError.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrStorage) || errors.Is(err, ErrCancelled) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return NewCancelledError(op, ctxErr)
	}
	return NewStorageError(op, err)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }

// IsCancelled reports whether err is a CancelledError.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }
