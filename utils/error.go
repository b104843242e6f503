package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrStockConflict is returned by conditional stock updates when the
// expected value no longer matches (another writer got there first).
var ErrStockConflict = errors.New("stock value changed concurrently")

// ValidationError rejects a commit before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DurableStorageError means the local queue storage itself failed. The
// caller must be told the action did not persist; silent loss is not
// acceptable.
type DurableStorageError struct {
	Op  string
	Err error
}

func (e *DurableStorageError) Error() string {
	return fmt.Sprintf("local storage %s: %v", e.Op, e.Err)
}

func (e *DurableStorageError) Unwrap() error { return e.Err }

// RemoteWriteError wraps a network/server failure during an online write
// or a reconciliation step.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// PartialSyncError records how far a record got before a dependent write
// failed. The record stays queued and resumes from Step on the next pass.
type PartialSyncError struct {
	Step string
	Err  error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("partial sync at %s: %v", e.Step, e.Err)
}

func (e *PartialSyncError) Unwrap() error { return e.Err }
