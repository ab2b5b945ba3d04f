// Package notes provides persistent note storage with full-text search.
//
// This file defines the error types callers switch on. Handlers map
// ValidationError to 400, NotFoundError to 404, and StorageError to 500.
package notes

import "fmt"

// ValidationError indicates rejected input. The note was not touched.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates the requested note does not exist.
type NotFoundError struct {
	ID int64
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("note %d not found", e.ID)
}

// StorageError wraps an underlying database failure.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("notes storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *StorageError) Unwrap() error {
	return e.Err
}
