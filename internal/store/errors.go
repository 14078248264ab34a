package store

import (
	"errors"
	"fmt"
)

var (
	// ErrInMemorySnapshot is returned when snapshotting a database that has
	// no backing file.
	ErrInMemorySnapshot = errors.New("store: in-memory database cannot be snapshotted")

	// ErrWorkerClosed is returned when submitting work to a closed worker.
	ErrWorkerClosed = errors.New("store: worker closed")
)

// FaultError reports a statement failure that terminated a worker.
type FaultError struct {
	// Worker is the name of the terminated worker.
	Worker string

	// Query is the name of the statement that failed, if any.
	Query string

	Err error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("worker %s: query %q: %v", e.Worker, e.Query, e.Err)
	}
	return fmt.Sprintf("worker %s: %v", e.Worker, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *FaultError) Unwrap() error {
	return e.Err
}

// IsFault returns true if err was produced by a worker fault.
// Uses errors.As to handle wrapped errors.
func IsFault(err error) bool {
	var fe *FaultError
	return errors.As(err, &fe)
}
