package model

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means no native backend is present. Callers fall
	// back to synthetic traffic instead of surfacing it.
	ErrBackendUnavailable = errors.New("native capture backend unavailable")
	// ErrNoPackets is returned when an export or save has nothing to work on.
	ErrNoPackets = errors.New("no packets")
	// ErrNotFound is returned for unknown saved capture ids.
	ErrNotFound = errors.New("saved capture not found")
)

// ValidationError rejects a request before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BackendError wraps a failed native backend call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("capture backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed saved-capture store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("saved capture %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
