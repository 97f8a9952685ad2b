// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrUnknownTool indicates a connection references a tool with no registered adapter.
// Fatal to the whole sync invocation.
var ErrUnknownTool = errors.New("unknown tool")

// ErrMissingCredentials indicates a connection lacks the credential keys its
// adapter requires. Fatal to the whole sync invocation.
var ErrMissingCredentials = errors.New("missing credentials")

// CallError wraps a failed outbound adapter call. Per-entity, non-fatal: the
// orchestrator records it and continues with the rest of the batch.
type CallError struct {
	Tool string
	Op   string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// TranslationError wraps an external payload that could not be mapped into the
// unified model. Treated exactly like a CallError by the orchestrator.
type TranslationError struct {
	Tool string
	Err  error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("%s: translate payload: %v", e.Tool, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
