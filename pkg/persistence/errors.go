// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrActiveDefinitionNotFound indicates no active version exists for the name.
	ErrActiveDefinitionNotFound = errors.New("active workflow definition not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrProcessingRecordNotFound indicates a processing record was not found.
	ErrProcessingRecordNotFound = errors.New("processing record not found")

	// ErrNotDraft indicates an operation that requires a draft was invoked
	// on a published or archived definition.
	ErrNotDraft = errors.New("workflow definition is not a draft")

	// ErrNotActive indicates an operation that requires an active
	// definition was invoked on a draft or archived one.
	ErrNotActive = errors.New("workflow definition is not active")

	// ErrInvalidCursor indicates a pagination cursor could not be decoded.
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

// DefinitionError wraps definition-related errors with operation context.
type DefinitionError struct {
	Op           string
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ExecutionError wraps execution-related errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsNotDraft checks if an error indicates a non-draft definition.
func IsNotDraft(err error) bool {
	return errors.Is(err, ErrNotDraft)
}

// IsNotActive checks if an error indicates a non-active definition.
func IsNotActive(err error) bool {
	return errors.Is(err, ErrNotActive)
}

// IsInvalidCursor checks if an error indicates a malformed cursor.
func IsInvalidCursor(err error) bool {
	return errors.Is(err, ErrInvalidCursor)
}
