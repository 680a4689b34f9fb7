// Package services implements the business logic layer between the web
// handlers and persistence.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. Validation errors map to 400 responses, conflicts
// to 409.
var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidStatusFilter   = errors.New("invalid execution status filter")
	ErrInvalidTriggerFilter  = errors.New("invalid triggered_by filter")
	ErrInvalidTimeRange      = errors.New("'from' must not be after 'to'")
	ErrInvalidCursor         = errors.New("invalid pagination cursor")
	ErrEmptyOrganizationID   = errors.New("organization ID cannot be empty")
	ErrNameRequired          = errors.New("workflow name is required")
	ErrStepsRequired         = errors.New("workflow must have at least one step")
	ErrTriggerStepRequired   = errors.New("workflow must start with a trigger step")
	ErrDuplicateStepOrder    = errors.New("step orders must be unique")
	ErrDuplicateStepSlug     = errors.New("step slugs must be unique")
	ErrDanglingNextStep      = errors.New("next step reference points to a missing step")
	ErrInvalidSchedule       = errors.New("invalid trigger schedule")
	ErrDefinitionNil         = errors.New("workflow definition cannot be nil")
	ErrInvalidCancelReason   = errors.New("cancel reason is too long")
	ErrCannotModifyPublished = errors.New("cannot modify a published workflow")
	ErrCannotModifyArchived  = errors.New("cannot modify an archived workflow")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether err should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatusFilter) ||
		errors.Is(err, ErrInvalidTriggerFilter) ||
		errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrInvalidCursor) ||
		errors.Is(err, ErrEmptyOrganizationID) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrTriggerStepRequired) ||
		errors.Is(err, ErrDuplicateStepOrder) ||
		errors.Is(err, ErrDuplicateStepSlug) ||
		errors.Is(err, ErrDanglingNextStep) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrInvalidCancelReason)
}

// IsConflictError reports whether err should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrCannotModifyArchived)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
