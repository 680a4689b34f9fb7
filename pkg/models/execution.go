package models

import (
	"slices"
	"time"
)

// ExecutionStatus represents the state of a workflow execution. Transitions
// are monotonic along pending -> running -> {completed, failed, cancelled}.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final and immutable.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// CanTransitionTo reports whether a transition to next is legal.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next.Terminal()
	case ExecutionStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// TriggerSource identifies how an execution was started.
type TriggerSource string

const (
	TriggeredByManual   TriggerSource = "manual"
	TriggeredBySchedule TriggerSource = "schedule"
	TriggeredByTest     TriggerSource = "test"
	TriggeredByWebhook  TriggerSource = "webhook"
)

// ValidTriggerSource reports whether s is a known trigger source.
func ValidTriggerSource(s TriggerSource) bool {
	return slices.Contains([]TriggerSource{
		TriggeredByManual, TriggeredBySchedule, TriggeredByTest, TriggeredByWebhook,
	}, s)
}

// WorkflowExecution is one run of a workflow definition from trigger to
// terminal state. Executions reference their definition by ID but outlive
// definition edits; they are never deleted, only terminated.
type WorkflowExecution struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	DefinitionID     string          `json:"wf_definition_id"`
	Status           ExecutionStatus `json:"status"`
	StartedAt        time.Time       `json:"started_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CurrentStepSlug  string          `json:"current_step_slug,omitempty"`
	CurrentStepOrder int             `json:"current_step_order"`
	TriggeredBy      TriggerSource   `json:"triggered_by"`
	TriggerData      map[string]any  `json:"trigger_data,omitempty"`
	Input            map[string]any  `json:"input,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	WaitingFor       string          `json:"waiting_for,omitempty"`
}
