// Package models defines the core domain models for the workflow automation engine.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Current published version, executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, not executable
)

// WorkflowDefinition is a versioned, ordered graph of steps describing an
// automation. Within an organization at most one version of a given name is
// active at a time; publishing a draft archives the previously active
// version in the same store transaction.
type WorkflowDefinition struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id" validate:"required"`
	Name           string            `json:"name"            validate:"required,min=3"`
	Description    string            `json:"description"`
	Version        int               `json:"version"         validate:"min=1"`
	Status         WorkflowStatus    `json:"status"          validate:"required,oneof=draft active archived"`
	Steps          []*StepDefinition `json:"steps"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	PublishedAt    *time.Time        `json:"published_at,omitempty"`
	ArchivedAt     *time.Time        `json:"archived_at,omitempty"`
}

// TriggerStep returns the entry step of the definition, or nil when the
// definition has no step with order 1 and type trigger.
func (w *WorkflowDefinition) TriggerStep() *StepDefinition {
	for _, step := range w.Steps {
		if step.Order == 1 && step.Type == StepTypeTrigger {
			return step
		}
	}

	return nil
}

// StepByOrder returns the step at the given 1-based position, or nil.
func (w *WorkflowDefinition) StepByOrder(order int) *StepDefinition {
	for _, step := range w.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// IsScheduled reports whether the definition is eligible for scheduled
// firing: active, trigger step of type scheduled, non-empty schedule.
func (w *WorkflowDefinition) IsScheduled() bool {
	if w.Status != WorkflowStatusActive {
		return false
	}

	trigger := w.TriggerStep()
	if trigger == nil {
		return false
	}

	return trigger.TriggerType() == TriggerTypeScheduled && trigger.Schedule() != ""
}
