// Package web provides the HTTP surface of the workflow engine.
package web

import (
	"github.com/nexocrm/flowd/pkg/models"
)

// CreateWorkflowRequest is the body for creating a draft definition.
type CreateWorkflowRequest struct {
	OrganizationID string                  `json:"organization_id" validate:"required"`
	Name           string                  `json:"name"            validate:"required,min=3"`
	Description    string                  `json:"description"`
	Steps          []*models.StepDefinition `json:"steps"`
}

// UpdateWorkflowRequest is the body for updating a draft. Only drafts are
// editable.
type UpdateWorkflowRequest struct {
	Name        *string                  `json:"name,omitempty" validate:"omitempty,min=3"`
	Description *string                  `json:"description,omitempty"`
	Steps       []*models.StepDefinition `json:"steps,omitempty"`
}

// StartExecutionRequest is the body for starting an execution.
type StartExecutionRequest struct {
	DefinitionID string         `json:"wf_definition_id" validate:"required"`
	TriggeredBy  string         `json:"triggered_by,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
}

// CancelExecutionRequest carries an optional operator-facing reason.
type CancelExecutionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ExecutionListResponse is one cursor page of executions.
type ExecutionListResponse struct {
	Executions     []*models.WorkflowExecution `json:"executions"`
	IsDone         bool                        `json:"is_done"`
	ContinueCursor string                      `json:"continue_cursor,omitempty"`
}
