package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

const maxCancelReasonLength = 500

// ExecutionStarter starts workflow executions; the engine satisfies this.
type ExecutionStarter interface {
	StartWorkflow(ctx context.Context, definitionID string, triggeredBy models.TriggerSource, input map[string]any, triggerData map[string]any) (*models.WorkflowExecution, error)
	CancelExecution(ctx context.Context, executionID, reason string) error
}

// Execution is the query and control service for workflow executions.
type Execution struct {
	persistence persistence.Persistence
	starter     ExecutionStarter
}

func NewExecution(p persistence.Persistence, starter ExecutionStarter) *Execution {
	return &Execution{
		persistence: p,
		starter:     starter,
	}
}

// StartRequest is a request to start an execution.
type StartRequest struct {
	DefinitionID string               `json:"wf_definition_id"`
	TriggeredBy  models.TriggerSource `json:"triggered_by"`
	Input        map[string]any       `json:"input,omitempty"`
	TriggerData  map[string]any       `json:"trigger_data,omitempty"`
}

func (s *Execution) Start(ctx context.Context, req StartRequest) (*models.WorkflowExecution, error) {
	if req.DefinitionID == "" {
		return nil, NewValidationError("Start", "MISSING_DEFINITION", "wf_definition_id is required", ErrInvalidRequest)
	}

	if req.TriggeredBy == "" {
		req.TriggeredBy = models.TriggeredByManual
	}

	if !models.ValidTriggerSource(req.TriggeredBy) {
		return nil, NewValidationError("Start", "INVALID_TRIGGER_SOURCE",
			fmt.Sprintf("unknown trigger source '%s'", req.TriggeredBy), ErrInvalidTriggerFilter)
	}

	return s.starter.StartWorkflow(ctx, req.DefinitionID, req.TriggeredBy, req.Input, req.TriggerData)
}

func (s *Execution) Cancel(ctx context.Context, executionID, reason string) error {
	if len(reason) > maxCancelReasonLength {
		return ErrInvalidCancelReason
	}

	return s.starter.CancelExecution(ctx, executionID, reason)
}

func (s *Execution) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return s.persistence.Executions().GetByID(ctx, id)
}

// ListRequest filters and paginates executions of one definition.
type ListRequest struct {
	DefinitionID string
	Statuses     []string
	TriggeredBy  string
	From         *time.Time
	To           *time.Time
	Limit        int
	Cursor       string
}

// List validates filters and delegates to the store's index-driven query.
func (s *Execution) List(ctx context.Context, req ListRequest) (*persistence.ExecutionPage, error) {
	if req.DefinitionID == "" {
		return nil, NewValidationError("List", "MISSING_DEFINITION", "wf_definition_id is required", ErrInvalidRequest)
	}

	opts := persistence.ListExecutionsOptions{
		DefinitionID: req.DefinitionID,
		From:         req.From,
		To:           req.To,
		Limit:        req.Limit,
		Cursor:       req.Cursor,
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	if opts.Limit > 200 {
		opts.Limit = 200
	}

	for _, raw := range req.Statuses {
		status := models.ExecutionStatus(raw)

		switch status {
		case models.ExecutionStatusPending, models.ExecutionStatusRunning,
			models.ExecutionStatusCompleted, models.ExecutionStatusFailed,
			models.ExecutionStatusCancelled:
			opts.Statuses = append(opts.Statuses, status)
		default:
			return nil, NewValidationError("List", "INVALID_STATUS",
				fmt.Sprintf("unknown status '%s'", raw), ErrInvalidStatusFilter)
		}
	}

	if req.TriggeredBy != "" {
		source := models.TriggerSource(req.TriggeredBy)
		if !models.ValidTriggerSource(source) {
			return nil, NewValidationError("List", "INVALID_TRIGGERED_BY",
				fmt.Sprintf("unknown trigger source '%s'", req.TriggeredBy), ErrInvalidTriggerFilter)
		}

		opts.TriggeredBy = source
	}

	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, ErrInvalidTimeRange
	}

	page, err := s.persistence.Executions().List(ctx, opts)
	if err != nil {
		if errors.Is(err, persistence.ErrInvalidCursor) {
			return nil, NewValidationError("List", "INVALID_CURSOR", err.Error(), ErrInvalidCursor)
		}

		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return page, nil
}
