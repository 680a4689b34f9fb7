// Package trigger implements the entry step of every workflow.
package trigger

import (
	"context"
	"log/slog"

	"github.com/nexocrm/flowd/pkg/models"
)

// Handler executes trigger steps. By the time an execution runs, the
// trigger has already fired; the handler records the trigger payload as the
// step's output so downstream steps can reference it.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger.With("module", "steps.trigger")}
}

func (h *Handler) Handle(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error) {
	h.logger.DebugContext(ctx, "trigger step passed",
		"execution_id", executionCtx.ExecutionID,
		"trigger_type", step.TriggerType())

	output := map[string]any{
		"type": step.TriggerType(),
	}

	if len(executionCtx.TriggerData) > 0 {
		output["data"] = executionCtx.TriggerData
	}

	return models.StepOutcome{Success: true, Output: output}, nil
}
