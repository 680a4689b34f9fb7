// Package condition implements boolean branching steps.
package condition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexocrm/flowd/pkg/expressions"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/template"
)

// ErrExpressionMissing is returned when a condition step has no expression.
var ErrExpressionMissing = errors.New("condition step config missing 'expression'")

type Handler struct {
	engine *expressions.Engine
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		engine: expressions.NewEngine(),
		logger: logger.With("module", "steps.condition"),
	}
}

// Handle renders placeholders in the expression and evaluates the result.
// Placeholder substitution covers the common "{{score}} > 0.7" form; the
// scope is also passed as the expression environment so bare variable
// references work without braces.
func (h *Handler) Handle(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error) {
	expression, _ := step.Config["expression"].(string)
	if expression == "" {
		return models.StepOutcome{}, ErrExpressionMissing
	}

	rendered := expression
	if strings.Contains(expression, "{{") {
		var err error

		rendered, err = template.RenderString(expression, executionCtx)
		if err != nil {
			return models.StepOutcome{}, fmt.Errorf("failed to render condition: %w", err)
		}
	}

	result, err := h.engine.EvaluateBool(rendered, executionCtx.Scope())
	if err != nil {
		return models.StepOutcome{}, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	h.logger.DebugContext(ctx, "condition evaluated",
		"execution_id", executionCtx.ExecutionID,
		"step_slug", step.Slug,
		"result", result)

	branch := models.OutcomeFalse
	if result {
		branch = models.OutcomeTrue
	}

	return models.StepOutcome{
		Success: true,
		Branch:  branch,
		Output:  map[string]any{"result": result, "expression": expression},
	}, nil
}
