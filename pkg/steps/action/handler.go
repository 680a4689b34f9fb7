// Package action implements steps that invoke a registered side effect.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/registry"
	"github.com/nexocrm/flowd/pkg/template"
)

// ErrActionTypeMissing is returned when a step config has no action name.
var ErrActionTypeMissing = errors.New("action step config missing 'action'")

type Handler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewHandler(reg *registry.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		logger:   logger.With("module", "steps.action"),
	}
}

// Handle creates the configured action and executes it. A misconfigured
// step is a hard error; a failing action produces a failure outcome so the
// graph's onFailure branch can handle it.
func (h *Handler) Handle(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error) {
	actionType, _ := step.Config["action"].(string)
	if actionType == "" {
		return models.StepOutcome{}, ErrActionTypeMissing
	}

	config := make(map[string]any, len(step.Config))
	for k, v := range step.Config {
		if k != "action" {
			config[k] = v
		}
	}

	// Template placeholders resolve against the execution context before
	// the action sees its config, so every field accepts them.
	config, err := template.RenderConfig(config, executionCtx)
	if err != nil {
		return models.StepOutcome{}, fmt.Errorf("failed to render action config: %w", err)
	}

	act, err := h.registry.CreateAction(actionType, config)
	if err != nil {
		return models.StepOutcome{}, fmt.Errorf("failed to create action '%s': %w", actionType, err)
	}

	logger := h.logger.With(
		"execution_id", executionCtx.ExecutionID,
		"step_slug", step.Slug,
		"action", actionType,
	)

	output, err := act.Execute(ctx, executionCtx, logger)
	if err != nil {
		logger.WarnContext(ctx, "action failed", "error", err)

		return models.StepOutcome{
			Success: false,
			Output:  map[string]any{"error": err.Error()},
		}, nil
	}

	return models.StepOutcome{Success: true, Output: output}, nil
}
