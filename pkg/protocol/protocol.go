// Package protocol defines the contracts between the engine and pluggable step handlers.
package protocol

import (
	"context"
	"log/slog"

	"github.com/nexocrm/flowd/pkg/models"
)

// StepHandler executes one step of a workflow. Handlers receive the step
// definition and the accumulated execution context; they return an outcome
// whose branch label selects the next step. A returned error fails the
// whole execution.
type StepHandler interface {
	Handle(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error)
}

// StepHandlerFunc adapts a function to the StepHandler interface.
type StepHandlerFunc func(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error)

func (f StepHandlerFunc) Handle(ctx context.Context, executionCtx models.ExecutionContext, step *models.StepDefinition) (models.StepOutcome, error) {
	return f(ctx, executionCtx, step)
}

// Action is a concrete side effect invoked by an action step, created from
// the step config by its factory.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)

func (f ActionFunc) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	return f(ctx, executionCtx, logger)
}

type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string

	// Schema returns the JSON schema the action's config must satisfy.
	Schema() map[string]any
}

// ModelClient is the abstraction over LLM providers used by llm steps.
type ModelClient interface {
	Complete(ctx context.Context, request models.CompletionRequest) (models.CompletionResult, error)
}
