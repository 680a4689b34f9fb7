// Package engine runs workflow executions by walking their step graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nexocrm/flowd/pkg/eventbus"
	"github.com/nexocrm/flowd/pkg/events"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/otelhelper"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrDefinitionNotActive is returned when starting a workflow whose
	// definition is not published.
	ErrDefinitionNotActive = errors.New("workflow definition is not active")
	// ErrInvalidTriggerSource is returned for unknown trigger sources.
	ErrInvalidTriggerSource = errors.New("invalid trigger source")
	// ErrNoTriggerStep is returned when a definition has no trigger step.
	ErrNoTriggerStep = errors.New("workflow definition has no trigger step")
	// ErrNotCancellable is returned when cancelling an already terminal execution.
	ErrNotCancellable = errors.New("execution is not in a cancellable state")
)

// IsNotCancellable reports whether err means the execution is terminal.
func IsNotCancellable(err error) bool {
	return errors.Is(err, ErrNotCancellable)
}

// IsDefinitionNotActive reports whether err means the definition is not
// published.
func IsDefinitionNotActive(err error) bool {
	return errors.Is(err, ErrDefinitionNotActive)
}

// Engine starts and cancels workflow executions. Each started execution
// runs its step graph on a background goroutine; all state transitions go
// through compare-and-swap so a concurrent cancel or recovery sweep can
// never overwrite a terminal status.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	workerID    string

	wg sync.WaitGroup
}

func NewEngine(
	p persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
	workerID string,
) *Engine {
	return &Engine{
		persistence: p,
		registry:    reg,
		eventBus:    eventBus,
		logger:      logger.With("module", "engine", "worker_id", workerID),
		tracer:      otel.Tracer("flowd/engine"),
		workerID:    workerID,
	}
}

// StartWorkflow creates an execution for a definition and begins running it
// in the background. The returned execution is a snapshot taken right after
// the transition to running.
func (e *Engine) StartWorkflow(
	ctx context.Context,
	definitionID string,
	triggeredBy models.TriggerSource,
	input map[string]any,
	triggerData map[string]any,
) (*models.WorkflowExecution, error) {
	if !models.ValidTriggerSource(triggeredBy) {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidTriggerSource, triggeredBy)
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow definition: %w", err)
	}

	// Test runs may exercise drafts; everything else requires a published
	// definition.
	if definition.Status != models.WorkflowStatusActive && triggeredBy != models.TriggeredByTest {
		return nil, fmt.Errorf("%w: definition %s is %s", ErrDefinitionNotActive, definitionID, definition.Status)
	}

	if definition.TriggerStep() == nil {
		return nil, ErrNoTriggerStep
	}

	execution := &models.WorkflowExecution{
		OrganizationID: definition.OrganizationID,
		DefinitionID:   definition.ID,
		Status:         models.ExecutionStatusPending,
		TriggeredBy:    triggeredBy,
		TriggerData:    triggerData,
		Input:          input,
	}

	err = e.persistence.Executions().Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	ok, err := e.persistence.Executions().TransitionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.ExecutionStatusPending},
		models.ExecutionStatusRunning, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to transition execution to running: %w", err)
	}

	if !ok {
		// Someone else touched the execution between create and start;
		// hand back whatever state it is in.
		return e.persistence.Executions().GetByID(ctx, execution.ID)
	}

	execution, err = e.persistence.Executions().GetByID(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, definition.ID),
		ExecutionID: execution.ID,
		TriggeredBy: triggeredBy,
		Input:       input,
	})

	executionCtx := models.ExecutionContext{
		ExecutionID:    execution.ID,
		DefinitionID:   definition.ID,
		OrganizationID: definition.OrganizationID,
		TriggerData:    triggerData,
		Input:          input,
		StepResults:    map[string]any{},
	}

	runCtx := context.WithoutCancel(ctx)

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		e.run(runCtx, definition, execution.ID, executionCtx)
	}()

	return execution, nil
}

// CancelExecution requests cancellation. Pending executions cancel
// immediately; running ones stop cooperatively before their next step.
func (e *Engine) CancelExecution(ctx context.Context, executionID, reason string) error {
	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}

	ok, err := e.persistence.Executions().TransitionStatus(ctx, executionID,
		[]models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning},
		models.ExecutionStatusCancelled, metadata)
	if err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}

	if !ok {
		return ErrNotCancellable
	}

	execution, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	e.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent, execution.DefinitionID),
		ExecutionID: executionID,
		Reason:      reason,
	})

	return nil
}

// Wait blocks until all in-flight executions finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) run(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	executionID string,
	executionCtx models.ExecutionContext,
) {
	logger := e.logger.With("execution_id", executionID, "wf_definition_id", definition.ID)
	startedAt := time.Now().UTC()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.DefinitionIDKey, definition.ID),
		attribute.String(otelhelper.WorkerIDKey, e.workerID),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "execution panicked",
				"panic", r, "stack", string(debug.Stack()))

			e.finish(ctx, definition, executionID, models.ExecutionStatusFailed, map[string]any{
				"error": fmt.Sprintf("panic: %v", r),
			}, startedAt, "", fmt.Sprintf("panic: %v", r))
		}
	}()

	logger.InfoContext(ctx, "execution started", "triggered_by", executionCtx.TriggerData)

	trigger := definition.TriggerStep()
	currentOrder := trigger.Order

	for {
		step := definition.StepByOrder(currentOrder)
		if step == nil {
			e.finish(ctx, definition, executionID, models.ExecutionStatusFailed, map[string]any{
				"error": fmt.Sprintf("step order %d not found", currentOrder),
			}, startedAt, "", fmt.Sprintf("step order %d not found", currentOrder))

			return
		}

		// Reload status so an external cancel stops the walk between steps.
		current, err := e.persistence.Executions().GetByID(ctx, executionID)
		if err != nil {
			logger.ErrorContext(ctx, "failed to reload execution", "error", err)

			e.finish(ctx, definition, executionID, models.ExecutionStatusFailed, map[string]any{
				"error": err.Error(),
			}, startedAt, step.Slug, err.Error())

			return
		}

		if current.Status != models.ExecutionStatusRunning {
			logger.InfoContext(ctx, "execution no longer running, stopping",
				"status", current.Status)

			return
		}

		err = e.persistence.Executions().AdvanceStep(ctx, executionID, step.Order, step.Slug)
		if err != nil {
			logger.ErrorContext(ctx, "failed to advance step pointer", "error", err)
		}

		stepStartedAt := time.Now()

		outcome, err := e.executeStep(ctx, executionCtx, step)
		if err != nil {
			logger.ErrorContext(ctx, "step failed",
				"step_slug", step.Slug, "error", err)

			e.publish(ctx, executionID, events.StepFailed{
				BaseEvent:   e.baseEvent(events.StepFailedEvent, definition.ID),
				ExecutionID: executionID,
				StepSlug:    step.Slug,
				Error:       err.Error(),
			})

			e.finish(ctx, definition, executionID, models.ExecutionStatusFailed, map[string]any{
				"error":     err.Error(),
				"step_slug": step.Slug,
			}, startedAt, step.Slug, err.Error())

			return
		}

		executionCtx = executionCtx.WithStepResult(step.Slug, outcome.Output)
		branch := outcome.ResolveBranch()

		e.publish(ctx, executionID, events.StepFinished{
			BaseEvent:   e.baseEvent(events.StepFinishedEvent, definition.ID),
			ExecutionID: executionID,
			StepSlug:    step.Slug,
			Branch:      branch,
			DurationMs:  time.Since(stepStartedAt).Milliseconds(),
		})

		next, ok := step.Next(branch)
		if !ok {
			// A failure outcome with no declared branch fails the
			// execution; any other dead end completes it.
			if !outcome.Success {
				message := stepErrorMessage(outcome)

				e.finish(ctx, definition, executionID, models.ExecutionStatusFailed, map[string]any{
					"error":     message,
					"step_slug": step.Slug,
				}, startedAt, step.Slug, message)

				return
			}

			e.finish(ctx, definition, executionID, models.ExecutionStatusCompleted, nil, startedAt, "", "")

			return
		}

		currentOrder = next
	}
}

func (e *Engine) executeStep(
	ctx context.Context,
	executionCtx models.ExecutionContext,
	step *models.StepDefinition,
) (outcome models.StepOutcome, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.StepSlugKey, step.Slug),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)

	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step '%s' panicked: %v", step.Slug, r)
		}

		if err != nil {
			otelhelper.SetError(span, err)
		}
	}()

	handler, err := e.registry.HandlerFor(step.Type)
	if err != nil {
		return models.StepOutcome{}, err
	}

	return handler.Handle(ctx, executionCtx, step)
}

func (e *Engine) finish(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	executionID string,
	status models.ExecutionStatus,
	metadata map[string]any,
	startedAt time.Time,
	stepSlug string,
	errorMessage string,
) {
	ok, err := e.persistence.Executions().TransitionStatus(ctx, executionID,
		[]models.ExecutionStatus{models.ExecutionStatusRunning},
		status, metadata)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to finish execution",
			"execution_id", executionID, "status", status, "error", err)

		return
	}

	if !ok {
		// Lost the race to a cancel or the recovery sweep.
		return
	}

	duration := time.Since(startedAt)

	switch status {
	case models.ExecutionStatusCompleted:
		e.logger.InfoContext(ctx, "execution completed",
			"execution_id", executionID, "duration", duration)

		e.publish(ctx, executionID, events.ExecutionCompleted{
			BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent, definition.ID),
			ExecutionID: executionID,
			Duration:    duration,
		})
	case models.ExecutionStatusFailed:
		e.logger.WarnContext(ctx, "execution failed",
			"execution_id", executionID, "step_slug", stepSlug, "error", errorMessage)

		e.publish(ctx, executionID, events.ExecutionFailed{
			BaseEvent:   e.baseEvent(events.ExecutionFailedEvent, definition.ID),
			ExecutionID: executionID,
			StepSlug:    stepSlug,
			Error:       errorMessage,
			Duration:    duration,
		})
	}
}

func (e *Engine) baseEvent(eventType events.EventType, definitionID string) events.BaseEvent {
	return events.BaseEvent{
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		DefinitionID: definitionID,
		WorkerID:     e.workerID,
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func stepErrorMessage(outcome models.StepOutcome) string {
	if output, ok := outcome.Output.(map[string]any); ok {
		if message, ok := output["error"].(string); ok && message != "" {
			return message
		}
	}

	return "step failed"
}
