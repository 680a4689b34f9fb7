// Package events defines event types published on workflow execution lifecycle transitions.
package events

import (
	"time"

	"github.com/nexocrm/flowd/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "flowd.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionRecoveredEvent EventType = "execution.recovered"

	StepFinishedEvent EventType = "step.finished"
	StepFailedEvent   EventType = "step.failed"

	WorkflowPublishedEvent EventType = "workflow.published"
	WorkflowArchivedEvent  EventType = "workflow.archived"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	DefinitionID string    `json:"definition_id"`
	WorkerID     string    `json:"worker_id,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string               `json:"execution_id"`
	TriggeredBy models.TriggerSource `json:"triggered_by"`
	Input       map[string]any       `json:"input,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	StepSlug    string        `json:"step_slug,omitempty"`
	Error       string        `json:"error"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// ExecutionRecovered is published by the reaper when a stuck execution is
// reset or failed by the recovery sweep.
type ExecutionRecovered struct {
	BaseEvent

	ExecutionID    string                 `json:"execution_id"`
	PreviousStatus models.ExecutionStatus `json:"previous_status"`
	NewStatus      models.ExecutionStatus `json:"new_status"`
}

func (e ExecutionRecovered) GetType() EventType {
	return ExecutionRecoveredEvent
}

type StepFinished struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	StepSlug    string         `json:"step_slug"`
	Branch      string         `json:"branch,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

func (e StepFinished) GetType() EventType {
	return StepFinishedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepSlug    string `json:"step_slug"`
	Error       string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type WorkflowPublished struct {
	BaseEvent

	Version    int    `json:"version"`
	PreviousID string `json:"previous_id,omitempty"`
}

func (e WorkflowPublished) GetType() EventType {
	return WorkflowPublishedEvent
}

type WorkflowArchived struct {
	BaseEvent

	Version int `json:"version"`
}

func (e WorkflowArchived) GetType() EventType {
	return WorkflowArchivedEvent
}
