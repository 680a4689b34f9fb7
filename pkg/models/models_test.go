package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{ExecutionStatusPending, false},
		{ExecutionStatusRunning, false},
		{ExecutionStatusCompleted, true},
		{ExecutionStatusFailed, true},
		{ExecutionStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestExecutionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"pending to running", ExecutionStatusPending, ExecutionStatusRunning, true},
		{"pending to failed", ExecutionStatusPending, ExecutionStatusFailed, true},
		{"pending to cancelled", ExecutionStatusPending, ExecutionStatusCancelled, true},
		{"running to completed", ExecutionStatusRunning, ExecutionStatusCompleted, true},
		{"running to failed", ExecutionStatusRunning, ExecutionStatusFailed, true},
		{"running to cancelled", ExecutionStatusRunning, ExecutionStatusCancelled, true},
		{"running to pending regresses", ExecutionStatusRunning, ExecutionStatusPending, false},
		{"completed is final", ExecutionStatusCompleted, ExecutionStatusRunning, false},
		{"failed is final", ExecutionStatusFailed, ExecutionStatusCancelled, false},
		{"cancelled is final", ExecutionStatusCancelled, ExecutionStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestWorkflowDefinition_TriggerStep(t *testing.T) {
	definition := &WorkflowDefinition{
		Steps: []*StepDefinition{
			{Order: 2, Slug: "notify", Type: StepTypeAction},
			{Order: 1, Slug: "start", Type: StepTypeTrigger},
		},
	}

	trigger := definition.TriggerStep()
	require.NotNil(t, trigger)
	assert.Equal(t, "start", trigger.Slug)

	// An action at order 1 is not a trigger step.
	definition.Steps[1].Type = StepTypeAction
	assert.Nil(t, definition.TriggerStep())
}

func TestWorkflowDefinition_IsScheduled(t *testing.T) {
	scheduled := func(status WorkflowStatus, config map[string]any) *WorkflowDefinition {
		return &WorkflowDefinition{
			Status: status,
			Steps: []*StepDefinition{
				{Order: 1, Slug: "start", Type: StepTypeTrigger, Config: config},
			},
		}
	}

	tests := []struct {
		name       string
		definition *WorkflowDefinition
		expected   bool
	}{
		{
			name:       "active scheduled trigger",
			definition: scheduled(WorkflowStatusActive, map[string]any{"type": "scheduled", "schedule": "0 9 * * *"}),
			expected:   true,
		},
		{
			name:       "draft is not eligible",
			definition: scheduled(WorkflowStatusDraft, map[string]any{"type": "scheduled", "schedule": "0 9 * * *"}),
			expected:   false,
		},
		{
			name:       "manual trigger",
			definition: scheduled(WorkflowStatusActive, map[string]any{"type": "manual"}),
			expected:   false,
		},
		{
			name:       "scheduled without schedule expression",
			definition: scheduled(WorkflowStatusActive, map[string]any{"type": "scheduled"}),
			expected:   false,
		},
		{
			name:       "no trigger step",
			definition: &WorkflowDefinition{Status: WorkflowStatusActive},
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.definition.IsScheduled())
		})
	}
}

func TestStepDefinition_TriggerAccessors(t *testing.T) {
	step := &StepDefinition{
		Order: 1,
		Type:  StepTypeTrigger,
		Config: map[string]any{
			"type":     "scheduled",
			"schedule": "every 5 minutes",
		},
	}

	assert.Equal(t, "scheduled", step.TriggerType())
	assert.Equal(t, "every 5 minutes", step.Schedule())
	assert.Equal(t, "UTC", step.Timezone())

	step.Config["timezone"] = "America/Sao_Paulo"
	assert.Equal(t, "America/Sao_Paulo", step.Timezone())

	empty := &StepDefinition{Order: 1, Type: StepTypeTrigger}
	assert.Equal(t, TriggerTypeManual, empty.TriggerType())
	assert.Empty(t, empty.Schedule())
}

func TestStepOutcome_ResolveBranch(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, StepOutcome{Success: true}.ResolveBranch())
	assert.Equal(t, OutcomeFailure, StepOutcome{Success: false}.ResolveBranch())
	assert.Equal(t, OutcomeTrue, StepOutcome{Success: true, Branch: OutcomeTrue}.ResolveBranch())
}

func TestExecutionContext_WithStepResult(t *testing.T) {
	original := ExecutionContext{
		ExecutionID: "exec-1",
		StepResults: map[string]any{"first": 1},
	}

	updated := original.WithStepResult("second", "ok")

	assert.Len(t, updated.StepResults, 2)
	assert.Equal(t, "ok", updated.StepResults["second"])

	// The receiver is untouched.
	assert.Len(t, original.StepResults, 1)
	_, exists := original.StepResults["second"]
	assert.False(t, exists)
}

func TestExecutionContext_Scope(t *testing.T) {
	execCtx := ExecutionContext{
		ExecutionID:  "exec-1",
		DefinitionID: "def-1",
		Input:        map[string]any{"score": 0.9},
		TriggerData:  map[string]any{"triggerType": "manual", "timestamp": time.Now().UnixMilli()},
		StepResults:  map[string]any{"fetch": map[string]any{"status": 200}},
	}

	scope := execCtx.Scope()

	assert.Equal(t, 0.9, scope["score"])
	assert.Equal(t, execCtx.StepResults, scope["steps"])
	assert.Equal(t, execCtx.TriggerData, scope["trigger"])

	execution, ok := scope["execution"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "exec-1", execution["id"])
}
