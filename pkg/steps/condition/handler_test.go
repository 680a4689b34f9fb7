package condition

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler() *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_Branches(t *testing.T) {
	handler := newHandler()

	step := &models.StepDefinition{
		Slug:   "check-score",
		Type:   models.StepTypeCondition,
		Config: map[string]any{"expression": "{{score}} > 0.7"},
		NextSteps: map[string]int{
			models.OutcomeTrue:  3,
			models.OutcomeFalse: 4,
		},
	}

	tests := []struct {
		name   string
		score  float64
		branch string
	}{
		{"above threshold", 0.9, models.OutcomeTrue},
		{"below threshold", 0.3, models.OutcomeFalse},
		{"exactly threshold", 0.7, models.OutcomeFalse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executionCtx := models.NewExecutionContext("exec-1", "def-1", map[string]any{
				"score": tt.score,
			})

			outcome, err := handler.Handle(context.Background(), executionCtx, step)
			require.NoError(t, err)
			assert.True(t, outcome.Success)
			assert.Equal(t, tt.branch, outcome.ResolveBranch())
		})
	}
}

func TestHandler_BareVariableReference(t *testing.T) {
	handler := newHandler()

	step := &models.StepDefinition{
		Slug:   "check",
		Type:   models.StepTypeCondition,
		Config: map[string]any{"expression": `steps.classify.label == "hot"`},
	}

	executionCtx := models.NewExecutionContext("exec-1", "def-1", nil)
	executionCtx = executionCtx.WithStepResult("classify", map[string]any{"label": "hot"})

	outcome, err := handler.Handle(context.Background(), executionCtx, step)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeTrue, outcome.ResolveBranch())
}

func TestHandler_Errors(t *testing.T) {
	handler := newHandler()
	executionCtx := models.NewExecutionContext("exec-1", "def-1", nil)

	_, err := handler.Handle(context.Background(), executionCtx, &models.StepDefinition{
		Config: map[string]any{},
	})
	require.ErrorIs(t, err, ErrExpressionMissing)

	_, err = handler.Handle(context.Background(), executionCtx, &models.StepDefinition{
		Config: map[string]any{"expression": "1 +"},
	})
	require.Error(t, err)

	// Non-boolean results are rejected rather than coerced.
	_, err = handler.Handle(context.Background(), executionCtx, &models.StepDefinition{
		Config: map[string]any{"expression": "1 + 2"},
	})
	require.Error(t, err)
}
