package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Execute(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil))

	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{
		"message": "lead {{email}} scored {{steps.score.value}}",
		"level":   "warn",
	})
	require.NoError(t, err)

	executionCtx := models.NewExecutionContext("exec-1", "def-1", map[string]any{
		"email": "alice@example.com",
	})
	executionCtx = executionCtx.WithStepResult("score", map[string]any{"value": 0.9})

	result, err := action.Execute(context.Background(), executionCtx, logger)
	require.NoError(t, err)

	resultMap := result.(map[string]any)
	assert.Equal(t, "lead alice@example.com scored 0.9", resultMap["message"])
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "alice@example.com")
}

func TestAction_DefaultLevel(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"message": "hello"})
	require.NoError(t, err)

	logAction := action.(*Action)
	assert.Equal(t, "info", logAction.Level)
}
