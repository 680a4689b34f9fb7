package action

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/protocol"
	"github.com/nexocrm/flowd/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingActionFactory struct {
	config map[string]any
}

func (f *capturingActionFactory) ID() string             { return "capture" }
func (f *capturingActionFactory) Schema() map[string]any { return nil }

func (f *capturingActionFactory) Create(config map[string]any) (protocol.Action, error) {
	f.config = config

	return protocol.ActionFunc(func(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (any, error) {
		return map[string]any{}, nil
	}), nil
}

func TestHandler_RendersConfigBeforeActionCreation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := &capturingActionFactory{}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(factory)

	handler := NewHandler(reg, logger)

	executionCtx := models.NewExecutionContext("exec-1", "def-1", map[string]any{
		"email": "bob@example.com",
	})

	step := &models.StepDefinition{
		Slug: "notify",
		Type: models.StepTypeAction,
		Config: map[string]any{
			"action":  "capture",
			"to":      "{{email}}",
			"subject": "welcome",
		},
	}

	outcome, err := handler.Handle(context.Background(), executionCtx, step)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	require.NotNil(t, factory.config)
	assert.Equal(t, "bob@example.com", factory.config["to"])
	assert.Equal(t, "welcome", factory.config["subject"])
	assert.NotContains(t, factory.config, "action")
}

func TestHandler_MissingActionType(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(registry.NewRegistry(logger), logger)

	executionCtx := models.NewExecutionContext("exec-1", "def-1", nil)

	_, err := handler.Handle(context.Background(), executionCtx, &models.StepDefinition{
		Config: map[string]any{},
	})
	require.ErrorIs(t, err, ErrActionTypeMissing)
}
