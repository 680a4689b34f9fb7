// Package log provides an action that emits a templated log line.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/protocol"
	"github.com/nexocrm/flowd/pkg/template"
)

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Action{Message: message, Level: level}, nil
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating for dynamic content.",
				"examples": []string{
					"Lead {{email}} scored {{steps.score.value}}",
					"Execution started at {{now}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}

type Action struct {
	Message string
	Level   string
}

func (a *Action) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	message, err := template.RenderString(a.Message, executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message: %w", err)
	}

	logger = logger.With("action_type", "log")

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{"message": message, "level": a.Level}, nil
}
