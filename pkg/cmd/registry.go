// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"os"

	"github.com/nexocrm/flowd/pkg/actions/httprequest"
	logaction "github.com/nexocrm/flowd/pkg/actions/log"
	"github.com/nexocrm/flowd/pkg/modelclient"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/registry"
	actionstep "github.com/nexocrm/flowd/pkg/steps/action"
	conditionstep "github.com/nexocrm/flowd/pkg/steps/condition"
	llmstep "github.com/nexocrm/flowd/pkg/steps/llm"
	triggerstep "github.com/nexocrm/flowd/pkg/steps/trigger"
)

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
}

func registerStepHandlers(reg *registry.Registry, logger *slog.Logger) {
	client := modelclient.NewOpenAIClient(os.Getenv("OPENAI_BASE_URL"))

	reg.RegisterHandler(models.StepTypeTrigger, triggerstep.NewHandler(logger))
	reg.RegisterHandler(models.StepTypeAction, actionstep.NewHandler(reg, logger))
	reg.RegisterHandler(models.StepTypeCondition, conditionstep.NewHandler(logger))
	reg.RegisterHandler(models.StepTypeLLM, llmstep.NewHandler(client, logger))
}

func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeActions(reg)
	registerStepHandlers(reg, logger)

	return reg
}
