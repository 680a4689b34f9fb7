// Package registry wires step handlers and action factories into the engine.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger          *slog.Logger
	handlers        map[models.StepType]protocol.StepHandler
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		handlers:        make(map[models.StepType]protocol.StepHandler),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterHandler(stepType models.StepType, handler protocol.StepHandler) {
	r.handlers[stepType] = handler
}

func (r *Registry) HandlerFor(stepType models.StepType) (protocol.StepHandler, error) {
	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("step type '%s' not registered", stepType)
	}

	return handler, nil
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.actionFactories[actionFactory.ID()] = actionFactory
}

// CreateAction validates config against the factory's schema before
// constructing the action, so malformed step configs fail the step instead
// of surfacing as provider errors mid-request.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	if schema := factory.Schema(); schema != nil {
		schemaLoader := gojsonschema.NewGoLoader(schema)
		dataLoader := gojsonschema.NewGoLoader(config)

		result, err := gojsonschema.Validate(schemaLoader, dataLoader)
		if err != nil {
			return nil, fmt.Errorf("failed to validate action config: %w", err)
		}

		if !result.Valid() {
			return nil, fmt.Errorf("invalid config for action '%s': %s", actionType, result.Errors()[0].String())
		}
	}

	return factory.Create(config)
}

func (r *Registry) AvailableActions() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}
