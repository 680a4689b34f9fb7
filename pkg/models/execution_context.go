package models

// ExecutionContext is the accumulated state threaded through step handlers.
// It is a value type: handlers receive a copy and the engine merges each
// step's output into a fresh context, so handlers stay pure with respect to
// shared state.
type ExecutionContext struct {
	ExecutionID    string         `json:"execution_id"`
	DefinitionID   string         `json:"wf_definition_id"`
	OrganizationID string         `json:"organization_id"`
	TriggerData    map[string]any `json:"trigger_data,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	StepResults    map[string]any `json:"step_results,omitempty"`
}

func NewExecutionContext(executionID, definitionID string, input map[string]any) ExecutionContext {
	return ExecutionContext{
		ExecutionID:  executionID,
		DefinitionID: definitionID,
		Input:        input,
		StepResults:  map[string]any{},
	}
}

// WithStepResult returns a copy of the context with the result of one step
// merged in. The receiver is not mutated.
func (c ExecutionContext) WithStepResult(slug string, result any) ExecutionContext {
	results := make(map[string]any, len(c.StepResults)+1)
	for k, v := range c.StepResults {
		results[k] = v
	}

	results[slug] = result
	c.StepResults = results

	return c
}

// Scope flattens the context into the namespace visible to templating and
// condition expressions. Input fields are exposed at the top level so that
// an expression like "{{score}} > 0.7" resolves against the caller-supplied
// input; reserved keys expose the rest of the context.
func (c ExecutionContext) Scope() map[string]any {
	scope := make(map[string]any, len(c.Input)+4)
	for k, v := range c.Input {
		scope[k] = v
	}

	scope["input"] = c.Input
	scope["steps"] = c.StepResults
	scope["trigger"] = c.TriggerData
	scope["execution"] = map[string]any{
		"id":               c.ExecutionID,
		"wf_definition_id": c.DefinitionID,
		"organization_id":  c.OrganizationID,
	}

	return scope
}
