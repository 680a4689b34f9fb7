package models

// StepType identifies the handler responsible for executing a step.
type StepType string

const (
	StepTypeTrigger   StepType = "trigger"
	StepTypeAction    StepType = "action"
	StepTypeCondition StepType = "condition"
	StepTypeLLM       StepType = "llm"
)

// Outcome labels used as NextSteps keys.
const (
	OutcomeSuccess = "onSuccess"
	OutcomeFailure = "onFailure"
	OutcomeTrue    = "true"
	OutcomeFalse   = "false"
)

// Trigger config "type" values.
const (
	TriggerTypeManual    = "manual"
	TriggerTypeScheduled = "scheduled"
	TriggerTypeWebhook   = "webhook"
)

// StepDefinition is one node of a workflow definition's step graph. Steps
// are addressed by their 1-based Order, unique within a definition.
// NextSteps maps an outcome label to the order of the next step; a missing
// entry ends the execution on that branch.
type StepDefinition struct {
	ID        string         `json:"id"`
	Order     int            `json:"order"      validate:"required,min=1"`
	Slug      string         `json:"slug"       validate:"required,lowercase"`
	Name      string         `json:"name"`
	Type      StepType       `json:"step_type"  validate:"required,oneof=trigger action condition llm"`
	Config    map[string]any `json:"config"`
	NextSteps map[string]int `json:"next_steps,omitempty"`
}

// Next resolves the branch for an outcome label. ok is false when the
// outcome has no declared branch, which ends the execution.
func (s *StepDefinition) Next(outcome string) (int, bool) {
	order, ok := s.NextSteps[outcome]

	return order, ok
}

// TriggerType returns config["type"] for trigger steps, defaulting to manual.
func (s *StepDefinition) TriggerType() string {
	if t, ok := s.Config["type"].(string); ok && t != "" {
		return t
	}

	return TriggerTypeManual
}

// Schedule returns config["schedule"] for scheduled trigger steps.
func (s *StepDefinition) Schedule() string {
	schedule, _ := s.Config["schedule"].(string)

	return schedule
}

// Timezone returns config["timezone"], defaulting to UTC.
func (s *StepDefinition) Timezone() string {
	if tz, ok := s.Config["timezone"].(string); ok && tz != "" {
		return tz
	}

	return "UTC"
}
