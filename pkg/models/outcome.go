package models

// StepOutcome is the result a step handler reports back to the engine.
// Branch selects the NextSteps entry to follow; when empty the engine
// derives it from Success (OutcomeSuccess / OutcomeFailure).
type StepOutcome struct {
	Success bool   `json:"success"`
	Branch  string `json:"branch,omitempty"`
	Output  any    `json:"output,omitempty"`
}

// ResolveBranch returns the outcome label the engine should follow.
func (o StepOutcome) ResolveBranch() string {
	if o.Branch != "" {
		return o.Branch
	}

	if o.Success {
		return OutcomeSuccess
	}

	return OutcomeFailure
}
