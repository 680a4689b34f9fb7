package persistence

// Execution index names. Implementations scan one of these per list query;
// the choice is driven entirely by the populated filters so that status
// filtering stays a residual scan-time filter and never forces a full scan.
const (
	ExecutionIndexByDefinition            = "by_wf_definition"
	ExecutionIndexByDefinitionTriggeredBy = "by_wf_definition_triggered_by"
	ExecutionIndexByStatus                = "by_status"
)

// SelectExecutionIndex picks the compound index for a list query. The
// triggered_by index is used only when that filter is present; a status
// filter never changes the selection.
func SelectExecutionIndex(opts ListExecutionsOptions) string {
	if opts.TriggeredBy != "" {
		return ExecutionIndexByDefinitionTriggeredBy
	}

	return ExecutionIndexByDefinition
}
