package models

import "time"

// ProcessingStatus is the claim state of a processing record.
type ProcessingStatus string

const (
	ProcessingStatusInProgress ProcessingStatus = "in_progress"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
)

// ProcessingRecord is one entry of the idempotency ledger. The key
// (TableName, RecordID, DefinitionID) is unique: a logical unit of work is
// claimed by at most one execution within the configured cutoff window, and
// may be reclaimed only once ProcessedAt falls before the cutoff.
type ProcessingRecord struct {
	ID              string           `json:"id"`
	OrganizationID  string           `json:"organization_id"`
	TableName       string           `json:"table_name"        validate:"required"`
	RecordID        string           `json:"record_id"         validate:"required"`
	DefinitionID    string           `json:"wf_definition_id"  validate:"required"`
	RecordCreatedAt time.Time        `json:"record_creation_time"`
	ProcessedAt     time.Time        `json:"processed_at"`
	Status          ProcessingStatus `json:"status"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}
