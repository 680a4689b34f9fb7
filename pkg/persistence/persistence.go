// Package persistence provides the data storage abstraction for workflow
// definitions, executions, and processing records. The engine only assumes
// an ordered, indexed document store with point lookups, range scans, and
// atomic single-record conditional writes; implementations live in the
// subpackages.
package persistence

import (
	"context"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
)

type Persistence interface {
	Definitions() DefinitionRepository
	Executions() ExecutionRepository
	ProcessingRecords() ProcessingRecordRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores versioned workflow definitions together with
// their step graphs. Steps are owned by their definition and are never
// addressable outside it.
type DefinitionRepository interface {
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context, opts ListDefinitionsOptions) ([]*models.WorkflowDefinition, error)

	// EachScheduled streams active definitions whose trigger step is of
	// type scheduled with a non-empty schedule, in pages of batchSize, so
	// a scheduler sweep never materializes the full table. Iteration
	// stops early when fn returns an error.
	EachScheduled(ctx context.Context, batchSize int, fn func(*models.WorkflowDefinition) error) error

	// Publish transitions a draft to active and, atomically with it,
	// archives the previously active version of the same organization and
	// name. Returns the published definition.
	Publish(ctx context.Context, id string) (*models.WorkflowDefinition, error)

	// CreateDraftFromActive clones the step graph of an active definition
	// into a new draft with the next version number.
	CreateDraftFromActive(ctx context.Context, id string) (*models.WorkflowDefinition, error)

	// Archive moves an active definition to archived.
	Archive(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow executions. Executions are never
// deleted; terminal transitions go through TransitionStatus so a step
// completing normally and the recovery sweep can never race each other.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// AdvanceStep records the step currently executing and refreshes
	// updated_at. The current step order never decreases.
	AdvanceStep(ctx context.Context, id string, order int, slug string) error

	// TransitionStatus is a compare-and-set: the execution moves to the
	// target status only if its current status is one of from. Metadata,
	// when non-nil, replaces the stored metadata in the same write.
	// Returns false when the guard did not match.
	TransitionStatus(ctx context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, metadata map[string]any) (bool, error)

	// LatestStart returns started_at of the most recent execution for the
	// definition, or nil when it never ran.
	LatestStart(ctx context.Context, definitionID string) (*time.Time, error)

	List(ctx context.Context, opts ListExecutionsOptions) (*ExecutionPage, error)

	// ListStale returns up to limit executions in the given status whose
	// updated_at is older than the cutoff, via the status index.
	ListStale(ctx context.Context, status models.ExecutionStatus, olderThan time.Time, limit int) ([]*models.WorkflowExecution, error)
}

// ProcessingRecordRepository is the idempotency ledger. CheckAndClaim is a
// single atomic read-modify-write on the (table, record, definition) key.
type ProcessingRecordRepository interface {
	// CheckAndClaim inserts an in_progress record when none exists,
	// reclaims one whose processed_at is before the cutoff, and denies
	// (ok=false) when the existing claim is still within the window.
	CheckAndClaim(ctx context.Context, record *models.ProcessingRecord, cutoff time.Time) (claimID string, ok bool, err error)

	// MarkProcessed flips a claimed record to completed with a fresh
	// processed_at.
	MarkProcessed(ctx context.Context, claimID string, metadata map[string]any) error

	GetByKey(ctx context.Context, tableName, recordID, definitionID string) (*models.ProcessingRecord, error)
}

// ListDefinitionsOptions filters definition listings.
type ListDefinitionsOptions struct {
	OrganizationID string
	Name           string
	Status         *models.WorkflowStatus
	Limit          int
	Offset         int
}

// ListExecutionsOptions filters and paginates execution listings. The
// implementation picks its index from the populated filters: TriggeredBy
// selects the (definition, triggered_by, started_at) compound index,
// otherwise (definition, started_at); From/To are pushed into the index
// range scan; Statuses is a residual filter applied after the scan.
type ListExecutionsOptions struct {
	DefinitionID string
	Statuses     []models.ExecutionStatus
	TriggeredBy  models.TriggerSource
	From         *time.Time
	To           *time.Time
	Limit        int
	Cursor       string
}

// ExecutionPage is one page of execution results, ordered by started_at
// descending. ContinueCursor is opaque and stable under concurrent inserts.
type ExecutionPage struct {
	Executions     []*models.WorkflowExecution `json:"executions"`
	IsDone         bool                        `json:"is_done"`
	ContinueCursor string                      `json:"continue_cursor,omitempty"`
}
