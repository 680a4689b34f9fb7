package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

type executionRepository struct {
	p *Persistence
}

func (r *executionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return &persistence.ExecutionError{Op: "Create", Err: err}
		}

		execution.ID = id.String()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = now
	}

	execution.UpdatedAt = now

	r.p.executions[execution.ID] = cloneExecution(execution)

	return nil
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	return cloneExecution(execution), nil
}

func (r *executionRepository) AdvanceStep(ctx context.Context, id string, order int, slug string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return &persistence.ExecutionError{Op: "AdvanceStep", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	if order >= execution.CurrentStepOrder {
		execution.CurrentStepOrder = order
		execution.CurrentStepSlug = slug
	}

	execution.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *executionRepository) TransitionStatus(ctx context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, metadata map[string]any) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return false, &persistence.ExecutionError{Op: "TransitionStatus", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	if !slices.Contains(from, execution.Status) {
		return false, nil
	}

	// The from set drives the CAS; the state machine still bounds it.
	if !execution.Status.CanTransitionTo(to) {
		return false, nil
	}

	now := time.Now().UTC()
	execution.Status = to
	execution.UpdatedAt = now

	if to.Terminal() {
		completed := now
		execution.CompletedAt = &completed
	}

	if metadata != nil {
		execution.Metadata = copyMap(metadata)
	}

	return true, nil
}

func (r *executionRepository) LatestStart(ctx context.Context, definitionID string) (*time.Time, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var latest *time.Time

	for _, execution := range r.p.executions {
		if execution.DefinitionID != definitionID {
			continue
		}

		if latest == nil || execution.StartedAt.After(*latest) {
			startedAt := execution.StartedAt
			latest = &startedAt
		}
	}

	return latest, nil
}

func (r *executionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionPage, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var cursor *persistence.Cursor

	if opts.Cursor != "" {
		decoded, err := persistence.DecodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}

		cursor = &decoded
	}

	r.p.logger.DebugContext(ctx, "listing executions",
		"wf_definition_id", opts.DefinitionID,
		"index", persistence.SelectExecutionIndex(opts))

	// Index-eligible filters first: definition, triggered_by, date range.
	matches := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.p.executions {
		if execution.DefinitionID != opts.DefinitionID {
			continue
		}

		if opts.TriggeredBy != "" && execution.TriggeredBy != opts.TriggeredBy {
			continue
		}

		if opts.From != nil && execution.StartedAt.Before(*opts.From) {
			continue
		}

		if opts.To != nil && execution.StartedAt.After(*opts.To) {
			continue
		}

		matches = append(matches, execution)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].StartedAt.Equal(matches[j].StartedAt) {
			return matches[i].StartedAt.After(matches[j].StartedAt)
		}

		return matches[i].ID > matches[j].ID
	})

	page := make([]*models.WorkflowExecution, 0, limit)
	moreAfterPage := false

	for _, execution := range matches {
		if cursor != nil && !afterCursor(execution, *cursor) {
			continue
		}

		// Status is a residual filter, applied after the index scan.
		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, execution.Status) {
			continue
		}

		if len(page) == limit {
			moreAfterPage = true

			break
		}

		page = append(page, cloneExecution(execution))
	}

	result := &persistence.ExecutionPage{Executions: page, IsDone: !moreAfterPage}
	if moreAfterPage {
		tail := page[len(page)-1]
		result.ContinueCursor = persistence.EncodeCursor(persistence.Cursor{StartedAt: tail.StartedAt, ID: tail.ID})
	}

	return result, nil
}

// afterCursor reports whether the execution sorts strictly after the cursor
// position in (started_at DESC, id DESC) order.
func afterCursor(execution *models.WorkflowExecution, cursor persistence.Cursor) bool {
	if execution.StartedAt.Before(cursor.StartedAt) {
		return true
	}

	// Millisecond cursor precision: compare at the same granularity.
	if execution.StartedAt.UnixMilli() == cursor.StartedAt.UnixMilli() {
		return execution.ID < cursor.ID
	}

	return execution.StartedAt.UnixMilli() < cursor.StartedAt.UnixMilli()
}

func (r *executionRepository) ListStale(ctx context.Context, status models.ExecutionStatus, olderThan time.Time, limit int) ([]*models.WorkflowExecution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stale := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.p.executions {
		if execution.Status != status {
			continue
		}

		if !execution.UpdatedAt.Before(olderThan) {
			continue
		}

		stale = append(stale, cloneExecution(execution))

		if limit > 0 && len(stale) == limit {
			break
		}
	}

	return stale, nil
}
