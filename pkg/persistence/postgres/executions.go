package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

const executionColumns = `
	id
  , organization_id
  , wf_definition_id
  , status
  , started_at
  , updated_at
  , completed_at
  , current_step_slug
  , current_step_order
  , triggered_by
  , trigger_data
  , input
  , metadata
  , waiting_for
`

type executionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *executionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
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

	// Pagination cursors carry millisecond precision; store started_at at
	// the same granularity so keyset comparisons are exact.
	execution.StartedAt = execution.StartedAt.Truncate(time.Millisecond)

	execution.UpdatedAt = now

	triggerData, err := marshalMap(execution.TriggerData)
	if err != nil {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: execution.ID, Err: err}
	}

	input, err := marshalMap(execution.Input)
	if err != nil {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: execution.ID, Err: err}
	}

	metadata, err := marshalMap(execution.Metadata)
	if err != nil {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: execution.ID, Err: err}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		execution.ID,
		execution.OrganizationID,
		execution.DefinitionID,
		execution.Status,
		execution.StartedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
		execution.CurrentStepSlug,
		execution.CurrentStepOrder,
		execution.TriggeredBy,
		triggerData,
		input,
		metadata,
		execution.WaitingFor,
	)
	if err != nil {
		return &persistence.ExecutionError{Op: "Create", ExecutionID: execution.ID, Err: err}
	}

	return nil
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: err}
	}

	return execution, nil
}

func (r *executionRepository) AdvanceStep(ctx context.Context, id string, order int, slug string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET current_step_slug = CASE WHEN $2 >= current_step_order THEN $3 ELSE current_step_slug END
		  , current_step_order = GREATEST(current_step_order, $2)
		  , updated_at = $4
		WHERE id = $1
	`, id, order, slug, time.Now().UTC())
	if err != nil {
		return &persistence.ExecutionError{Op: "AdvanceStep", ExecutionID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.ExecutionError{Op: "AdvanceStep", ExecutionID: id, Err: err}
	}

	if affected == 0 {
		return &persistence.ExecutionError{Op: "AdvanceStep", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
	}

	return nil
}

func (r *executionRepository) TransitionStatus(ctx context.Context, id string, from []models.ExecutionStatus, to models.ExecutionStatus, metadata map[string]any) (bool, error) {
	now := time.Now().UTC()

	var completedAt *time.Time
	if to.Terminal() {
		completedAt = &now
	}

	// The from set drives the CAS; the state machine still bounds it.
	fromStatuses := make([]string, 0, len(from))

	for _, status := range from {
		if status.CanTransitionTo(to) {
			fromStatuses = append(fromStatuses, string(status))
		}
	}

	if len(fromStatuses) == 0 {
		return false, nil
	}

	var (
		result sql.Result
		err    error
	)

	if metadata != nil {
		var metadataJSON []byte

		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return false, &persistence.ExecutionError{Op: "TransitionStatus", ExecutionID: id, Err: err}
		}

		result, err = r.db.ExecContext(ctx, `
			UPDATE workflow_executions
			SET status = $2
			  , updated_at = $3
			  , completed_at = COALESCE($4, completed_at)
			  , metadata = $5
			WHERE id = $1 AND status = ANY($6)
		`, id, to, now, completedAt, metadataJSON, pq.Array(fromStatuses))
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE workflow_executions
			SET status = $2
			  , updated_at = $3
			  , completed_at = COALESCE($4, completed_at)
			WHERE id = $1 AND status = ANY($5)
		`, id, to, now, completedAt, pq.Array(fromStatuses))
	}

	if err != nil {
		return false, &persistence.ExecutionError{Op: "TransitionStatus", ExecutionID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, &persistence.ExecutionError{Op: "TransitionStatus", ExecutionID: id, Err: err}
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)", id).Scan(&exists)
		if err != nil {
			return false, &persistence.ExecutionError{Op: "TransitionStatus", ExecutionID: id, Err: err}
		}

		if !exists {
			return false, &persistence.ExecutionError{Op: "TransitionStatus", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return false, nil
	}

	return true, nil
}

func (r *executionRepository) LatestStart(ctx context.Context, definitionID string) (*time.Time, error) {
	var latest sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(started_at) FROM workflow_executions WHERE wf_definition_id = $1
	`, definitionID).Scan(&latest)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "LatestStart", Err: err}
	}

	if !latest.Valid {
		return nil, nil
	}

	startedAt := latest.Time.UTC()

	return &startedAt, nil
}

func (r *executionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE wf_definition_id = $1`
	args := []any{opts.DefinitionID}

	if opts.TriggeredBy != "" {
		args = append(args, opts.TriggeredBy)
		query += fmt.Sprintf(" AND triggered_by = $%d", len(args))
	}

	if opts.From != nil {
		args = append(args, *opts.From)
		query += fmt.Sprintf(" AND started_at >= $%d", len(args))
	}

	if opts.To != nil {
		args = append(args, *opts.To)
		query += fmt.Sprintf(" AND started_at <= $%d", len(args))
	}

	if opts.Cursor != "" {
		cursor, err := persistence.DecodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}

		args = append(args, cursor.StartedAt, cursor.ID)
		query += fmt.Sprintf(" AND (started_at, id) < ($%d, $%d::uuid)", len(args)-1, len(args))
	}

	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			statuses[i] = string(status)
		}

		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY started_at DESC, id DESC LIMIT $%d", len(args))

	r.logger.DebugContext(ctx, "listing executions",
		"wf_definition_id", opts.DefinitionID,
		"index", persistence.SelectExecutionIndex(opts))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "List", Err: err}
	}

	defer closeRows(ctx, rows, r.logger)

	executions := make([]*models.WorkflowExecution, 0, limit)
	moreAfterPage := false

	for rows.Next() {
		if len(executions) == limit {
			moreAfterPage = true

			break
		}

		execution, err := scanExecution(rows)
		if err != nil {
			return nil, &persistence.ExecutionError{Op: "List", Err: err}
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, &persistence.ExecutionError{Op: "List", Err: err}
	}

	page := &persistence.ExecutionPage{Executions: executions, IsDone: !moreAfterPage}
	if moreAfterPage {
		tail := executions[len(executions)-1]
		page.ContinueCursor = persistence.EncodeCursor(persistence.Cursor{StartedAt: tail.StartedAt, ID: tail.ID})
	}

	return page, nil
}

func (r *executionRepository) ListStale(ctx context.Context, status models.ExecutionStatus, olderThan time.Time, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, status, olderThan, limit)
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "ListStale", Err: err}
	}

	defer closeRows(ctx, rows, r.logger)

	stale := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, &persistence.ExecutionError{Op: "ListStale", Err: err}
		}

		stale = append(stale, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, &persistence.ExecutionError{Op: "ListStale", Err: err}
	}

	return stale, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution   models.WorkflowExecution
		triggerData []byte
		input       []byte
		metadata    []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.OrganizationID,
		&execution.DefinitionID,
		&execution.Status,
		&execution.StartedAt,
		&execution.UpdatedAt,
		&execution.CompletedAt,
		&execution.CurrentStepSlug,
		&execution.CurrentStepOrder,
		&execution.TriggeredBy,
		&triggerData,
		&input,
		&metadata,
		&execution.WaitingFor,
	)
	if err != nil {
		return nil, err
	}

	execution.StartedAt = execution.StartedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()

	if execution.TriggerData, err = unmarshalMap(triggerData); err != nil {
		return nil, err
	}

	if execution.Input, err = unmarshalMap(input); err != nil {
		return nil, err
	}

	if execution.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}

	return &execution, nil
}

func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map: %w", err)
	}

	return data, nil
}

func unmarshalMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var m map[string]any

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal map: %w", err)
	}

	return m, nil
}
