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
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

const definitionColumns = `
	id
  , organization_id
  , name
  , description
  , version
  , status
  , steps
  , created_at
  , updated_at
  , published_at
  , archived_at
`

type definitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *definitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return &persistence.DefinitionError{Op: "Save", Err: err}
		}

		definition.ID = id.String()
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	stepsJSON, err := json.Marshal(definition.Steps)
	if err != nil {
		return &persistence.DefinitionError{Op: "Save", DefinitionID: definition.ID, Err: err}
	}

	query := `
		INSERT INTO workflow_definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , version = EXCLUDED.version
		  , status = EXCLUDED.status
		  , steps = EXCLUDED.steps
		  , updated_at = EXCLUDED.updated_at
		  , published_at = EXCLUDED.published_at
		  , archived_at = EXCLUDED.archived_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.OrganizationID,
		definition.Name,
		definition.Description,
		definition.Version,
		definition.Status,
		stepsJSON,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.PublishedAt,
		definition.ArchivedAt,
	)
	if err != nil {
		return &persistence.DefinitionError{Op: "Save", DefinitionID: definition.ID, Err: err}
	}

	return nil
}

func (r *definitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = $1`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.DefinitionError{Op: "GetByID", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
		}

		return nil, &persistence.DefinitionError{Op: "GetByID", DefinitionID: id, Err: err}
	}

	return definition, nil
}

func (r *definitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE 1=1`
	args := make([]any, 0, 5)

	if opts.OrganizationID != "" {
		args = append(args, opts.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}

	if opts.Name != "" {
		args = append(args, opts.Name)
		query += fmt.Sprintf(" AND name = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "List", Err: err}
	}

	defer closeRows(ctx, rows, r.logger)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, &persistence.DefinitionError{Op: "List", Err: err}
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, &persistence.DefinitionError{Op: "List", Err: err}
	}

	return definitions, nil
}

func (r *definitionRepository) EachScheduled(ctx context.Context, batchSize int, fn func(*models.WorkflowDefinition) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE status = 'active' AND id > $1
		ORDER BY id
		LIMIT $2
	`

	lastID := ""

	for {
		rows, err := r.db.QueryContext(ctx, query, lastID, batchSize)
		if err != nil {
			return &persistence.DefinitionError{Op: "EachScheduled", Err: err}
		}

		batch := make([]*models.WorkflowDefinition, 0, batchSize)

		for rows.Next() {
			definition, err := scanDefinition(rows)
			if err != nil {
				closeRows(ctx, rows, r.logger)

				return &persistence.DefinitionError{Op: "EachScheduled", Err: err}
			}

			batch = append(batch, definition)
		}

		err = rows.Err()

		closeRows(ctx, rows, r.logger)

		if err != nil {
			return &persistence.DefinitionError{Op: "EachScheduled", Err: err}
		}

		for _, definition := range batch {
			lastID = definition.ID

			if !definition.IsScheduled() {
				continue
			}

			if err := fn(definition); err != nil {
				return err
			}
		}

		if len(batch) < batchSize {
			return nil
		}
	}
}

func (r *definitionRepository) Publish(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: err}
	}

	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = $1 FOR UPDATE`

	draft, err := scanDefinition(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
		}

		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: err}
	}

	if draft.Status != models.WorkflowStatusDraft {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: persistence.ErrNotDraft}
	}

	now := time.Now().UTC()

	// Archive the previously active version of the same name, atomically
	// with the draft becoming active.
	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_definitions
		SET status = 'archived', archived_at = $1, updated_at = $1
		WHERE organization_id = $2 AND name = $3 AND status = 'active' AND id <> $4
	`, now, draft.OrganizationID, draft.Name, id)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_definitions
		SET status = 'active', published_at = $1, updated_at = $1
		WHERE id = $2
	`, now, id)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: err}
	}

	err = tx.Commit()
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "Publish", DefinitionID: id, Err: err}
	}

	draft.Status = models.WorkflowStatusActive
	draft.PublishedAt = &now
	draft.UpdatedAt = now

	return draft, nil
}

func (r *definitionRepository) CreateDraftFromActive(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = $1 FOR UPDATE`

	active, err := scanDefinition(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
		}

		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	if active.Status != models.WorkflowStatusActive {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: persistence.ErrNotActive}
	}

	var maxVersion int

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM workflow_definitions
		WHERE organization_id = $1 AND name = $2
	`, active.OrganizationID, active.Name).Scan(&maxVersion)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	draftID, err := uuid.NewV7()
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	now := time.Now().UTC()

	draft := active
	draft.ID = draftID.String()
	draft.Version = maxVersion + 1
	draft.Status = models.WorkflowStatusDraft
	draft.PublishedAt = nil
	draft.ArchivedAt = nil
	draft.CreatedAt = now
	draft.UpdatedAt = now

	for _, step := range draft.Steps {
		stepID, err := uuid.NewV7()
		if err != nil {
			return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
		}

		step.ID = stepID.String()
	}

	stepsJSON, err := json.Marshal(draft.Steps)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions (`+definitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, NULL)
	`,
		draft.ID,
		draft.OrganizationID,
		draft.Name,
		draft.Description,
		draft.Version,
		draft.Status,
		stepsJSON,
		draft.CreatedAt,
		draft.UpdatedAt,
	)
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	err = tx.Commit()
	if err != nil {
		return nil, &persistence.DefinitionError{Op: "CreateDraftFromActive", DefinitionID: id, Err: err}
	}

	return draft, nil
}

func (r *definitionRepository) Archive(ctx context.Context, id string) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_definitions
		SET status = 'archived', archived_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'active'
	`, now, id)
	if err != nil {
		return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: err}
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM workflow_definitions WHERE id = $1)", id).Scan(&exists)
		if err != nil {
			return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: err}
		}

		if !exists {
			return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: persistence.ErrDefinitionNotFound}
		}

		return &persistence.DefinitionError{Op: "Archive", DefinitionID: id, Err: persistence.ErrNotActive}
	}

	return nil
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition models.WorkflowDefinition
		stepsJSON  []byte
	)

	err := row.Scan(
		&definition.ID,
		&definition.OrganizationID,
		&definition.Name,
		&definition.Description,
		&definition.Version,
		&definition.Status,
		&stepsJSON,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&definition.PublishedAt,
		&definition.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(stepsJSON) > 0 {
		err = json.Unmarshal(stepsJSON, &definition.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &definition, nil
}

func closeRows(ctx context.Context, rows *sql.Rows, logger *slog.Logger) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
