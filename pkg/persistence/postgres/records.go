package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

type processingRecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *processingRecordRepository) CheckAndClaim(ctx context.Context, record *models.ProcessingRecord, cutoff time.Time) (string, bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", false, err
	}

	metadata, err := marshalMap(record.Metadata)
	if err != nil {
		return "", false, err
	}

	now := time.Now().UTC()

	// A single upsert keeps check-and-claim atomic: the insert claims a
	// fresh slot, the conflict branch reclaims only when the existing
	// claim's processed_at fell before the cutoff. A reclaim keeps the
	// original claim ID.
	var claimID string

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO processing_records
			(id, organization_id, table_name, record_id, wf_definition_id, record_created_at, processed_at, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'in_progress', $8)
		ON CONFLICT (table_name, record_id, wf_definition_id) DO UPDATE SET
			status = 'in_progress'
		  , processed_at = EXCLUDED.processed_at
		  , metadata = EXCLUDED.metadata
		WHERE processing_records.processed_at < $9
		RETURNING id
	`,
		id.String(),
		record.OrganizationID,
		record.TableName,
		record.RecordID,
		record.DefinitionID,
		nullableTime(record.RecordCreatedAt),
		now,
		metadata,
		cutoff,
	).Scan(&claimID)

	if errors.Is(err, sql.ErrNoRows) {
		// Still within the dedup window: claim denied.
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	return claimID, true, nil
}

func (r *processingRecordRepository) MarkProcessed(ctx context.Context, claimID string, metadata map[string]any) error {
	metadataJSON, err := marshalMap(metadata)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE processing_records
		SET status = 'completed'
		  , processed_at = $2
		  , metadata = COALESCE($3, metadata)
		WHERE id = $1
	`, claimID, time.Now().UTC(), metadataJSON)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return persistence.ErrProcessingRecordNotFound
	}

	return nil
}

func (r *processingRecordRepository) GetByKey(ctx context.Context, tableName, recordID, definitionID string) (*models.ProcessingRecord, error) {
	var (
		record          models.ProcessingRecord
		recordCreatedAt sql.NullTime
		metadata        []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			id
		  , organization_id
		  , table_name
		  , record_id
		  , wf_definition_id
		  , record_created_at
		  , processed_at
		  , status
		  , metadata
		FROM processing_records
		WHERE table_name = $1 AND record_id = $2 AND wf_definition_id = $3
	`, tableName, recordID, definitionID).Scan(
		&record.ID,
		&record.OrganizationID,
		&record.TableName,
		&record.RecordID,
		&record.DefinitionID,
		&recordCreatedAt,
		&record.ProcessedAt,
		&record.Status,
		&metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrProcessingRecordNotFound
	}

	if err != nil {
		return nil, err
	}

	if recordCreatedAt.Valid {
		record.RecordCreatedAt = recordCreatedAt.Time.UTC()
	}

	record.ProcessedAt = record.ProcessedAt.UTC()

	if record.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}

	return &record, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
