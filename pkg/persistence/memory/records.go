package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

type processingRecordRepository struct {
	p *Persistence
}

func (r *processingRecordRepository) CheckAndClaim(ctx context.Context, record *models.ProcessingRecord, cutoff time.Time) (string, bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := recordKey{
		tableName:    record.TableName,
		recordID:     record.RecordID,
		definitionID: record.DefinitionID,
	}

	now := time.Now().UTC()

	existing, ok := r.p.records[key]
	if ok {
		if !existing.ProcessedAt.Before(cutoff) {
			// Still within the dedup window: claim denied.
			return "", false, nil
		}

		// Stale claim: reclaim it.
		existing.Status = models.ProcessingStatusInProgress
		existing.ProcessedAt = now
		existing.Metadata = copyMap(record.Metadata)

		return existing.ID, true, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", false, err
	}

	claimed := cloneRecord(record)
	claimed.ID = id.String()
	claimed.Status = models.ProcessingStatusInProgress
	claimed.ProcessedAt = now

	r.p.records[key] = claimed
	r.p.recordsByID[claimed.ID] = claimed

	return claimed.ID, true, nil
}

func (r *processingRecordRepository) MarkProcessed(ctx context.Context, claimID string, metadata map[string]any) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	record, ok := r.p.recordsByID[claimID]
	if !ok {
		return persistence.ErrProcessingRecordNotFound
	}

	record.Status = models.ProcessingStatusCompleted
	record.ProcessedAt = time.Now().UTC()

	if metadata != nil {
		record.Metadata = copyMap(metadata)
	}

	return nil
}

func (r *processingRecordRepository) GetByKey(ctx context.Context, tableName, recordID, definitionID string) (*models.ProcessingRecord, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	record, ok := r.p.records[recordKey{tableName: tableName, recordID: recordID, definitionID: definitionID}]
	if !ok {
		return nil, persistence.ErrProcessingRecordNotFound
	}

	return cloneRecord(record), nil
}
