// Package ledger provides the idempotency claim layer used to deduplicate
// workflow triggers. A claim is an atomic check-and-set on a processing
// record key; exactly one of any number of concurrent claimants wins.
package ledger

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

type Ledger interface {
	// Claim attempts to take the record's key. ok is false when another
	// claimant already processed the key at or after the cutoff.
	Claim(ctx context.Context, record *models.ProcessingRecord, cutoff time.Time) (claimID string, ok bool, err error)

	// MarkProcessed finalizes a successful claim.
	MarkProcessed(ctx context.Context, claimID string, metadata map[string]any) error

	Close(ctx context.Context) error
}

// New selects a ledger backend from a URL. An empty URL or the store scheme
// uses the persistence-backed ledger; redis:// URLs use Redis.
func New(ledgerURL string, p persistence.Persistence) (Ledger, error) {
	if ledgerURL == "" {
		return NewStoreLedger(p), nil
	}

	parsed, err := url.Parse(ledgerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger URL: %w", err)
	}

	switch parsed.Scheme {
	case "store", "":
		return NewStoreLedger(p), nil
	case "redis", "rediss":
		opts, err := redis.ParseURL(ledgerURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis ledger URL: %w", err)
		}

		return NewRedisLedger(redis.NewClient(opts)), nil
	default:
		return nil, fmt.Errorf("unsupported ledger scheme '%s'", parsed.Scheme)
	}
}

// StoreLedger keeps claims in the primary store's processing records,
// giving claim and execution the same durability domain.
type StoreLedger struct {
	records persistence.ProcessingRecordRepository
}

func NewStoreLedger(p persistence.Persistence) *StoreLedger {
	return &StoreLedger{records: p.ProcessingRecords()}
}

func (l *StoreLedger) Claim(ctx context.Context, record *models.ProcessingRecord, cutoff time.Time) (string, bool, error) {
	return l.records.CheckAndClaim(ctx, record, cutoff)
}

func (l *StoreLedger) MarkProcessed(ctx context.Context, claimID string, metadata map[string]any) error {
	return l.records.MarkProcessed(ctx, claimID, metadata)
}

func (l *StoreLedger) Close(_ context.Context) error {
	return nil
}
