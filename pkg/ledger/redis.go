package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "flowd:ledger"
	claimPrefix = "flowd:ledger:claim"

	// Records expire well after any plausible dedup window.
	defaultRecordTTL = 30 * 24 * time.Hour
)

// ErrClaimNotFound is returned when marking a claim Redis no longer knows.
var ErrClaimNotFound = errors.New("claim not found")

// claimScript performs the cutoff check and the claim write in one atomic
// step. KEYS[1] is the record hash; ARGV: candidate claim id, now millis,
// cutoff millis, claim key prefix, ttl seconds. Returns the winning claim
// id, or an empty string when the key is already processed.
var claimScript = redis.NewScript(`
local processed_at = redis.call('HGET', KEYS[1], 'processed_at')
if processed_at and tonumber(processed_at) >= tonumber(ARGV[3]) then
  return ''
end
local id = redis.call('HGET', KEYS[1], 'id')
if not id then
  id = ARGV[1]
end
redis.call('HSET', KEYS[1], 'id', id, 'status', 'in_progress', 'processed_at', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[5])
redis.call('SET', ARGV[4] .. ':' .. id, KEYS[1], 'EX', ARGV[5])
return id
`)

// RedisLedger keeps claims in Redis for deployments where trigger volume
// would make the primary store's ledger table a hot spot.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{
		client: client,
		ttl:    defaultRecordTTL,
	}
}

func (l *RedisLedger) Claim(ctx context.Context, record *models.ProcessingRecord, cutoff time.Time) (string, bool, error) {
	candidate, err := uuid.NewV7()
	if err != nil {
		return "", false, fmt.Errorf("failed to generate claim id: %w", err)
	}

	key := l.recordKey(record)

	result, err := claimScript.Run(ctx, l.client,
		[]string{key},
		candidate.String(),
		time.Now().UTC().UnixMilli(),
		cutoff.UnixMilli(),
		claimPrefix,
		int(l.ttl.Seconds()),
	).Text()
	if err != nil {
		return "", false, fmt.Errorf("ledger claim failed: %w", err)
	}

	if result == "" {
		return "", false, nil
	}

	return result, true, nil
}

func (l *RedisLedger) MarkProcessed(ctx context.Context, claimID string, metadata map[string]any) error {
	recordKey, err := l.client.Get(ctx, claimPrefix+":"+claimID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrClaimNotFound
		}

		return fmt.Errorf("failed to resolve claim: %w", err)
	}

	fields := map[string]any{
		"status":       string(models.ProcessingStatusCompleted),
		"processed_at": time.Now().UTC().UnixMilli(),
	}

	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode claim metadata: %w", err)
		}

		fields["metadata"] = string(encoded)
	}

	err = l.client.HSet(ctx, recordKey, fields).Err()
	if err != nil {
		return fmt.Errorf("failed to mark claim processed: %w", err)
	}

	return nil
}

func (l *RedisLedger) Close(_ context.Context) error {
	return l.client.Close()
}

func (l *RedisLedger) recordKey(record *models.ProcessingRecord) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, record.TableName, record.RecordID, record.DefinitionID)
}
