package ledger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence/memory"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() *memory.Persistence {
	return memory.NewPersistence(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNew_BackendSelection(t *testing.T) {
	store := newStore()

	ledger, err := New("", store)
	require.NoError(t, err)
	assert.IsType(t, &StoreLedger{}, ledger)

	ledger, err = New("store://", store)
	require.NoError(t, err)
	assert.IsType(t, &StoreLedger{}, ledger)

	ledger, err = New("redis://localhost:6379/0", store)
	require.NoError(t, err)
	assert.IsType(t, &RedisLedger{}, ledger)

	_, err = New("ftp://nope", store)
	require.Error(t, err)
}

func TestStoreLedger_ClaimAndMark(t *testing.T) {
	ctx := context.Background()
	ledger := NewStoreLedger(newStore())

	record := &models.ProcessingRecord{
		TableName:    "schedule_slots",
		RecordID:     "def-1@2026-04-01T08:00:00Z",
		DefinitionID: "def-1",
	}

	cutoff := time.Now().UTC().Add(-time.Minute)

	claimID, ok, err := ledger.Claim(ctx, record, cutoff)
	require.NoError(t, err)
	require.True(t, ok)

	// The same slot cannot be claimed twice within its window.
	_, ok, err = ledger.Claim(ctx, record, cutoff)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.MarkProcessed(ctx, claimID, map[string]any{"execution_id": "exec-1"}))
}

func TestRedisLedger_ClaimAndMark(t *testing.T) {
	redisURL := os.Getenv("FLOWD_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("FLOWD_TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	ctx := context.Background()
	ledger := NewRedisLedger(redis.NewClient(opts))

	defer func() { _ = ledger.Close(ctx) }()

	record := &models.ProcessingRecord{
		TableName:    "schedule_slots",
		RecordID:     "def-redis@" + time.Now().UTC().Format(time.RFC3339Nano),
		DefinitionID: "def-redis",
	}

	cutoff := time.Now().UTC().Add(-time.Minute)

	claimID, ok, err := ledger.Claim(ctx, record, cutoff)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, claimID)

	_, ok, err = ledger.Claim(ctx, record, cutoff)
	require.NoError(t, err)
	assert.False(t, ok)

	// A later cutoff makes the claim stale; the same claim id is reused.
	reclaimed, ok, err := ledger.Claim(ctx, record, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, claimID, reclaimed)

	require.NoError(t, ledger.MarkProcessed(ctx, claimID, map[string]any{"execution_id": "exec-9"}))

	err = ledger.MarkProcessed(ctx, "no-such-claim", nil)
	require.ErrorIs(t, err, ErrClaimNotFound)
}
