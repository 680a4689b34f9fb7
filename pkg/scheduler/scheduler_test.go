package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/ledger"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStarter records starts and persists an execution so LatestStart
// advances the way the engine would.
type fakeStarter struct {
	p           *memory.Persistence
	clock       func() time.Time
	started     []string
	triggerData []map[string]any
	failFor     map[string]error
}

func (f *fakeStarter) StartWorkflow(ctx context.Context, definitionID string, triggeredBy models.TriggerSource, input map[string]any, triggerData map[string]any) (*models.WorkflowExecution, error) {
	if err, ok := f.failFor[definitionID]; ok {
		return nil, err
	}

	execution := &models.WorkflowExecution{
		ID:           uuid.NewString(),
		DefinitionID: definitionID,
		Status:       models.ExecutionStatusRunning,
		TriggeredBy:  triggeredBy,
		TriggerData:  triggerData,
		StartedAt:    f.clock(),
	}

	err := f.p.Executions().Create(ctx, execution)
	if err != nil {
		return nil, err
	}

	f.started = append(f.started, definitionID)
	f.triggerData = append(f.triggerData, triggerData)

	return execution, nil
}

func scheduledDefinition(t *testing.T, p *memory.Persistence, name, spec string) *models.WorkflowDefinition {
	t.Helper()

	ctx := context.Background()
	definition := &models.WorkflowDefinition{
		OrganizationID: "org-1",
		Name:           name,
		Version:        1,
		Status:         models.WorkflowStatusDraft,
		Steps: []*models.StepDefinition{
			{
				ID:    "s1",
				Order: 1,
				Slug:  "start",
				Type:  models.StepTypeTrigger,
				Config: map[string]any{
					"type":     "scheduled",
					"schedule": spec,
					"timezone": "UTC",
				},
			},
		},
	}

	require.NoError(t, p.Definitions().Save(ctx, definition))

	published, err := p.Definitions().Publish(ctx, definition.ID)
	require.NoError(t, err)

	return published
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *fakeStarter, *memory.Persistence) {
	t.Helper()

	p := memory.NewPersistence(slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := func() time.Time { return now }
	starter := &fakeStarter{p: p, clock: clock, failFor: map[string]error{}}

	s := NewScheduler(p, ledger.NewStoreLedger(p), starter,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.clock = clock

	return s, starter, p
}

func TestScanAndTrigger_FirstRunFires(t *testing.T) {
	now := time.Date(2026, 4, 6, 9, 30, 0, 0, time.UTC)
	s, starter, p := newTestScheduler(t, now)

	definition := scheduledDefinition(t, p, "hourly", "0 * * * *")

	triggered, err := s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)
	assert.Equal(t, []string{definition.ID}, starter.started)

	require.Len(t, starter.triggerData, 1)
	assert.Equal(t, "schedule", starter.triggerData[0]["trigger_type"])
	assert.Equal(t, "0 * * * *", starter.triggerData[0]["schedule"])
	assert.Equal(t, "2026-04-06T09:30:00Z", starter.triggerData[0]["fired_at"])
}

func TestScanAndTrigger_NoDuplicateWithinSlot(t *testing.T) {
	now := time.Date(2026, 4, 6, 9, 0, 30, 0, time.UTC)
	s, starter, p := newTestScheduler(t, now)

	scheduledDefinition(t, p, "hourly", "0 * * * *")

	triggered, err := s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)

	// A second sweep within the same slot fires nothing.
	triggered, err = s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, triggered)
	assert.Len(t, starter.started, 1)
}

func TestScanAndTrigger_SlotClaimBlocksConcurrentScheduler(t *testing.T) {
	now := time.Date(2026, 4, 6, 9, 0, 30, 0, time.UTC)
	s, starter, p := newTestScheduler(t, now)

	definition := scheduledDefinition(t, p, "hourly", "0 * * * *")

	// Another scheduler instance already claimed this slot but has not yet
	// created the execution, so LatestStart alone would still say due.
	fireAt := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)
	_, ok, err := ledger.NewStoreLedger(p).Claim(context.Background(), &models.ProcessingRecord{
		OrganizationID: "org-1",
		TableName:      ScheduleSlotsTable,
		RecordID:       definition.ID + "@" + fireAt.Format(time.RFC3339),
		DefinitionID:   definition.ID,
	}, fireAt)
	require.NoError(t, err)
	require.True(t, ok)

	triggered, err := s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, triggered)
	assert.Empty(t, starter.started)
}

func TestScanAndTrigger_FaultIsolation(t *testing.T) {
	now := time.Date(2026, 4, 6, 9, 0, 30, 0, time.UTC)
	s, starter, p := newTestScheduler(t, now)

	broken := scheduledDefinition(t, p, "broken", "0 * * * *")
	healthy := scheduledDefinition(t, p, "healthy", "0 * * * *")

	starter.failFor[broken.ID] = errors.New("provider unavailable")

	triggered, err := s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)
	assert.Equal(t, []string{healthy.ID}, starter.started)
}

func TestScanAndTrigger_MalformedScheduleNeverFires(t *testing.T) {
	now := time.Date(2026, 4, 6, 9, 0, 30, 0, time.UTC)
	s, starter, p := newTestScheduler(t, now)

	scheduledDefinition(t, p, "bad", "not a cron line")

	triggered, err := s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, triggered)
	assert.Empty(t, starter.started)
}

func TestScanAndTrigger_NextSlotFiresAgain(t *testing.T) {
	now := time.Date(2026, 4, 6, 9, 0, 30, 0, time.UTC)
	s, starter, p := newTestScheduler(t, now)

	scheduledDefinition(t, p, "hourly", "0 * * * *")

	triggered, err := s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, triggered)

	// An hour later the next slot is due.
	later := now.Add(time.Hour)
	s.clock = func() time.Time { return later }
	starter.clock = s.clock

	triggered, err = s.ScanAndTrigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)
	assert.Len(t, starter.started, 2)
}
