package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence() *Persistence {
	return NewPersistence(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func draftDefinition(name string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		OrganizationID: "org-1",
		Name:           name,
		Version:        1,
		Status:         models.WorkflowStatusDraft,
		Steps: []*models.StepDefinition{
			{
				ID:        "step-1",
				Order:     1,
				Slug:      "start",
				Type:      models.StepTypeTrigger,
				Config:    map[string]any{"type": "manual"},
				NextSteps: map[string]int{models.OutcomeSuccess: 2},
			},
			{
				ID:     "step-2",
				Order:  2,
				Slug:   "notify",
				Type:   models.StepTypeAction,
				Config: map[string]any{"action": "log"},
			},
		},
	}
}

func TestDefinitionRepository_PublishArchivesPreviousActive(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Definitions()

	v1 := draftDefinition("lead-scoring")
	require.NoError(t, repo.Save(ctx, v1))

	published, err := repo.Publish(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, published.Status)
	require.NotNil(t, published.PublishedAt)

	// Draft v2 from the active version clones the step graph.
	v2, err := repo.CreateDraftFromActive(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, models.WorkflowStatusDraft, v2.Status)
	require.Len(t, v2.Steps, 2)
	assert.NotEqual(t, v1.Steps[0].ID, v2.Steps[0].ID)

	// Publishing v2 archives v1 in the same operation.
	_, err = repo.Publish(ctx, v2.ID)
	require.NoError(t, err)

	former, err := repo.GetByID(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, former.Status)

	active := models.WorkflowStatusActive
	actives, err := repo.List(ctx, persistence.ListDefinitionsOptions{
		OrganizationID: "org-1",
		Name:           "lead-scoring",
		Status:         &active,
	})
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, v2.ID, actives[0].ID)
}

func TestDefinitionRepository_PublishRejectsNonDraft(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Definitions()

	definition := draftDefinition("wf")
	require.NoError(t, repo.Save(ctx, definition))

	_, err := repo.Publish(ctx, definition.ID)
	require.NoError(t, err)

	_, err = repo.Publish(ctx, definition.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsNotDraft(err))

	_, err = repo.Publish(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestDefinitionRepository_EachScheduled(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Definitions()

	scheduled := draftDefinition("scheduled-wf")
	scheduled.Steps[0].Config = map[string]any{"type": "scheduled", "schedule": "every 5 minutes"}
	require.NoError(t, repo.Save(ctx, scheduled))
	_, err := repo.Publish(ctx, scheduled.ID)
	require.NoError(t, err)

	manual := draftDefinition("manual-wf")
	require.NoError(t, repo.Save(ctx, manual))
	_, err = repo.Publish(ctx, manual.ID)
	require.NoError(t, err)

	draft := draftDefinition("draft-wf")
	draft.Steps[0].Config = map[string]any{"type": "scheduled", "schedule": "every 5 minutes"}
	require.NoError(t, repo.Save(ctx, draft))

	var seen []string

	err = repo.EachScheduled(ctx, 10, func(d *models.WorkflowDefinition) error {
		seen = append(seen, d.Name)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"scheduled-wf"}, seen)
}

func TestExecutionRepository_TransitionStatusCAS(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Executions()

	execution := &models.WorkflowExecution{
		OrganizationID: "org-1",
		DefinitionID:   "def-1",
		Status:         models.ExecutionStatusRunning,
		TriggeredBy:    models.TriggeredByManual,
	}
	require.NoError(t, repo.Create(ctx, execution))

	// Normal completion wins.
	ok, err := repo.TransitionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.ExecutionStatusRunning},
		models.ExecutionStatusCompleted, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// The recovery sweep arriving late must not overwrite the terminal state.
	ok, err = repo.TransitionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPending},
		models.ExecutionStatusFailed, map[string]any{"error": "timed out"})
	require.NoError(t, err)
	assert.False(t, ok)

	// Even with the current status in the from set, an illegal edge of
	// the state machine is denied.
	ok, err = repo.TransitionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.ExecutionStatusCompleted},
		models.ExecutionStatusRunning, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	final, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)
	assert.Empty(t, final.Metadata)
}

func TestExecutionRepository_AdvanceStepNeverDecreases(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Executions()

	execution := &models.WorkflowExecution{DefinitionID: "def-1", Status: models.ExecutionStatusRunning}
	require.NoError(t, repo.Create(ctx, execution))

	require.NoError(t, repo.AdvanceStep(ctx, execution.ID, 3, "third"))
	require.NoError(t, repo.AdvanceStep(ctx, execution.ID, 2, "second"))

	current, err := repo.GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.CurrentStepOrder)
	assert.Equal(t, "third", current.CurrentStepSlug)
}

func TestExecutionRepository_ListPagination(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Executions()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 7 {
		execution := &models.WorkflowExecution{
			ID:           fmt.Sprintf("exec-%d", i),
			DefinitionID: "def-1",
			Status:       models.ExecutionStatusCompleted,
			TriggeredBy:  models.TriggeredBySchedule,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, execution))
	}

	page, err := repo.List(ctx, persistence.ListExecutionsOptions{DefinitionID: "def-1", Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Executions, 3)
	assert.False(t, page.IsDone)
	require.NotEmpty(t, page.ContinueCursor)

	// Newest first.
	assert.Equal(t, "exec-6", page.Executions[0].ID)
	assert.Equal(t, "exec-4", page.Executions[2].ID)

	// An insert after the cursor was issued must not shift later pages.
	require.NoError(t, repo.Create(ctx, &models.WorkflowExecution{
		ID:           "exec-new",
		DefinitionID: "def-1",
		Status:       models.ExecutionStatusRunning,
		StartedAt:    base.Add(time.Hour),
	}))

	second, err := repo.List(ctx, persistence.ListExecutionsOptions{
		DefinitionID: "def-1",
		Limit:        3,
		Cursor:       page.ContinueCursor,
	})
	require.NoError(t, err)
	require.Len(t, second.Executions, 3)
	assert.Equal(t, "exec-3", second.Executions[0].ID)
	assert.Equal(t, "exec-1", second.Executions[2].ID)

	third, err := repo.List(ctx, persistence.ListExecutionsOptions{
		DefinitionID: "def-1",
		Limit:        3,
		Cursor:       second.ContinueCursor,
	})
	require.NoError(t, err)
	require.Len(t, third.Executions, 1)
	assert.Equal(t, "exec-0", third.Executions[0].ID)
	assert.True(t, third.IsDone)
}

func TestExecutionRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Executions()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fixtures := []struct {
		id          string
		status      models.ExecutionStatus
		triggeredBy models.TriggerSource
		offset      time.Duration
	}{
		{"exec-a", models.ExecutionStatusCompleted, models.TriggeredBySchedule, 0},
		{"exec-b", models.ExecutionStatusFailed, models.TriggeredBySchedule, time.Minute},
		{"exec-c", models.ExecutionStatusCompleted, models.TriggeredByManual, 2 * time.Minute},
		{"exec-d", models.ExecutionStatusRunning, models.TriggeredBySchedule, 3 * time.Hour},
	}

	for _, f := range fixtures {
		require.NoError(t, repo.Create(ctx, &models.WorkflowExecution{
			ID:           f.id,
			DefinitionID: "def-1",
			Status:       f.status,
			TriggeredBy:  f.triggeredBy,
			StartedAt:    base.Add(f.offset),
		}))
	}

	page, err := repo.List(ctx, persistence.ListExecutionsOptions{
		DefinitionID: "def-1",
		TriggeredBy:  models.TriggeredBySchedule,
		Statuses:     []models.ExecutionStatus{models.ExecutionStatusFailed},
	})
	require.NoError(t, err)
	require.Len(t, page.Executions, 1)
	assert.Equal(t, "exec-b", page.Executions[0].ID)

	to := base.Add(30 * time.Minute)
	page, err = repo.List(ctx, persistence.ListExecutionsOptions{
		DefinitionID: "def-1",
		From:         &base,
		To:           &to,
	})
	require.NoError(t, err)
	assert.Len(t, page.Executions, 3)
}

func TestExecutionRepository_ListStale(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.Executions()

	stuck := &models.WorkflowExecution{ID: "stuck", DefinitionID: "def-1", Status: models.ExecutionStatusRunning}
	require.NoError(t, repo.Create(ctx, stuck))

	fresh := &models.WorkflowExecution{ID: "fresh", DefinitionID: "def-1", Status: models.ExecutionStatusRunning}
	require.NoError(t, repo.Create(ctx, fresh))

	p.SetUpdatedAt("stuck", time.Now().UTC().Add(-31*time.Minute))

	stale, err := repo.ListStale(ctx, models.ExecutionStatusRunning, time.Now().UTC().Add(-30*time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stuck", stale[0].ID)
}

func TestProcessingRecords_ClaimExclusivity(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.ProcessingRecords()

	record := &models.ProcessingRecord{
		OrganizationID: "org-1",
		TableName:      "schedule_slots",
		RecordID:       "def-1@2026-03-02T09:00:00Z",
		DefinitionID:   "def-1",
	}

	cutoff := time.Now().UTC().Add(-time.Hour)

	const workers = 8

	var wg sync.WaitGroup

	claims := make([]string, workers)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claimed := *record

			id, ok, err := repo.CheckAndClaim(ctx, &claimed, cutoff)
			assert.NoError(t, err)

			if ok {
				claims[i] = id
			}
		}()
	}

	wg.Wait()

	granted := 0

	for _, id := range claims {
		if id != "" {
			granted++
		}
	}

	assert.Equal(t, 1, granted, "exactly one concurrent claim must win")
}

func TestProcessingRecords_ReclaimAfterCutoff(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence()
	repo := p.ProcessingRecords()

	record := &models.ProcessingRecord{
		TableName:    "contacts",
		RecordID:     "rec-9",
		DefinitionID: "def-1",
	}

	id, ok, err := repo.CheckAndClaim(ctx, record, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	// Within the window the claim is denied.
	_, ok, err = repo.CheckAndClaim(ctx, record, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// A cutoff in the future makes the previous attempt stale; reclaim
	// reuses the same record.
	reclaimed, ok, err := repo.CheckAndClaim(ctx, record, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, reclaimed)

	require.NoError(t, repo.MarkProcessed(ctx, id, map[string]any{"execution_id": "exec-1"}))

	stored, err := repo.GetByKey(ctx, "contacts", "rec-9", "def-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingStatusCompleted, stored.Status)
	assert.Equal(t, "exec-1", stored.Metadata["execution_id"])
}
