// Package scheduler fires scheduled workflows on their cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexocrm/flowd/pkg/ledger"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/schedule"
)

const (
	// ScheduleSlotsTable is the ledger table holding schedule fire claims.
	ScheduleSlotsTable = "schedule_slots"

	defaultInterval  = time.Minute
	defaultBatchSize = 100
)

// WorkflowStarter starts an execution for a definition. The engine
// satisfies this.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, definitionID string, triggeredBy models.TriggerSource, input map[string]any, triggerData map[string]any) (*models.WorkflowExecution, error)
}

// Scheduler periodically scans active scheduled definitions and starts an
// execution for each one that is due. Every fire claims its schedule slot
// through the ledger first, so overlapping scheduler instances start at
// most one execution per slot.
type Scheduler struct {
	persistence persistence.Persistence
	ledger      ledger.Ledger
	starter     WorkflowStarter
	logger      *slog.Logger

	interval  time.Duration
	batchSize int
	clock     func() time.Time
}

type Option func(*Scheduler)

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.interval = interval }
}

func WithBatchSize(batchSize int) Option {
	return func(s *Scheduler) { s.batchSize = batchSize }
}

func NewScheduler(
	p persistence.Persistence,
	l ledger.Ledger,
	starter WorkflowStarter,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		persistence: p,
		ledger:      l,
		starter:     starter,
		logger:      logger.With("module", "scheduler"),
		interval:    defaultInterval,
		batchSize:   defaultBatchSize,
		clock:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run loops ScanAndTrigger until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
			triggered, err := s.ScanAndTrigger(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "scheduler sweep failed", "error", err)

				continue
			}

			if triggered > 0 {
				s.logger.InfoContext(ctx, "scheduler sweep finished", "triggered", triggered)
			}
		}
	}
}

// ScanAndTrigger makes one pass over all scheduled definitions and starts
// the due ones. A failure on one definition never blocks the rest.
func (s *Scheduler) ScanAndTrigger(ctx context.Context) (int, error) {
	now := s.clock()
	triggered := 0

	err := s.persistence.Definitions().EachScheduled(ctx, s.batchSize, func(definition *models.WorkflowDefinition) error {
		started, err := s.maybeTrigger(ctx, definition, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to trigger scheduled workflow",
				"wf_definition_id", definition.ID,
				"workflow_name", definition.Name,
				"error", err)

			return nil
		}

		if started {
			triggered++
		}

		return nil
	})
	if err != nil {
		return triggered, fmt.Errorf("failed to scan scheduled definitions: %w", err)
	}

	return triggered, nil
}

func (s *Scheduler) maybeTrigger(ctx context.Context, definition *models.WorkflowDefinition, now time.Time) (bool, error) {
	trigger := definition.TriggerStep()

	last, err := s.persistence.Executions().LatestStart(ctx, definition.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read latest start: %w", err)
	}

	fireAt, due := schedule.DueFireAt(trigger.Schedule(), trigger.Timezone(), last, now)
	if !due {
		return false, nil
	}

	// The slot claim is what makes the fire exactly-once across scheduler
	// instances and across the gap between claim and execution create.
	record := &models.ProcessingRecord{
		OrganizationID: definition.OrganizationID,
		TableName:      ScheduleSlotsTable,
		RecordID:       fmt.Sprintf("%s@%s", definition.ID, fireAt.UTC().Format(time.RFC3339)),
		DefinitionID:   definition.ID,
	}

	claimID, ok, err := s.ledger.Claim(ctx, record, fireAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim schedule slot: %w", err)
	}

	if !ok {
		return false, nil
	}

	execution, err := s.starter.StartWorkflow(ctx, definition.ID, models.TriggeredBySchedule, nil, map[string]any{
		"trigger_type": string(models.TriggeredBySchedule),
		"fired_at":     fireAt.UTC().Format(time.RFC3339),
		"schedule":     trigger.Schedule(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to start workflow: %w", err)
	}

	err = s.ledger.MarkProcessed(ctx, claimID, map[string]any{
		"execution_id": execution.ID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to mark schedule slot processed",
			"wf_definition_id", definition.ID,
			"claim_id", claimID,
			"error", err)
	}

	s.logger.InfoContext(ctx, "scheduled workflow triggered",
		"wf_definition_id", definition.ID,
		"workflow_name", definition.Name,
		"execution_id", execution.ID,
		"fired_at", fireAt.UTC())

	return true, nil
}
