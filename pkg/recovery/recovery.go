// Package recovery fails workflow executions abandoned by a dead worker.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexocrm/flowd/pkg/eventbus"
	"github.com/nexocrm/flowd/pkg/events"
	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

const (
	// DefaultMaxRunningDuration is how long an execution may go without a
	// heartbeat before the sweep considers it stuck.
	DefaultMaxRunningDuration = 30 * time.Minute

	// DefaultBatchSize bounds one sweep pass.
	DefaultBatchSize = 50

	defaultInterval = 5 * time.Minute
)

// Recoverer fails stale running and pending executions. Transitions go
// through the same compare-and-set as normal completion, so a worker
// finishing late loses cleanly to the sweep and vice versa. Executions are
// never deleted and never restarted.
type Recoverer struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	workerID    string

	maxRunningDuration time.Duration
	batchSize          int
	interval           time.Duration
	clock              func() time.Time
}

type Option func(*Recoverer)

func WithMaxRunningDuration(d time.Duration) Option {
	return func(r *Recoverer) { r.maxRunningDuration = d }
}

func WithBatchSize(batchSize int) Option {
	return func(r *Recoverer) { r.batchSize = batchSize }
}

func WithInterval(interval time.Duration) Option {
	return func(r *Recoverer) { r.interval = interval }
}

func NewRecoverer(p persistence.Persistence, eventBus eventbus.EventPublisher, logger *slog.Logger, workerID string, opts ...Option) *Recoverer {
	r := &Recoverer{
		persistence:        p,
		eventBus:           eventBus,
		logger:             logger.With("module", "recovery", "worker_id", workerID),
		workerID:           workerID,
		maxRunningDuration: DefaultMaxRunningDuration,
		batchSize:          DefaultBatchSize,
		interval:           defaultInterval,
		clock:              func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run loops RecoverStuckExecutions until the context is cancelled.
func (r *Recoverer) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "recovery sweep started",
		"max_running_duration", r.maxRunningDuration,
		"interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "recovery sweep stopped")

			return ctx.Err()
		case <-ticker.C:
			recovered, err := r.RecoverStuckExecutions(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "recovery sweep failed", "error", err)

				continue
			}

			if recovered > 0 {
				r.logger.WarnContext(ctx, "recovered stuck executions", "count", recovered)
			}
		}
	}
}

// RecoverStuckExecutions makes one pass over stale running and pending
// executions and fails them. Returns the number of executions recovered.
func (r *Recoverer) RecoverStuckExecutions(ctx context.Context) (int, error) {
	cutoff := r.clock().Add(-r.maxRunningDuration)
	recovered := 0

	for _, status := range []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPending} {
		stale, err := r.persistence.Executions().ListStale(ctx, status, cutoff, r.batchSize)
		if err != nil {
			return recovered, fmt.Errorf("failed to list stale %s executions: %w", status, err)
		}

		for _, execution := range stale {
			ok, err := r.failStuck(ctx, execution, status)
			if err != nil {
				r.logger.ErrorContext(ctx, "failed to recover execution",
					"execution_id", execution.ID, "error", err)

				continue
			}

			if ok {
				recovered++
			}
		}
	}

	return recovered, nil
}

func (r *Recoverer) failStuck(ctx context.Context, execution *models.WorkflowExecution, previousStatus models.ExecutionStatus) (bool, error) {
	metadata := map[string]any{
		"error":           fmt.Sprintf("execution stuck in %s for more than %s", previousStatus, r.maxRunningDuration),
		"recovered_at":    r.clock().Format(time.RFC3339),
		"previous_status": string(previousStatus),
	}

	ok, err := r.persistence.Executions().TransitionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{previousStatus},
		models.ExecutionStatusFailed, metadata)
	if err != nil {
		return false, err
	}

	if !ok {
		// The worker finished or a cancel landed between the scan and the
		// guard. Nothing to recover.
		return false, nil
	}

	r.logger.WarnContext(ctx, "execution recovered",
		"execution_id", execution.ID,
		"wf_definition_id", execution.DefinitionID,
		"previous_status", previousStatus,
		"stale_since", execution.UpdatedAt)

	if r.eventBus != nil {
		err = r.eventBus.Publish(ctx, execution.ID, events.ExecutionRecovered{
			BaseEvent: events.BaseEvent{
				Type:         events.ExecutionRecoveredEvent,
				Timestamp:    r.clock(),
				DefinitionID: execution.DefinitionID,
				WorkerID:     r.workerID,
			},
			ExecutionID:    execution.ID,
			PreviousStatus: previousStatus,
			NewStatus:      models.ExecutionStatusFailed,
		})
		if err != nil {
			r.logger.WarnContext(ctx, "failed to publish recovery event",
				"execution_id", execution.ID, "error", err)
		}
	}

	return true, nil
}
