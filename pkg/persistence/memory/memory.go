// Package memory provides an in-process persistence implementation backed by
// maps and a single lock. It honors the same contracts as the PostgreSQL
// implementation, including atomic conditional writes, and is used for local
// development and tests.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
	"github.com/nexocrm/flowd/pkg/persistence"
)

type Persistence struct {
	mu          sync.Mutex
	logger      *slog.Logger
	definitions map[string]*models.WorkflowDefinition
	executions  map[string]*models.WorkflowExecution
	records     map[recordKey]*models.ProcessingRecord
	recordsByID map[string]*models.ProcessingRecord
}

type recordKey struct {
	tableName    string
	recordID     string
	definitionID string
}

// NewPersistence creates an empty in-memory store.
func NewPersistence(logger *slog.Logger) *Persistence {
	return &Persistence{
		logger:      logger,
		definitions: make(map[string]*models.WorkflowDefinition),
		executions:  make(map[string]*models.WorkflowExecution),
		records:     make(map[recordKey]*models.ProcessingRecord),
		recordsByID: make(map[string]*models.ProcessingRecord),
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return &definitionRepository{p: p}
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return &executionRepository{p: p}
}

func (p *Persistence) ProcessingRecords() persistence.ProcessingRecordRepository {
	return &processingRecordRepository{p: p}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

// SetUpdatedAt backdates an execution's heartbeat. Tests of staleness
// sweeps use it in place of waiting out the threshold.
func (p *Persistence) SetUpdatedAt(executionID string, updatedAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if execution, ok := p.executions[executionID]; ok {
		execution.UpdatedAt = updatedAt
	}
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func cloneDefinition(d *models.WorkflowDefinition) *models.WorkflowDefinition {
	clone := *d
	clone.Steps = make([]*models.StepDefinition, len(d.Steps))

	for i, step := range d.Steps {
		stepClone := *step
		stepClone.Config = copyMap(step.Config)

		if step.NextSteps != nil {
			stepClone.NextSteps = make(map[string]int, len(step.NextSteps))
			for k, v := range step.NextSteps {
				stepClone.NextSteps[k] = v
			}
		}

		clone.Steps[i] = &stepClone
	}

	return &clone
}

func cloneExecution(e *models.WorkflowExecution) *models.WorkflowExecution {
	clone := *e
	clone.TriggerData = copyMap(e.TriggerData)
	clone.Input = copyMap(e.Input)
	clone.Metadata = copyMap(e.Metadata)

	return &clone
}

func cloneRecord(r *models.ProcessingRecord) *models.ProcessingRecord {
	clone := *r
	clone.Metadata = copyMap(r.Metadata)

	return &clone
}
