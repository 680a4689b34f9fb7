// Package postgres provides the PostgreSQL persistence implementation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	definitions *definitionRepository
	executions  *executionRepository
	records     *processingRecordRepository
}

// NewPersistence opens the database, runs migrations, and returns the
// store.
func NewPersistence(databaseURL string, logger *slog.Logger) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	ctx := context.Background()

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger,
	}
	p.definitions = &definitionRepository{db: database, logger: logger}
	p.executions = &executionRepository{db: database, logger: logger}
	p.records = &processingRecordRepository{db: database, logger: logger}

	return p, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitions
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) ProcessingRecords() persistence.ProcessingRecordRepository {
	return p.records
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
