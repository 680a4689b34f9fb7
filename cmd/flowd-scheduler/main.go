// Package main provides the flowd scheduler service, which fires scheduled
// workflows on their cron expressions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/cmd"
	"github.com/nexocrm/flowd/pkg/engine"
	"github.com/nexocrm/flowd/pkg/ledger"
	"github.com/nexocrm/flowd/pkg/log"
	"github.com/nexocrm/flowd/pkg/otelhelper"
	"github.com/nexocrm/flowd/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowd-scheduler",
		Usage:                 "Start the flowd scheduler service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "ledger-url",
				Usage:   "Idempotency ledger URL (store://, redis://)",
				Value:   "",
				Sources: cli.EnvVars("LEDGER_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "How often to scan for due schedules",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULER_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Definitions fetched per scan page",
				Value:   100,
				Sources: cli.EnvVars("SCHEDULER_BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			schedulerID := command.String("scheduler-id")
			if schedulerID == "" {
				schedulerID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("scheduler").With("scheduler_id", schedulerID)

			logger.InfoContext(ctx, "Initializing flowd scheduler")

			_, err := otelhelper.NewTracer(ctx, "flowd-scheduler")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			persistence := cmd.NewPersistence(command.String("database-url"), logger)
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			scheduleLedger, err := ledger.New(command.String("ledger-url"), persistence)
			if err != nil {
				return fmt.Errorf("failed to create ledger: %w", err)
			}
			defer func() {
				if err := scheduleLedger.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close ledger", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowd-scheduler", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger)
			starter := engine.NewEngine(persistence, registry, eventBus, logger, schedulerID)

			s := scheduler.NewScheduler(persistence, scheduleLedger, starter, logger,
				scheduler.WithInterval(command.Duration("interval")),
				scheduler.WithBatchSize(command.Int("batch-size")),
			)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = s.Run(runCtx)

			// Let in-flight executions settle before shutting down.
			starter.Wait()

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
