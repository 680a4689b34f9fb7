// Package main provides the flowd reaper service, which detects executions
// stuck in the running state and fails them so they can be retried.
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
	"github.com/nexocrm/flowd/pkg/log"
	"github.com/nexocrm/flowd/pkg/otelhelper"
	"github.com/nexocrm/flowd/pkg/recovery"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowd-reaper",
		Usage:                 "Start the flowd stuck execution reaper",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "reaper-id",
				Aliases: []string{"id"},
				Usage:   "Custom reaper ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("REAPER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.DurationFlag{
				Name:    "max-running-duration",
				Usage:   "How long an execution may stay running before it is considered stuck",
				Value:   30 * time.Minute,
				Sources: cli.EnvVars("REAPER_MAX_RUNNING_DURATION"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "How often to sweep for stuck executions",
				Value:   time.Minute,
				Sources: cli.EnvVars("REAPER_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Executions recovered per sweep",
				Value:   100,
				Sources: cli.EnvVars("REAPER_BATCH_SIZE"),
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

			reaperID := command.String("reaper-id")
			if reaperID == "" {
				reaperID = fmt.Sprintf("reaper-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("reaper").With("reaper_id", reaperID)

			logger.InfoContext(ctx, "Initializing flowd reaper")

			_, err := otelhelper.NewTracer(ctx, "flowd-reaper")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			persistence := cmd.NewPersistence(command.String("database-url"), logger)
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowd-reaper", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			r := recovery.NewRecoverer(persistence, eventBus, logger, reaperID,
				recovery.WithMaxRunningDuration(command.Duration("max-running-duration")),
				recovery.WithInterval(command.Duration("interval")),
				recovery.WithBatchSize(command.Int("batch-size")),
			)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return r.Run(runCtx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
