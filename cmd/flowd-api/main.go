package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/nexocrm/flowd/pkg/cmd"
	"github.com/nexocrm/flowd/pkg/log"
	"github.com/nexocrm/flowd/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 8081

func main() {
	command := &cli.Command{
		Name:                  "flowd-api",
		Usage:                 "Create and manage workflow definitions and executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := fmt.Sprintf("api-%s", uuid.New().String()[:8])
			logger := log.WithModule("api").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing flowd API")

			_, err := otelhelper.NewTracer(ctx, "flowd-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			persistence := cmd.NewPersistence(command.String("database-url"), logger)
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "flowd-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger)

			api := NewAPI(logger, persistence, registry, eventBus, workerID)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
