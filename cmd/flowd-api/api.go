// Package main provides the flowd API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/nexocrm/flowd/pkg/engine"
	"github.com/nexocrm/flowd/pkg/eventbus"
	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/registry"
	"github.com/nexocrm/flowd/pkg/services"
	"github.com/nexocrm/flowd/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	workerID    string
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	workerID string,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		workerID:    workerID,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	executionEngine := engine.NewEngine(a.persistence, a.registry, a.eventBus, a.logger, a.workerID)
	definitionService := services.NewDefinition(a.persistence, a.eventBus)
	executionService := services.NewExecution(a.persistence, executionEngine)

	handlers := web.NewAPIHandlers(definitionService, executionService, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowd API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/:id/versions", handlers.CreateWorkflowVersion)
	w.Post("/:id/archive", handlers.ArchiveWorkflow)
	w.Get("/:id/executions", handlers.ListExecutions)

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
