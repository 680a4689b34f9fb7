package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nexocrm/flowd/pkg/persistence"
	"github.com/nexocrm/flowd/pkg/persistence/memory"
	"github.com/nexocrm/flowd/pkg/persistence/postgres"
)

// NewPersistence picks a store from the database URL scheme. Anything that
// is not postgres falls back to the in-memory store.
func NewPersistence(databaseURL string, logger *slog.Logger) persistence.Persistence {
	provider, _, _ := strings.Cut(databaseURL, "://")

	switch provider {
	case "postgres", "postgresql":
		p, err := postgres.NewPersistence(databaseURL, logger)
		if err != nil {
			panic(fmt.Errorf("failed to create postgres persistence: %w", err))
		}

		return p
	default:
		return memory.NewPersistence(logger)
	}
}
