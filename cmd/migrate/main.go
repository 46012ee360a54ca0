// Package main applies or rolls back the dead-letter schema.
// Usage: integrations-migrate [--down --yes]
//
// The worker runs the up migration itself on startup; this command is for
// preparing a database ahead of a deploy and for tearing the schema down.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"event-integrations/internal/infra/db"
	"event-integrations/internal/observability/logging"
)

// errNotConfirmed is returned when --down is given without --yes.
var errNotConfirmed = errors.New("refusing to drop the dead-letter schema without --yes")

func main() {
	var down, yes bool
	flag.BoolVar(&down, "down", false, "Drop the dead-letter schema instead of creating it")
	flag.BoolVar(&yes, "yes", false, "Confirm --down; every stored dead letter is deleted")
	flag.Parse()

	logger := logging.NewLogger()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "Error: DATABASE_URL is required")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Usage: integrations-migrate [--down --yes]")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	database, err := db.Open(ctx, dsn)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	if err := migrate(logger, database, down, yes); err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func migrate(logger *slog.Logger, database *sql.DB, down, confirmed bool) error {
	if !down {
		if err := db.MigrateUp(database); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		logger.Info("dead-letter schema is up to date")
		return nil
	}

	if !confirmed {
		return errNotConfirmed
	}
	if err := db.MigrateDown(database); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	logger.Warn("dead-letter schema dropped")
	return nil
}
