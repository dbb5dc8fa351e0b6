package db

import (
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/ChainMapper/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

// NoLimitMigrations applies every pending migration.
const NoLimitMigrations = 0

// RunMigrations opens dbPath and applies every pending migration of source.
func RunMigrations(dbPath string, source migrate.MigrationSource) error {
	database, err := NewSQLiteDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	return RunMigrationsDB(logger.GetDefaultLogger(), database, source)
}

// RunMigrationsDB applies every pending migration of source on an open database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB, source migrate.MigrationSource) error {
	return RunMigrationsDBExtended(log, database, source, migrate.Up, NoLimitMigrations)
}

// RunMigrationsDBExtended applies at most maxMigrations migrations of source in direction dir.
// Migrations are SQL files annotated with "-- +migrate Up" and "-- +migrate Down".
func RunMigrationsDBExtended(
	log *logger.Logger,
	database *sql.DB,
	source migrate.MigrationSource,
	dir migrate.MigrationDirection,
	maxMigrations int,
) error {
	migrations, err := source.FindMigrations()
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	n, err := migrate.ExecMax(database, driverName, source, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("failed to execute migrations (%d known, direction %d): %w", len(migrations), dir, err)
	}

	log.Infow("migrations applied", "applied", n, "known", len(migrations), "direction", direction(dir))
	return nil
}

func direction(dir migrate.MigrationDirection) string {
	if dir == migrate.Down {
		return "down"
	}
	return "up"
}
