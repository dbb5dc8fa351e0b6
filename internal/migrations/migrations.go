// Package migrations holds the SQLite schema shared by every durable component.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed *.sql
var files embed.FS

// Source returns the schema migrations, applied in file name order.
func Source() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{FileSystem: files, Root: "."}
}

// RunMigrations opens the database at dbPath and applies pending migrations.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, Source())
}

// RunMigrationsDB applies pending migrations on an already opened database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, Source())
}
