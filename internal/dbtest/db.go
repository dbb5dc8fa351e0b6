// Package dbtest opens migrated SQLite databases for tests.
package dbtest

import (
	"database/sql"
	"path"
	"testing"

	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/migrations"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/stretchr/testify/require"
)

// NewTestDB creates a new temporary SQLite database with every migration applied.
func NewTestDB(t *testing.T, dbName string) *sql.DB {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: path.Join(t.TempDir(), dbName)}
	dbConfig.ApplyDefaults()

	require.NoError(t, migrations.RunMigrations(dbConfig.Path))

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	t.Cleanup(func() { database.Close() })

	return database
}
