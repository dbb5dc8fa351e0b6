// Package db opens the SQLite database shared by the entity store, the proof-of-index ledger,
// the dynamic datasource registry and the reorg detector, and keeps it healthy.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goran-ethernal/ChainMapper/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// DSN builds the go-sqlite3 connection string for cfg. Pragmas are passed as DSN parameters so
// every pooled connection gets them, not only the first one.
func DSN(cfg config.DatabaseConfig) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_journal_mode", cfg.JournalMode)
	params.Set("_synchronous", cfg.Synchronous)
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout))
	params.Set("_cache_size", strconv.Itoa(cfg.CacheSize))
	params.Set("_foreign_keys", strconv.FormatBool(cfg.EnableForeignKeys))

	return "file:" + cfg.Path + "?" + params.Encode()
}

// NewSQLiteDB opens path with the default database settings.
func NewSQLiteDB(path string) (*sql.DB, error) {
	cfg := config.DatabaseConfig{Path: path}
	cfg.ApplyDefaults()
	return NewSQLiteDBFromConfig(cfg)
}

// NewSQLiteDBFromConfig opens the database described by cfg and checks it is reachable.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	database, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConnections)
	database.SetMaxIdleConns(cfg.MaxIdleConnections)

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Path, err)
	}

	return database, nil
}
