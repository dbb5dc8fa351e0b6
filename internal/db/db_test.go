package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, journal string) (*sql.DB, string) {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.sqlite"), JournalMode: journal}
	cfg.ApplyDefaults()

	database, err := NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return database, cfg.Path
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Path: "/data/index.sqlite", EnableForeignKeys: true}
	cfg.ApplyDefaults()

	dsn := DSN(cfg)
	require.True(t, strings.HasPrefix(dsn, "file:/data/index.sqlite?"))
	for _, param := range []string{
		"_txlock=immediate", "_journal_mode=WAL", "_synchronous=NORMAL",
		"_busy_timeout=5000", "_cache_size=10000", "_foreign_keys=true",
	} {
		require.Contains(t, dsn, param)
	}
}

func TestNewSQLiteDBFromConfig_PragmasOnEveryConnection(t *testing.T) {
	database, _ := openTestDB(t, "WAL")
	ctx := context.Background()

	// Hold one connection so the second query is served by another
	held, err := database.Conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	for _, q := range []interface {
		QueryRowContext(context.Context, string, ...any) *sql.Row
	}{held, database} {
		var mode string
		require.NoError(t, q.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		require.Equal(t, "wal", mode)

		var sync int
		require.NoError(t, q.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&sync))
		require.Equal(t, 1, sync) // NORMAL
	}
}

func TestNewSQLiteDBFromConfig_Unreachable(t *testing.T) {
	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "missing", "dir", "db.sqlite")}
	cfg.ApplyDefaults()

	_, err := NewSQLiteDBFromConfig(cfg)
	require.Error(t, err)
}

func TestHashMeddler(t *testing.T) {
	database, _ := openTestDB(t, "WAL")

	_, err := database.Exec(`CREATE TABLE hashes (id INTEGER PRIMARY KEY, hash TEXT)`)
	require.NoError(t, err)

	type row struct {
		ID   int         `meddler:"id,pk"`
		Hash common.Hash `meddler:"hash,hash"`
	}

	want := &row{Hash: common.HexToHash("0xabc")}
	require.NoError(t, meddler.Insert(database, "hashes", want))

	got := &row{}
	require.NoError(t, meddler.Load(database, "hashes", got, int64(want.ID)))
	require.Equal(t, want.Hash, got.Hash)

	_, err = database.Exec(`INSERT INTO hashes (id, hash) VALUES (7, NULL)`)
	require.NoError(t, err)
	require.NoError(t, meddler.Load(database, "hashes", got, 7))
	require.Equal(t, common.Hash{}, got.Hash)
}

func TestDBTotalSize(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.db")

	size, err := DBTotalSize(main)
	require.NoError(t, err)
	require.Zero(t, size)

	require.NoError(t, os.WriteFile(main, []byte("main-db"), 0600))
	require.NoError(t, os.WriteFile(main+"-wal", []byte("wal-content"), 0600))

	size, err = DBTotalSize(main)
	require.NoError(t, err)
	require.Equal(t, int64(len("main-db")+len("wal-content")), size)
}
