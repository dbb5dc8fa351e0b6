package poi

import (
	"context"
	"database/sql"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainMapper/internal/dbtest"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) (*Ledger, *sql.DB) {
	t.Helper()

	database := dbtest.NewTestDB(t, "poi.sqlite")
	return NewLedger(database, logger.NewNopLogger()), database
}

func appendInTx(t *testing.T, l *Ledger, database *sql.DB, height uint64, digest common.Hash) *Record {
	t.Helper()

	tx, err := database.Begin()
	require.NoError(t, err)

	rec, err := l.AppendTx(tx, height, digest)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return rec
}

func TestLedger_AppendMatchesInMemoryMMR(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	m := NewMMR()
	for h := uint64(10); h < 30; h++ {
		rec := appendInTx(t, l, database, h, leaf(int(h)))
		require.NoError(t, m.Push(leaf(int(h))))

		require.Equal(t, h-10, rec.LeafIndex)
		require.Equal(t, m.Root(), rec.Root)
		require.Equal(t, m.Size(), rec.MMRSize)
	}

	root, err := l.RootAt(ctx, 29)
	require.NoError(t, err)
	require.Equal(t, m.Root(), root)

	_, err = l.RootAt(ctx, 9)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLedger_SequenceViolation(t *testing.T) {
	l, database := setupTestLedger(t)

	appendInTx(t, l, database, 1, leaf(1))

	for _, height := range []uint64{1, 3, 0} {
		tx, err := database.Begin()
		require.NoError(t, err)

		_, err = l.AppendTx(tx, height, leaf(2))
		require.ErrorIs(t, err, ErrSequenceViolation)
		require.NoError(t, tx.Rollback())
	}
}

func TestLedger_RollbackLeavesLedgerUnchanged(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	appendInTx(t, l, database, 1, leaf(1))

	tx, err := database.Begin()
	require.NoError(t, err)
	_, err = l.AppendTx(tx, 2, leaf(2))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	last, err := l.Last(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), last.Height)

	// the next append still expects height 2
	rec := appendInTx(t, l, database, 2, leaf(2))
	require.Equal(t, merge(leaf(1), leaf(2)), rec.Root)
}

func TestLedger_AppendThroughFillsZeroDigests(t *testing.T) {
	l, database := setupTestLedger(t)

	appendInTx(t, l, database, 1, common.Hash{})

	tx, err := database.Begin()
	require.NoError(t, err)
	rec, err := l.AppendThroughTx(tx, 5, leaf(5))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	dense := NewMMR()
	for h := 1; h <= 4; h++ {
		require.NoError(t, dense.Push(common.Hash{}))
	}
	require.NoError(t, dense.Push(leaf(5)))

	require.Equal(t, uint64(4), rec.LeafIndex)
	require.Equal(t, dense.Root(), rec.Root)
}

func TestLedger_TruncateAndReappend(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	roots := make(map[uint64]common.Hash)
	for h := uint64(1); h <= 20; h++ {
		roots[h] = appendInTx(t, l, database, h, leaf(int(h))).Root
	}

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, l.TruncateTx(tx, 12))
	require.NoError(t, tx.Commit())

	last, err := l.Last(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), last.Height)
	require.Equal(t, roots[11], last.Root)

	var nodes uint64
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM mmr_nodes").Scan(&nodes))
	require.Equal(t, MMRSize(11), nodes)

	for h := uint64(12); h <= 20; h++ {
		require.Equal(t, roots[h], appendInTx(t, l, database, h, leaf(int(h))).Root)
	}
}

func TestLedger_TruncateEverything(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	appendInTx(t, l, database, 5, leaf(5))
	appendInTx(t, l, database, 6, leaf(6))

	tx, err := database.Begin()
	require.NoError(t, err)
	require.NoError(t, l.TruncateTx(tx, 5))
	require.NoError(t, tx.Commit())

	last, err := l.Last(ctx)
	require.NoError(t, err)
	require.Nil(t, last)

	// a new base can be chosen after a full truncation
	rec := appendInTx(t, l, database, 3, leaf(3))
	require.Equal(t, uint64(0), rec.LeafIndex)
}

func TestLedger_ProofAndVerify(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	for h := uint64(1); h <= 13; h++ {
		appendInTx(t, l, database, h, leaf(int(h)))
	}

	for h := uint64(1); h <= 13; h++ {
		inc, err := l.ProofAt(ctx, h)
		require.NoError(t, err)
		require.Equal(t, uint64(13), inc.Tip.Height)
		require.True(t, VerifyProof(inc.Tip.Root, leaf(int(h)), inc.Proof))

		ok, err := l.Verify(ctx, h, leaf(int(h)), inc.Proof)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = l.Verify(ctx, h, leaf(99), inc.Proof)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestLedger_Rebuild(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	for h := uint64(1); h <= 8; h++ {
		appendInTx(t, l, database, h, leaf(int(h)))
	}

	_, ok, err := l.Rebuild(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = database.Exec("UPDATE poi_records SET digest = ? WHERE height = 6", leaf(100).Hex())
	require.NoError(t, err)

	height, ok, err := l.Rebuild(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(6), height)
}

func TestLedger_Pruner(t *testing.T) {
	l, database := setupTestLedger(t)
	ctx := context.Background()

	appendInTx(t, l, database, 1, leaf(1))
	_, err := database.Exec("INSERT INTO mmr_nodes (pos, hash) VALUES (?, ?)", 40, leaf(40).Hex())
	require.NoError(t, err)

	pruner := l.Pruner()
	require.Equal(t, "mmr_nodes", pruner.Name())

	n, err := pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestDigest(t *testing.T) {
	hash := common.HexToHash("0x01")
	require.Equal(t, Digest(1, hash, []byte("[]")), Digest(1, hash, []byte("[]")))
	require.NotEqual(t, Digest(1, hash, []byte("[]")), Digest(2, hash, []byte("[]")))
	require.NotEqual(t, Digest(1, hash, []byte("[]")), Digest(1, hash, []byte("[{}]")))
}
