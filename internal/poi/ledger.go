package poi

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	internalcommon "github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/russross/meddler"
)

var (
	// ErrSequenceViolation is returned when an append does not extend the last appended height by one.
	ErrSequenceViolation = errors.New("proof-of-index sequence violation")

	// ErrRecordNotFound is returned when no record exists for the requested height.
	ErrRecordNotFound = errors.New("proof-of-index record not found")
)

// Record is the persisted proof-of-index entry of one height.
type Record struct {
	Height    uint64      `meddler:"height" json:"height"`
	LeafIndex uint64      `meddler:"leaf_index" json:"leafIndex"`
	Digest    common.Hash `meddler:"digest,hash" json:"digest"`
	Root      common.Hash `meddler:"mmr_root,hash" json:"root"`
	MMRSize   uint64      `meddler:"mmr_size" json:"mmrSize"`
}

type nodeRow struct {
	Pos  uint64      `meddler:"pos"`
	Hash common.Hash `meddler:"hash,hash"`
}

// sqlNodes is a NodeStore over the mmr_nodes table.
type sqlNodes struct {
	q meddler.DB
}

func (s sqlNodes) Node(pos uint64) (common.Hash, error) {
	var row nodeRow
	err := meddler.QueryRow(s.q, &row, "SELECT * FROM mmr_nodes WHERE pos = ?", pos)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, fmt.Errorf("position %d: %w", pos, ErrNodeNotFound)
	}
	if err != nil {
		return common.Hash{}, err
	}
	return row.Hash, nil
}

func (s sqlNodes) PutNode(pos uint64, h common.Hash) error {
	return meddler.Insert(s.q, "mmr_nodes", &nodeRow{Pos: pos, Hash: h})
}

// Digest computes the proof-of-index digest of a block from its canonical mutation encoding.
func Digest(height uint64, blockHash common.Hash, canonicalMutations []byte) common.Hash {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return crypto.Keccak256Hash(h[:], blockHash.Bytes(), crypto.Keccak256(canonicalMutations))
}

// Ledger is the append-only proof-of-index record sequence backed by an MMR in SQLite.
// It keeps no state of its own: every write reads the tail inside the caller's transaction, so a
// rolled back transaction leaves the ledger exactly as it was.
type Ledger struct {
	db  *sql.DB
	log *logger.Logger
}

// NewLedger creates a ledger over a migrated database.
func NewLedger(database *sql.DB, log *logger.Logger) *Ledger {
	return &Ledger{
		db:  database,
		log: log.WithComponent(internalcommon.ComponentPOI),
	}
}

func lastRecord(q meddler.DB) (*Record, error) {
	var rec Record
	err := meddler.QueryRow(q, &rec, "SELECT * FROM poi_records ORDER BY height DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last poi record: %w", err)
	}
	return &rec, nil
}

// AppendTx appends the digest of height. The first append fixes the base height; every later
// append must be exactly one above the previous one.
func (l *Ledger) AppendTx(tx *sql.Tx, height uint64, digest common.Hash) (*Record, error) {
	last, err := lastRecord(tx)
	if err != nil {
		return nil, err
	}

	var leafIndex, size uint64
	if last != nil {
		if height != last.Height+1 {
			return nil, fmt.Errorf("%w: expected height %d, got %d", ErrSequenceViolation, last.Height+1, height)
		}
		leafIndex = last.LeafIndex + 1
		size = last.MMRSize
	}

	nodes := sqlNodes{q: tx}
	size, err = Append(nodes, size, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to append leaf %d: %w", leafIndex, err)
	}

	root, err := Root(nodes, size)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		Height:    height,
		LeafIndex: leafIndex,
		Digest:    digest,
		Root:      root,
		MMRSize:   size,
	}
	if err := meddler.Insert(tx, "poi_records", rec); err != nil {
		return nil, fmt.Errorf("failed to insert poi record %d: %w", height, err)
	}

	appendsInc()
	leavesSet(leafIndex + 1)

	return rec, nil
}

// AppendThroughTx appends zero digests for every height between the last record and height, then
// the digest of height itself. Heights the pipeline never executed contribute the zero digest.
func (l *Ledger) AppendThroughTx(tx *sql.Tx, height uint64, digest common.Hash) (*Record, error) {
	last, err := lastRecord(tx)
	if err != nil {
		return nil, err
	}

	if last != nil && height > last.Height+1 {
		for h := last.Height + 1; h < height; h++ {
			if _, err := l.AppendTx(tx, h, common.Hash{}); err != nil {
				return nil, err
			}
		}
	}

	return l.AppendTx(tx, height, digest)
}

// TruncateTx removes the records of every height >= height together with the MMR nodes that
// only they reference. The root afterwards equals the root recorded at height-1.
func (l *Ledger) TruncateTx(tx *sql.Tx, height uint64) error {
	if _, err := tx.Exec("DELETE FROM poi_records WHERE height >= ?", height); err != nil {
		return fmt.Errorf("failed to delete poi records: %w", err)
	}

	last, err := lastRecord(tx)
	if err != nil {
		return err
	}

	var size, leaves uint64
	if last != nil {
		size = last.MMRSize
		leaves = last.LeafIndex + 1
	}

	if _, err := tx.Exec("DELETE FROM mmr_nodes WHERE pos >= ?", size); err != nil {
		return fmt.Errorf("failed to delete mmr nodes: %w", err)
	}

	truncationsInc()
	leavesSet(leaves)
	l.log.Debugf("truncated proof-of-index ledger at height %d (mmr size %d)", height, size)

	return nil
}

// Last returns the most recent record, or nil when the ledger is empty.
func (l *Ledger) Last(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return lastRecord(l.db)
}

// RecordAt returns the record of the given height.
func (l *Ledger) RecordAt(ctx context.Context, height uint64) (*Record, error) {
	var rec Record
	err := meddler.QueryRow(l.db, &rec, "SELECT * FROM poi_records WHERE height = ?", height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("height %d: %w", height, ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RootAt returns the MMR root after the digest of height was appended.
func (l *Ledger) RootAt(ctx context.Context, height uint64) (common.Hash, error) {
	rec, err := l.RecordAt(ctx, height)
	if err != nil {
		return common.Hash{}, err
	}
	return rec.Root, nil
}

// Inclusion is a record together with its proof against the root of Tip.
type Inclusion struct {
	Record *Record `json:"record"`
	Tip    *Record `json:"tip"`
	Proof  Proof   `json:"proof"`
}

// ProofAt returns the record of height with an inclusion proof against the latest root.
func (l *Ledger) ProofAt(ctx context.Context, height uint64) (*Inclusion, error) {
	rec, err := l.RecordAt(ctx, height)
	if err != nil {
		return nil, err
	}

	tip, err := l.Last(ctx)
	if err != nil {
		return nil, err
	}

	proof, err := GenerateProof(sqlNodes{q: l.db}, tip.MMRSize, rec.LeafIndex)
	if err != nil {
		return nil, err
	}

	return &Inclusion{Record: rec, Tip: tip, Proof: proof}, nil
}

// Verify checks a proof for digest at height against the root recorded for proof.MMRSize.
func (l *Ledger) Verify(ctx context.Context, height uint64, digest common.Hash, proof Proof) (bool, error) {
	rec, err := l.RecordAt(ctx, height)
	if err != nil {
		return false, err
	}
	if rec.LeafIndex != proof.LeafIndex {
		return false, nil
	}

	var anchor Record
	err = meddler.QueryRow(l.db, &anchor, "SELECT * FROM poi_records WHERE mmr_size = ?", proof.MMRSize)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return VerifyProof(anchor.Root, digest, proof), nil
}

// Rebuild recomputes the root of every stored record from the stored digests and reports the
// first height whose recorded root disagrees.
func (l *Ledger) Rebuild(ctx context.Context) (uint64, bool, error) {
	var records []*Record
	if err := meddler.QueryAll(l.db, &records, "SELECT * FROM poi_records ORDER BY height ASC"); err != nil {
		return 0, false, fmt.Errorf("failed to read poi records: %w", err)
	}

	mmr := NewMMR()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		if err := mmr.Push(rec.Digest); err != nil {
			return 0, false, err
		}
		if mmr.Root() != rec.Root {
			return rec.Height, false, nil
		}
	}

	return 0, true, nil
}

var _ db.Pruner = (*orphanPruner)(nil)

// orphanPruner removes MMR nodes that no record references.
type orphanPruner struct {
	ledger *Ledger
}

// Pruner returns the maintenance hook that removes MMR nodes beyond the latest record.
func (l *Ledger) Pruner() db.Pruner {
	return &orphanPruner{ledger: l}
}

func (n *orphanPruner) Name() string { return "mmr_nodes" }

func (n *orphanPruner) Prune(ctx context.Context) (int64, error) {
	last, err := n.ledger.Last(ctx)
	if err != nil {
		return 0, err
	}

	var size uint64
	if last != nil {
		size = last.MMRSize
	}

	res, err := n.ledger.db.ExecContext(ctx, "DELETE FROM mmr_nodes WHERE pos >= ?", size)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
