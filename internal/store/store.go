package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/metrics"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"github.com/russross/meddler"
)

var (
	_ store.EntityStore = (*Store)(nil)
	_ store.Batch       = (*Batch)(nil)
	_ db.Pruner         = (*Store)(nil)
)

// ErrCheckpointRegression is returned when a checkpoint would move backwards outside a rewind.
var ErrCheckpointRegression = errors.New("checkpoint must not move backwards")

type entityRow struct {
	Entity  string `meddler:"entity"`
	ID      string `meddler:"id"`
	Height  uint64 `meddler:"height"`
	Data    string `meddler:"data,zeroisnull"`
	Deleted bool   `meddler:"deleted"`
}

type checkpointRow struct {
	ID        int         `meddler:"id"`
	Height    uint64      `meddler:"last_height"`
	BlockHash common.Hash `meddler:"block_hash,hash"`
	UpdatedAt int64       `meddler:"updated_at"`
}

// Store keeps every entity version by height so a rewind inside the reorg window can restore the
// values that were visible before it.
type Store struct {
	db          *sql.DB
	log         *logger.Logger
	history     uint64
	maintenance db.Maintenance
}

// New creates an entity store over a migrated database. History is the number of heights below
// the checkpoint whose versions are kept for rewinds.
func New(database *sql.DB, history uint64, log *logger.Logger) *Store {
	return &Store{
		db:          database,
		log:         log.WithComponent(internalcommon.ComponentStore),
		history:     history,
		maintenance: &db.NoOpMaintenance{},
	}
}

// SetMaintenance makes every batch hold an operation lock of m until it is committed or rolled
// back, so maintenance never vacuums under an open batch.
func (s *Store) SetMaintenance(m db.Maintenance) {
	s.maintenance = m
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get returns the latest committed value of an entity.
func (s *Store) Get(ctx context.Context, entity, id string) (map[string]any, bool, error) {
	return s.getAt(ctx, entity, id, ^uint64(0)>>1)
}

// GetAt returns the value of an entity as it was after height was committed.
func (s *Store) GetAt(ctx context.Context, entity, id string, height uint64) (map[string]any, bool, error) {
	return s.getAt(ctx, entity, id, height)
}

func (s *Store) getAt(ctx context.Context, entity, id string, height uint64) (_ map[string]any, _ bool, err error) {
	defer func(start time.Time) { metrics.EntityQueryObserve("get", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var row entityRow
	err = meddler.QueryRow(s.db, &row,
		"SELECT * FROM entities WHERE entity = ? AND id = ? AND height <= ? ORDER BY height DESC LIMIT 1",
		entity, id, height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read entity %s/%s: %w", entity, id, err)
	}
	if row.Deleted {
		return nil, false, nil
	}

	data := make(map[string]any)
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, false, fmt.Errorf("failed to decode entity %s/%s: %w", entity, id, err)
	}
	return data, true, nil
}

// List returns the latest committed values of every live entity of a type.
func (s *Store) List(ctx context.Context, entity string, limit int) (_ map[string]map[string]any, err error) {
	defer func(start time.Time) { metrics.EntityQueryObserve("list", start, err) }(time.Now())

	var rows []*entityRow
	err = meddler.QueryAll(s.db, &rows, `
		SELECT e.* FROM entities e
		WHERE e.entity = ? AND e.height = (
			SELECT MAX(height) FROM entities WHERE entity = e.entity AND id = e.id
		) AND e.deleted = 0
		ORDER BY e.id ASC LIMIT ?`, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}

	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		data := make(map[string]any)
		if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
			return nil, fmt.Errorf("failed to decode entity %s/%s: %w", entity, row.ID, err)
		}
		out[row.ID] = data
	}
	return out, ctx.Err()
}

// GetCheckpoint returns the last committed checkpoint, or nil before the first commit.
func (s *Store) GetCheckpoint(ctx context.Context) (*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return getCheckpoint(s.db)
}

func getCheckpoint(q meddler.DB) (*store.Checkpoint, error) {
	var row checkpointRow
	err := meddler.QueryRow(q, &row, "SELECT * FROM checkpoint WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return &store.Checkpoint{Height: row.Height, BlockHash: row.BlockHash}, nil
}

// Begin opens a batch. Every write of one committed height goes through the same batch.
func (s *Store) Begin(ctx context.Context) (store.Batch, error) {
	unlock := s.maintenance.AcquireOperationLock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Batch{tx: tx, log: s.log, release: sync.OnceFunc(unlock)}, nil
}

// Batch is an open write transaction against the store.
type Batch struct {
	tx      *sql.Tx
	log     *logger.Logger
	release func()
	rewound bool
	written int
}

// Tx exposes the transaction so other ledgers can join the same commit.
func (b *Batch) Tx() *sql.Tx {
	return b.tx
}

// ApplyMutations writes the mutations of one height. When an entity is written more than once the
// last write wins.
func (b *Batch) ApplyMutations(height uint64, mutations []store.Mutation) error {
	type key struct{ entity, id string }

	order := make([]key, 0, len(mutations))
	final := make(map[key]store.Mutation, len(mutations))
	for _, m := range mutations {
		k := key{m.Entity, m.ID}
		if _, seen := final[k]; !seen {
			order = append(order, k)
		}
		final[k] = m
	}

	for _, k := range order {
		m := final[k]
		row := &entityRow{
			Entity:  m.Entity,
			ID:      m.ID,
			Height:  height,
			Deleted: m.Op == store.OpRemove,
		}
		if m.Op == store.OpSet {
			data, err := json.Marshal(m.Data)
			if err != nil {
				return fmt.Errorf("failed to encode entity %s/%s: %w", m.Entity, m.ID, err)
			}
			row.Data = string(data)
		}

		if err := meddler.Insert(b.tx, "entities", row); err != nil {
			return fmt.Errorf("failed to write entity %s/%s at %d: %w", m.Entity, m.ID, height, err)
		}
	}

	b.written += len(order)
	return nil
}

// SetCheckpoint advances the checkpoint inside the batch.
func (b *Batch) SetCheckpoint(height uint64, blockHash common.Hash) error {
	current, err := getCheckpoint(b.tx)
	if err != nil {
		return err
	}
	if current != nil && height < current.Height && !b.rewound {
		return fmt.Errorf("%w: %d -> %d", ErrCheckpointRegression, current.Height, height)
	}

	_, err = b.tx.Exec(`
		INSERT INTO checkpoint (id, last_height, block_hash, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_height = excluded.last_height,
			block_hash = excluded.block_hash,
			updated_at = excluded.updated_at`,
		height, blockHash.Hex(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set checkpoint %d: %w", height, err)
	}
	return nil
}

// RewindTx deletes every entity version written at or above height and moves the checkpoint to
// height-1. The batch may then set the checkpoint backwards.
func (b *Batch) RewindTx(height uint64) error {
	res, err := b.tx.Exec("DELETE FROM entities WHERE height >= ?", height)
	if err != nil {
		return fmt.Errorf("failed to rewind entities: %w", err)
	}
	removed, _ := res.RowsAffected()

	b.rewound = true
	if height == 0 {
		if _, err := b.tx.Exec("DELETE FROM checkpoint"); err != nil {
			return fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	} else {
		var hash common.Hash
		var stored string
		err := b.tx.QueryRow("SELECT block_hash FROM block_hashes WHERE block_number = ?", height-1).Scan(&stored)
		if err == nil {
			hash = common.HexToHash(stored)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read block hash %d: %w", height-1, err)
		}

		if err := b.SetCheckpoint(height-1, hash); err != nil {
			return err
		}
	}

	b.log.Infof("rewound entity store to height %d (%d versions removed)", height, removed)
	rewindsInc()
	return nil
}

// Commit makes every write of the batch durable.
func (b *Batch) Commit() error {
	defer b.release()

	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	mutationsAdd(b.written)
	return nil
}

// Rollback discards the batch. Rolling back a committed batch is a no-op.
func (b *Batch) Rollback() error {
	defer b.release()

	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Name implements db.Pruner.
func (s *Store) Name() string {
	return "entity_history"
}

// Prune removes entity versions that can no longer be restored by a rewind: every version
// superseded by another at or below checkpoint-history, and tombstones at or below it.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	cp, err := s.GetCheckpoint(ctx)
	if err != nil || cp == nil {
		return 0, err
	}
	if cp.Height < s.history {
		return 0, nil
	}
	cutoff := cp.Height - s.history

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	superseded, err := tx.ExecContext(ctx, `
		DELETE FROM entities WHERE height < ? AND EXISTS (
			SELECT 1 FROM entities newer
			WHERE newer.entity = entities.entity AND newer.id = entities.id
			AND newer.height > entities.height AND newer.height <= ?
		)`, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune superseded versions: %w", err)
	}

	tombstones, err := tx.ExecContext(ctx, `
		DELETE FROM entities WHERE deleted = 1 AND height <= ? AND NOT EXISTS (
			SELECT 1 FROM entities newer
			WHERE newer.entity = entities.entity AND newer.id = entities.id AND newer.height > entities.height
		)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	a, _ := superseded.RowsAffected()
	b, _ := tombstones.RowsAffected()
	s.log.Debugf("pruned entity history below %d: %d superseded, %d tombstones", cutoff, a, b)

	return a + b, nil
}
