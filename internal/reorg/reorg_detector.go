package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/metrics"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/reorg"
	"github.com/russross/meddler"
)

var _ reorg.Detector = (*ReorgDetector)(nil)

// ReorgDetector detects blockchain reorganizations by tracking the hashes of the last Depth heights
// of committed, fetched blocks.
type ReorgDetector struct {
	db                     *sql.DB
	log                    *logger.Logger
	source                 chain.DataSource
	depth                  uint64
	maintenanceCoordinator db.Maintenance
}

// NewReorgDetector creates a new ReorgDetector over the block_hashes table.
func NewReorgDetector(
	database *sql.DB,
	source chain.DataSource,
	depth uint64,
	log *logger.Logger,
	maintenanceCoordinator db.Maintenance,
) *ReorgDetector {
	if maintenanceCoordinator == nil {
		maintenanceCoordinator = &db.NoOpMaintenance{}
	}

	detector := &ReorgDetector{
		db:                     database,
		source:                 source,
		depth:                  depth,
		log:                    log.WithComponent(internalcommon.ComponentReorgDetector),
		maintenanceCoordinator: maintenanceCoordinator,
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)
	detector.log.Infof("reorg detector initialized: depth=%d", depth)

	return detector
}

// StoredBlock represents a block stored in the database.
type StoredBlock struct {
	BlockNumber uint64      `meddler:"block_number"`
	BlockHash   common.Hash `meddler:"block_hash,hash"`
	ParentHash  common.Hash `meddler:"parent_hash,hash"`
}

// VerifyChainTx checks that each header's parent matches the tracked hash of the height below it,
// and that consecutive headers link to each other.
func (r *ReorgDetector) VerifyChainTx(tx *sql.Tx, headers []chain.Header) error {
	for i, header := range headers {
		if header.Height == 0 {
			continue
		}

		if i > 0 && headers[i-1].Height == header.Height-1 {
			if headers[i-1].Hash != header.ParentHash {
				r.log.Warnf("chain discontinuity detected: block=%d expected_parent=%s actual_parent=%s",
					header.Height, headers[i-1].Hash.Hex(), header.ParentHash.Hex())
				reorgObserved(sourceCommit, 0)
				return reorg.NewReorgError(header.Height-1,
					fmt.Sprintf("chain discontinuity between blocks %d and %d", header.Height-1, header.Height))
			}
			continue
		}

		parent, err := r.getStoredBlockTx(tx, header.Height-1)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to query block %d: %w", header.Height-1, err)
		}

		if parent.BlockHash != header.ParentHash {
			r.log.Warnf("reorg detected while committing: block=%d cached_parent=%s parent=%s",
				header.Height, parent.BlockHash.Hex(), header.ParentHash.Hex())
			reorgObserved(sourceCommit, 1)
			return reorg.NewReorgError(header.Height-1,
				fmt.Sprintf("cached_hash=%s parent_hash=%s", parent.BlockHash.Hex(), header.ParentHash.Hex()))
		}
	}

	return nil
}

// RecordTx tracks headers and forgets heights that left the reorg window.
func (r *ReorgDetector) RecordTx(tx *sql.Tx, headers []chain.Header) error {
	if len(headers) == 0 {
		return nil
	}

	var highest uint64
	for _, header := range headers {
		if _, err := tx.Exec("DELETE FROM block_hashes WHERE block_number = ?", header.Height); err != nil {
			return fmt.Errorf("failed to replace block %d: %w", header.Height, err)
		}

		block := &StoredBlock{
			BlockNumber: header.Height,
			BlockHash:   header.Hash,
			ParentHash:  header.ParentHash,
		}
		if err := meddler.Insert(tx, "block_hashes", block); err != nil {
			return fmt.Errorf("failed to insert block %d: %w", header.Height, err)
		}
		highest = max(highest, header.Height)
	}

	if highest >= r.depth {
		if err := r.pruneOldBlocksTx(tx, highest-r.depth+1); err != nil {
			return err
		}
	}

	return nil
}

// Check compares every tracked hash with the chain. It returns a ReorgDetectedError whose
// FirstReorgBlock is one above the highest tracked block below the first mismatch, or
// ErrReorgTooDeep when even the oldest tracked block was replaced.
func (r *ReorgDetector) Check(ctx context.Context) error {
	unlock := r.maintenanceCoordinator.AcquireOperationLock()
	tracked, err := r.getStoredBlocks()
	unlock()
	if err != nil {
		return fmt.Errorf("failed to get tracked blocks: %w", err)
	}
	if len(tracked) == 0 {
		return nil
	}

	heights := make([]uint64, len(tracked))
	for i, block := range tracked {
		heights[i] = block.BlockNumber
	}

	current, err := r.source.GetHeaders(ctx, heights)
	if err != nil {
		return fmt.Errorf("failed to fetch tracked headers: %w", err)
	}

	for i, header := range current {
		cached := tracked[i]
		if cached.BlockHash == header.Hash {
			continue
		}

		r.log.Warnf("reorg detected in tracked blocks: block=%d cached_hash=%s current_hash=%s",
			cached.BlockNumber, cached.BlockHash.Hex(), header.Hash.Hex())

		if i == 0 {
			reorgObserved(sourceTooDeep, uint64(len(tracked)))
			return fmt.Errorf("%w: block %d (oldest tracked) changed from %s to %s",
				reorg.ErrReorgTooDeep, cached.BlockNumber, cached.BlockHash.Hex(), header.Hash.Hex())
		}

		first := tracked[i-1].BlockNumber + 1
		reorgObserved(sourceTracked, tracked[len(tracked)-1].BlockNumber-first+1)
		return reorg.NewReorgError(first,
			fmt.Sprintf("cached_hash=%s current_hash=%s at block %d", cached.BlockHash.Hex(), header.Hash.Hex(),
				cached.BlockNumber))
	}

	r.log.Debugf("tracked blocks verified: count=%d", len(tracked))
	return nil
}

// RewindTx stops tracking every height at or above height.
func (r *ReorgDetector) RewindTx(tx *sql.Tx, height uint64) error {
	if _, err := tx.Exec("DELETE FROM block_hashes WHERE block_number >= ?", height); err != nil {
		return fmt.Errorf("failed to rewind block hashes: %w", err)
	}
	return nil
}

// getStoredBlockTx retrieves the cached block for a specific block number using a transaction.
func (r *ReorgDetector) getStoredBlockTx(tx *sql.Tx, blockNum uint64) (StoredBlock, error) {
	var block StoredBlock
	err := meddler.QueryRow(tx, &block, "SELECT * FROM block_hashes WHERE block_number = ?", blockNum)
	if err != nil {
		return StoredBlock{}, err
	}
	return block, nil
}

func (r *ReorgDetector) getStoredBlocks() ([]*StoredBlock, error) {
	var blocks []*StoredBlock
	err := meddler.QueryAll(r.db, &blocks, "SELECT * FROM block_hashes ORDER BY block_number ASC")
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

// pruneOldBlocksTx removes block hashes older than the given block number using a transaction.
func (r *ReorgDetector) pruneOldBlocksTx(tx *sql.Tx, keepFromBlock uint64) error {
	result, err := tx.Exec("DELETE FROM block_hashes WHERE block_number < ?", keepFromBlock)
	if err != nil {
		return fmt.Errorf("failed to prune old blocks: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		r.log.Debugf("pruned old block hashes: keep_from_block=%d deleted_count=%d", keepFromBlock, rowsAffected)
	}

	return nil
}
