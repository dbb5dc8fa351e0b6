package reorg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goran-ethernal/ChainMapper/pkg/chain"
)

// ErrReorgTooDeep is returned when the chain diverged below the oldest tracked block.
var ErrReorgTooDeep = errors.New("reorg deeper than the tracked window")

// Detector tracks the hashes of committed blocks and compares them with the chain.
type Detector interface {
	// VerifyChainTx checks that headers extend the tracked chain.
	VerifyChainTx(tx *sql.Tx, headers []chain.Header) error
	// RecordTx tracks headers inside the commit transaction.
	RecordTx(tx *sql.Tx, headers []chain.Header) error
	// Check compares every tracked hash with the chain.
	Check(ctx context.Context) error
	// RewindTx stops tracking every height at or above height.
	RewindTx(tx *sql.Tx, height uint64) error
}

// ReorgDetectedError is returned when a blockchain reorganization is detected.
// FirstReorgBlock is the lowest height whose indexed data may no longer be canonical.
type ReorgDetectedError struct {
	FirstReorgBlock uint64
	Details         string
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("reorg detected at block %d: %s", e.FirstReorgBlock, e.Details)
}

// NewReorgError creates a new ReorgDetectedError.
func NewReorgError(firstReorgBlock uint64, details string) error {
	return &ReorgDetectedError{
		FirstReorgBlock: firstReorgBlock,
		Details:         details,
	}
}

// AsReorg returns the ReorgDetectedError wrapped in err, if any.
func AsReorg(err error) (*ReorgDetectedError, bool) {
	var re *ReorgDetectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
