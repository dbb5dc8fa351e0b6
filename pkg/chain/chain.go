// Package chain defines the block model the indexing pipeline works on and the
// data source contract it consumes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrBlockNotFound is returned when the data source has no block at the requested height.
var ErrBlockNotFound = errors.New("block not found")

// Block is an immutable fetched block with the payload mapping handlers are matched against.
type Block struct {
	Height       uint64         `json:"height"`
	Hash         common.Hash    `json:"hash"`
	ParentHash   common.Hash    `json:"parentHash"`
	Timestamp    uint64         `json:"timestamp"`
	SpecVersion  string         `json:"specVersion"`
	Transactions []*Transaction `json:"transactions"`
	Logs         []*Log         `json:"logs"`
}

// Header returns the identifying part of the block.
func (b *Block) Header() Header {
	return Header{Height: b.Height, Hash: b.Hash, ParentHash: b.ParentHash}
}

// Transaction is a transaction included in a block.
type Transaction struct {
	Hash  common.Hash     `json:"hash"`
	Index uint            `json:"index"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Input []byte          `json:"input"`
	Value *big.Int        `json:"value"`
}

// Selector returns the first four bytes of the call data, or nil for plain transfers.
func (t *Transaction) Selector() []byte {
	if len(t.Input) < 4 {
		return nil
	}
	return t.Input[:4]
}

// Log is an event emitted by a transaction in a block.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    []byte         `json:"data"`
	TxHash  common.Hash    `json:"transactionHash"`
	TxIndex uint           `json:"transactionIndex"`
	Index   uint           `json:"logIndex"`
}

// Header identifies a block and links it to its parent.
type Header struct {
	Height     uint64      `json:"height"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
}

// DataSource is the chain access the pipeline consumes.
// Implementations wrap failures that may succeed on retry in TransientError.
type DataSource interface {
	// GetFinalizedHeight returns the highest height that will not be reorganized.
	GetFinalizedHeight(ctx context.Context) (uint64, error)

	// GetBlockByHeight returns the block at h or ErrBlockNotFound.
	GetBlockByHeight(ctx context.Context, h uint64) (*Block, error)

	// GetBlocksInRange returns the blocks in [lo, hi] ordered by height.
	GetBlocksInRange(ctx context.Context, lo, hi uint64) ([]*Block, error)

	// GetHeaders returns the current canonical headers for the given heights, in the same order.
	GetHeaders(ctx context.Context, heights []uint64) ([]Header, error)
}

// TransientError marks a data source failure as retryable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
