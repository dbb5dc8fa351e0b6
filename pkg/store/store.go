package store

import (
	"context"
	"database/sql"

	"github.com/ethereum/go-ethereum/common"
)

// Op is the kind of an entity mutation.
type Op string

const (
	// OpSet stores the full entity value.
	OpSet Op = "set"
	// OpRemove deletes the entity.
	OpRemove Op = "remove"
)

// Mutation is a single entity write produced by a mapping handler.
type Mutation struct {
	Op     Op             `json:"op"`
	Entity string         `json:"entity"`
	ID     string         `json:"id"`
	Data   map[string]any `json:"data,omitempty"`
}

// Checkpoint is the last durably processed height.
type Checkpoint struct {
	Height    uint64      `json:"height"`
	BlockHash common.Hash `json:"blockHash"`
}

// Reader reads the latest visible value of an entity.
type Reader interface {
	Get(ctx context.Context, entity, id string) (map[string]any, bool, error)
}

// Batch is the commit token of one logical transaction. Entity mutations, the checkpoint advance
// and every other write issued through Tx() become visible together on Commit.
type Batch interface {
	Tx() *sql.Tx
	ApplyMutations(height uint64, mutations []Mutation) error
	SetCheckpoint(height uint64, blockHash common.Hash) error
	// RewindTx drops every entity version at or above height and moves the checkpoint to height-1.
	RewindTx(height uint64) error
	Commit() error
	Rollback() error
}

// EntityStore is the durable entity store.
type EntityStore interface {
	Reader
	Begin(ctx context.Context) (Batch, error)
	GetCheckpoint(ctx context.Context) (*Checkpoint, error)
}
