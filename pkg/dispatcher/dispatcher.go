// Package dispatcher defines the block dispatcher contract shared by the single-process and
// worker-pool strategies.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
)

// ErrStaleEpoch is returned for tasks planned before the last flush.
var ErrStaleEpoch = errors.New("task belongs to a flushed epoch")

// Task is the unit the dispatcher schedules.
type Task struct {
	Height uint64

	// Skip marks a height the accelerator proved irrelevant. It is never fetched and produces an
	// empty result so the checkpoint can advance over it.
	Skip bool

	// Datasources are the datasources active at Height when the task was planned
	Datasources []*project.Datasource

	// Version is the datasource registry version the task was planned under
	Version uint64

	// Epoch is the dispatcher epoch the task was planned in
	Epoch uint64
}

// ProcessedResult is the output of running all matched handlers of one block.
type ProcessedResult struct {
	Height    uint64
	BlockHash common.Hash

	// Header is nil for skipped heights
	Header *chain.Header

	Skipped     bool
	Mutations   []store.Mutation
	Digest      common.Hash
	Invocations int

	// Created holds datasources registered by handlers of this block. They take effect once the
	// result is committed.
	Created []*dynamicds.Entry
}

// Dispatcher fetches and executes tasks and emits results in ascending height order.
type Dispatcher interface {
	// Enqueue adds tasks in ascending height order. It blocks while the dispatcher is full and
	// returns ErrStaleEpoch for tasks planned in an earlier epoch.
	Enqueue(ctx context.Context, tasks []Task) error

	// Epoch returns the current epoch. Every flush starts a new one.
	Epoch() uint64

	// Next returns the next result in height order. It blocks until one is ready.
	Next(ctx context.Context) (*ProcessedResult, error)

	// Release reports that the result at height was committed or discarded.
	Release(height uint64)

	// Flush discards every queued, in-flight and buffered task at or above height. After a result
	// that created datasources the dispatcher accepts no tasks until the next Flush.
	Flush(height uint64)

	// LatestProcessedHeight returns the highest height emitted by Next, or 0.
	LatestProcessedHeight() uint64

	// QueueSize returns the number of in-flight plus buffered tasks.
	QueueSize() int

	// Run executes tasks until ctx is cancelled.
	Run(ctx context.Context) error
}

// FatalError stops the pipeline. It is returned once a task has exhausted its retries.
type FatalError struct {
	Height uint64
	Cause  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("dispatch stalled at height %d: %v", e.Height, e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// AsFatal returns the FatalError wrapped in err, if any.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
