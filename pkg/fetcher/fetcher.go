package fetcher

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Orchestrator drives the pipeline: it plans height ranges, feeds the dispatcher, commits
// results in order and reacts to reorgs.
type Orchestrator interface {
	// Init positions the orchestrator. Indexing resumes after the persisted checkpoint, or starts
	// at startHeight on an empty database.
	Init(ctx context.Context, startHeight uint64) error

	// Run indexes until ctx is cancelled or the pipeline stalls.
	Run(ctx context.Context) error

	// Subscribe delivers progress events to ch.
	Subscribe(ch chan<- Event) event.Subscription

	// Status returns a snapshot of the orchestrator's progress.
	Status() Status
}

// FetchMode represents the operating mode of the orchestrator.
type FetchMode string

const (
	// ModeBackfill plans full batches of historical heights
	ModeBackfill FetchMode = "backfill"
	// ModeLive tails the finalized height as it advances
	ModeLive FetchMode = "live"
)

// String returns the string representation of the mode.
func (m FetchMode) String() string {
	return string(m)
}

// EventKind identifies a progress event.
type EventKind string

const (
	// EventHeightAdvanced follows every durable checkpoint
	EventHeightAdvanced EventKind = "height-advanced"
	// EventReorgDetected follows a committed rewind
	EventReorgDetected EventKind = "reorg-detected"
	// EventDispatchStalled is sent once when a task exhausted its retries
	EventDispatchStalled EventKind = "dispatch-stalled"
)

// Event is a progress notification for observability consumers.
type Event struct {
	Kind   EventKind
	Height uint64

	// BlockHash is the checkpoint hash of a height-advanced event
	BlockHash common.Hash

	// Root is the proof-of-index root after a height-advanced event
	Root common.Hash

	// Err is the cause of a dispatch-stalled event
	Err error
}

// Status is a snapshot of the orchestrator.
type Status struct {
	Mode            FetchMode `json:"mode"`
	LastProcessed   uint64    `json:"lastProcessedHeight"`
	HasProcessed    bool      `json:"hasProcessed"`
	NextHeight      uint64    `json:"nextHeight"`
	FinalizedHeight uint64    `json:"finalizedHeight"`
	QueueSize       int       `json:"queueSize"`
	Dictionary      bool      `json:"dictionary"`
	Stalled         bool      `json:"stalled"`
}
