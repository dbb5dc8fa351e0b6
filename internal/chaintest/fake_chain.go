// Package chaintest provides an in-memory chain data source for tests.
package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
)

var _ chain.DataSource = (*FakeChain)(nil)

// ContentFunc produces the transactions and logs of the block at h.
type ContentFunc func(h uint64) ([]*chain.Transaction, []*chain.Log)

// Option configures a FakeChain.
type Option func(*FakeChain)

// WithLatency makes every block fetch sleep for a random duration up to max.
func WithLatency(maxLatency time.Duration, seed int64) Option {
	return func(c *FakeChain) {
		c.maxLatency = maxLatency
		c.rnd = rand.New(rand.NewSource(seed)) //nolint:gosec
	}
}

// WithContent sets the generator for block payloads.
func WithContent(fn ContentFunc) Option {
	return func(c *FakeChain) {
		c.content = fn
	}
}

// FakeChain is a deterministic chain whose blocks are derived from height and fork salt.
type FakeChain struct {
	mu         sync.Mutex
	blocks     []*chain.Block
	finalized  uint64
	salt       uint64
	content    ContentFunc
	maxLatency time.Duration
	rnd        *rand.Rand

	fetches    map[uint64]int
	rangeCalls int
	failures   map[uint64]int
	finalErr   int
}

// New builds a chain with blocks [0, head], all finalized.
func New(head uint64, opts ...Option) *FakeChain {
	c := &FakeChain{
		fetches:  make(map[uint64]int),
		failures: make(map[uint64]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	for h := uint64(0); h <= head; h++ {
		c.blocks = append(c.blocks, c.makeBlock(h))
	}
	c.finalized = head

	return c
}

func (c *FakeChain) makeBlock(h uint64) *chain.Block {
	var parent common.Hash
	if h > 0 {
		parent = c.blocks[h-1].Hash
	}

	buf := make([]byte, 16) //nolint:mnd
	binary.BigEndian.PutUint64(buf[:8], h)
	binary.BigEndian.PutUint64(buf[8:], c.salt)

	b := &chain.Block{
		Height:      h,
		Hash:        crypto.Keccak256Hash(buf, parent.Bytes()),
		ParentHash:  parent,
		Timestamp:   1_700_000_000 + h,
		SpecVersion: "test",
	}

	if c.content != nil {
		b.Transactions, b.Logs = c.content(h)
	}
	if b.Transactions == nil {
		b.Transactions = []*chain.Transaction{}
	}
	if b.Logs == nil {
		b.Logs = []*chain.Log{}
	}

	return b
}

// Extend appends n blocks and advances the finalized height to the new head.
func (c *FakeChain) Extend(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := uint64(0); i < n; i++ {
		c.blocks = append(c.blocks, c.makeBlock(uint64(len(c.blocks))))
	}
	c.finalized = uint64(len(c.blocks) - 1)
}

// Fork replaces every block at height >= from with a block on a new branch.
func (c *FakeChain) Fork(from uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.salt++
	for h := from; h < uint64(len(c.blocks)); h++ {
		c.blocks[h] = c.makeBlock(h)
	}
}

// SetFinalized overrides the reported finalized height.
func (c *FakeChain) SetFinalized(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = h
}

// FailFetch makes the next n fetches of height h fail with a transient error.
func (c *FakeChain) FailFetch(h uint64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[h] = n
}

// FailFinalized makes the next n finalized height queries fail.
func (c *FakeChain) FailFinalized(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalErr = n
}

// Block returns the current canonical block at h.
func (c *FakeChain) Block(h uint64) *chain.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[h]
}

// FetchCount returns how many times the block at h was fetched.
func (c *FakeChain) FetchCount(h uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[h]
}

// FetchedHeights returns the set of heights fetched at least once.
func (c *FakeChain) FetchedHeights() map[uint64]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[uint64]int, len(c.fetches))
	for h, n := range c.fetches {
		out[h] = n
	}
	return out
}

// TotalFetches returns the number of block fetches across all heights.
func (c *FakeChain) TotalFetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, n := range c.fetches {
		total += n
	}
	return total
}

// RangeCalls returns the number of GetBlocksInRange calls.
func (c *FakeChain) RangeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rangeCalls
}

func (c *FakeChain) GetFinalizedHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalErr > 0 {
		c.finalErr--
		return 0, &chain.TransientError{Op: "finalized", Err: fmt.Errorf("connection refused")}
	}
	return c.finalized, nil
}

func (c *FakeChain) GetBlockByHeight(ctx context.Context, h uint64) (*chain.Block, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchLocked(h)
}

func (c *FakeChain) GetBlocksInRange(ctx context.Context, lo, hi uint64) ([]*chain.Block, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rangeCalls++
	out := make([]*chain.Block, 0, hi-lo+1)
	for h := lo; h <= hi; h++ {
		b, err := c.fetchLocked(h)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *FakeChain) GetHeaders(ctx context.Context, heights []uint64) ([]chain.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]chain.Header, 0, len(heights))
	for _, h := range heights {
		if h >= uint64(len(c.blocks)) {
			return nil, fmt.Errorf("header %d: %w", h, chain.ErrBlockNotFound)
		}
		out = append(out, c.blocks[h].Header())
	}
	return out, nil
}

func (c *FakeChain) fetchLocked(h uint64) (*chain.Block, error) {
	if h >= uint64(len(c.blocks)) {
		return nil, fmt.Errorf("block %d: %w", h, chain.ErrBlockNotFound)
	}
	if c.failures[h] > 0 {
		c.failures[h]--
		return nil, &chain.TransientError{Op: "block", Err: fmt.Errorf("injected failure at %d", h)}
	}

	c.fetches[h]++
	return c.blocks[h], nil
}

func (c *FakeChain) sleep(ctx context.Context) error {
	if c.maxLatency == 0 {
		return nil
	}

	c.mu.Lock()
	d := time.Duration(c.rnd.Int63n(int64(c.maxLatency)))
	c.mu.Unlock()

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
