// Package dispatcher fetches blocks and runs their handlers concurrently while emitting processed
// results strictly in ascending height order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/logger"
	internalstore "github.com/goran-ethernal/ChainMapper/internal/store"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var _ dispatcher.Dispatcher = (*Dispatcher)(nil)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// BlockProcessor runs the handlers of one block. base observes every lower height.
type BlockProcessor interface {
	Process(ctx context.Context, block *chain.Block, base store.Reader) (*dispatcher.ProcessedResult, error)
}

// strategy is how tasks are fetched and executed. All methods taking an entry are called with
// the dispatcher lock held, except fetch and execute.
type strategy interface {
	start(ctx context.Context, g *errgroup.Group)
	assign(e *entry)
	release(e *entry)
	reassign(e *entry)
	fetch(ctx context.Context, entries []*entry)
	execute(ctx context.Context, e *entry, base store.Reader) (*dispatcher.ProcessedResult, error)
}

type entry struct {
	task     dispatcher.Task
	block    *chain.Block
	fetching bool
	attempts int
	retryAt  time.Time
	worker   int
	dropped  bool
}

// Dispatcher is the ordered task queue shared by both strategies. Blocks are fetched
// concurrently, executed one at a time from the lowest pending height, and emitted in order.
type Dispatcher struct {
	cfg       config.DispatcherConfig
	source    chain.DataSource
	committed store.Reader
	overlay   *internalstore.Overlay
	strategy  strategy
	log       *logger.Logger

	slots   *semaphore.Weighted
	fetches sync.WaitGroup

	mu         sync.Mutex
	epoch      uint64
	awaitFlush bool
	floor      uint64
	pending []*entry
	output  []*dispatcher.ProcessedResult
	held    map[uint64]struct{}
	latest  uint64
	fatal   error

	wake  chan struct{}
	ready chan struct{}
}

func newDispatcher(cfg config.DispatcherConfig, source chain.DataSource, committed store.Reader, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		source:    source,
		committed: committed,
		overlay:   internalstore.NewOverlay(),
		log:       log,
		slots:     semaphore.NewWeighted(int64(cfg.MaxQueueSize)),
		held:      make(map[uint64]struct{}),
		wake:      make(chan struct{}, 1),
		ready:     make(chan struct{}, 1),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Enqueue adds tasks in ascending height order, blocking while the queue is full. It returns
// ErrStaleEpoch when the tasks were planned before a flush, including one that happened while it
// was waiting.
func (d *Dispatcher) Enqueue(ctx context.Context, tasks []dispatcher.Task) error {
	for _, t := range tasks {
		if err := d.slots.Acquire(ctx, 1); err != nil {
			return err
		}

		d.mu.Lock()
		if t.Epoch != d.epoch || d.awaitFlush {
			d.mu.Unlock()
			d.slots.Release(1)
			return dispatcher.ErrStaleEpoch
		}
		if d.fatal != nil {
			err := d.fatal
			d.mu.Unlock()
			d.slots.Release(1)
			return err
		}
		if t.Height < d.floor {
			d.mu.Unlock()
			d.slots.Release(1)
			return fmt.Errorf("task height %d is below the next expected height %d", t.Height, d.floor)
		}

		e := &entry{task: t}
		d.strategy.assign(e)
		d.pending = append(d.pending, e)
		d.held[t.Height] = struct{}{}
		d.floor = t.Height + 1
		queueSizeSet(len(d.held))
		d.mu.Unlock()

		notify(d.wake)
	}

	return nil
}

// Next returns the next processed result in height order.
func (d *Dispatcher) Next(ctx context.Context) (*dispatcher.ProcessedResult, error) {
	for {
		d.mu.Lock()
		if len(d.output) > 0 {
			res := d.output[0]
			d.output = d.output[1:]
			d.latest = res.Height
			d.mu.Unlock()
			return res, nil
		}
		if d.fatal != nil {
			err := d.fatal
			d.mu.Unlock()
			return nil, err
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.ready:
		}
	}
}

// Release frees the queue slot of height once its result was committed or discarded. The
// result's mutations stop being served from memory.
func (d *Dispatcher) Release(height uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.overlay.Release(height)
	if _, ok := d.held[height]; ok {
		delete(d.held, height)
		d.slots.Release(1)
	}
	queueSizeSet(len(d.held))
}

// Flush discards every task and result at or above height and starts a new epoch.
func (d *Dispatcher) Flush(height uint64) {
	d.mu.Lock()
	d.dropFromLocked(height)
	d.awaitFlush = false
	d.mu.Unlock()

	notify(d.wake)
}

// Epoch returns the current epoch.
func (d *Dispatcher) Epoch() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch
}

func (d *Dispatcher) dropFromLocked(height uint64) {
	d.epoch++

	kept := d.pending[:0]
	for _, e := range d.pending {
		if e.task.Height < height {
			kept = append(kept, e)
			continue
		}
		e.dropped = true
		d.strategy.release(e)
	}
	d.pending = kept

	out := d.output[:0]
	for _, r := range d.output {
		if r.Height < height {
			out = append(out, r)
		}
	}
	d.output = out

	for h := range d.held {
		if h >= height {
			delete(d.held, h)
			d.slots.Release(1)
		}
	}

	d.overlay.DropFrom(height)
	if d.floor > height {
		d.floor = height
	}
	if d.latest >= height && height > 0 {
		d.latest = height - 1
	}
	queueSizeSet(len(d.held))

	d.log.Debugw("dispatcher flushed", "from", height, "epoch", d.epoch)
}

// LatestProcessedHeight returns the highest height handed out by Next.
func (d *Dispatcher) LatestProcessedHeight() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

// QueueSize returns the number of in-flight plus buffered tasks.
func (d *Dispatcher) QueueSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.held)
}

// Run fetches and executes tasks until ctx is cancelled or a task exhausts its retries.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	d.strategy.start(gctx, g)
	g.Go(func() error {
		defer d.fetches.Wait()
		return d.loop(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Dispatcher) loop(ctx context.Context) error {
	var timer *time.Timer
	for {
		d.startFetches(ctx)

		if err := d.executeReady(ctx); err != nil {
			return err
		}

		var retry <-chan time.Time
		if wait, ok := d.nextRetry(); ok {
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			retry = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-retry:
		}
	}
}

func (d *Dispatcher) nextRetry() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var earliest time.Time
	for _, e := range d.pending {
		if e.retryAt.IsZero() || e.fetching {
			continue
		}
		if earliest.IsZero() || e.retryAt.Before(earliest) {
			earliest = e.retryAt
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return max(time.Until(earliest), time.Millisecond), true
}

func (d *Dispatcher) startFetches(ctx context.Context) {
	now := time.Now()

	d.mu.Lock()
	var todo []*entry
	for _, e := range d.pending {
		if e.task.Skip || e.block != nil || e.fetching || now.Before(e.retryAt) {
			continue
		}
		e.fetching = true
		todo = append(todo, e)
	}
	d.mu.Unlock()

	if len(todo) > 0 {
		d.strategy.fetch(ctx, todo)
	}
}

// goFetch runs fn on a tracked goroutine so Run can wait for outstanding fetches.
func (d *Dispatcher) goFetch(fn func()) {
	d.fetches.Add(1)
	go func() {
		defer d.fetches.Done()
		fn()
	}()
}

// fetchBlocks fetches the contiguous heights of batch with one call.
func (d *Dispatcher) fetchBlocks(ctx context.Context, batch []*entry) ([]*chain.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout.Duration)
	defer cancel()

	start := time.Now()
	defer func() { fetchDurationLog(time.Since(start)) }()

	lo, hi := batch[0].task.Height, batch[len(batch)-1].task.Height
	if lo == hi {
		b, err := d.source.GetBlockByHeight(ctx, lo)
		if err != nil {
			return nil, err
		}
		return []*chain.Block{b}, nil
	}

	blocks, err := d.source.GetBlocksInRange(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	if len(blocks) != len(batch) {
		return nil, fmt.Errorf("range %d-%d returned %d blocks", lo, hi, len(blocks))
	}
	return blocks, nil
}

// fetched records the outcome of a fetch. Failures are retried with backoff until the retry
// budget is spent, which stalls the pipeline.
func (d *Dispatcher) fetched(batch []*entry, blocks []*chain.Block, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer notify(d.wake)

	for i, e := range batch {
		e.fetching = false
		if e.dropped {
			continue
		}

		if err == nil && blocks[i].Height != e.task.Height {
			err = fmt.Errorf("fetched block %d for height %d", blocks[i].Height, e.task.Height)
		}
		if err != nil {
			d.failLocked(e, "fetch", err)
			continue
		}

		e.block = blocks[i]
		e.retryAt = time.Time{}
	}
}

func (d *Dispatcher) failLocked(e *entry, stage string, err error) {
	e.attempts++
	if e.attempts > d.cfg.MaxTaskRetries {
		if d.fatal == nil {
			d.fatal = &dispatcher.FatalError{Height: e.task.Height, Cause: err}
			stallsInc()
			d.log.Errorw("task exhausted retries", "height", e.task.Height, "stage", stage, "error", err)
			notify(d.ready)
		}
		return
	}

	delay := min(retryBaseDelay<<(e.attempts-1), retryMaxDelay)
	e.retryAt = time.Now().Add(delay)
	retriesInc(stage)

	d.log.Warnw("task failed, retrying",
		"height", e.task.Height, "stage", stage, "attempt", e.attempts, "delay", delay, "error", err)
}

// executeReady executes the lowest pending height while its block is available.
func (d *Dispatcher) executeReady(ctx context.Context) error {
	for {
		d.mu.Lock()
		if d.fatal != nil {
			err := d.fatal
			d.mu.Unlock()
			return err
		}
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return nil
		}
		e := d.pending[0]
		if !e.task.Skip && (e.block == nil || time.Now().Before(e.retryAt)) {
			d.mu.Unlock()
			return nil
		}
		base := d.overlay.View(d.committed, e.task.Height)
		d.mu.Unlock()

		var (
			res *dispatcher.ProcessedResult
			err error
		)
		if e.task.Skip {
			res = &dispatcher.ProcessedResult{Height: e.task.Height, Skipped: true}
		} else {
			start := time.Now()
			res, err = d.strategy.execute(ctx, e, base)
			execDurationLog(time.Since(start))
		}

		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		d.mu.Lock()
		if e.dropped {
			d.mu.Unlock()
			continue
		}
		if err != nil {
			d.failLocked(e, "execute", err)
			d.strategy.reassign(e)
			d.mu.Unlock()
			continue
		}

		d.pending = d.pending[1:]
		d.strategy.release(e)
		if !res.Skipped {
			d.overlay.Add(res.Height, res.Mutations)
		}
		d.output = append(d.output, res)
		if len(res.Created) > 0 {
			// later tasks were planned without the new datasources
			d.dropFromLocked(res.Height + 1)
			d.awaitFlush = true
		}
		d.mu.Unlock()

		notify(d.ready)
	}
}
