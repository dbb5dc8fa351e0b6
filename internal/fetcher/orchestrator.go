package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/metrics"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/fetcher"
	"github.com/goran-ethernal/ChainMapper/pkg/reorg"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"golang.org/x/sync/errgroup"
)

var _ fetcher.Orchestrator = (*Orchestrator)(nil)

// Config contains the orchestrator settings taken from the run configuration.
type Config struct {
	// BatchSize caps the heights planned per cycle
	BatchSize uint64

	// PollInterval is how long to wait for the finalized height to move when caught up
	PollInterval time.Duration

	// Retry bounds finalized height polling
	Retry config.RetryConfig

	// ReorgCheckInterval is how often tracked hashes are compared with the chain
	ReorgCheckInterval time.Duration
}

// NewConfig extracts the orchestrator settings from cfg. Defaults must already be applied.
func NewConfig(cfg *config.Config) Config {
	c := Config{
		BatchSize:          cfg.Dispatcher.BatchSize,
		PollInterval:       cfg.Network.PollInterval.Duration,
		ReorgCheckInterval: cfg.Reorg.CheckInterval.Duration,
	}
	if cfg.Network.Retry != nil {
		c.Retry = *cfg.Network.Retry
	}
	return c
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Source     chain.DataSource
	Store      store.EntityStore
	Ledger     *poi.Ledger
	Registry   *dynamicds.Registry
	Detector   reorg.Detector
	Dispatcher dispatcher.Dispatcher
	Planner    *Planner
}

// Orchestrator plans heights up to the finalized height, feeds them to the dispatcher and
// commits every processed result together with its checkpoint, proof-of-index record, tracked
// block hash and created datasources.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *logger.Logger
	feed event.Feed

	// mu serializes the producer's view of (next, epoch) with resets
	mu         sync.Mutex
	next       uint64
	finalized  uint64
	mode       fetcher.FetchMode
	checkpoint *store.Checkpoint
	stalled    bool

	replan chan struct{}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config, deps Deps, log *logger.Logger) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("chain data source is required")
	case deps.Store == nil:
		return nil, errors.New("entity store is required")
	case deps.Ledger == nil:
		return nil, errors.New("proof-of-index ledger is required")
	case deps.Registry == nil:
		return nil, errors.New("datasource registry is required")
	case deps.Detector == nil:
		return nil, errors.New("reorg detector is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	case deps.Planner == nil:
		return nil, errors.New("planner is required")
	case log == nil:
		return nil, errors.New("logger is required")
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReorgCheckInterval == 0 {
		cfg.ReorgCheckInterval = 30 * time.Second //nolint:mnd
	}
	cfg.Retry.ApplyDefaults()

	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		log:    log.WithComponent(common.ComponentFetcher),
		mode:   fetcher.ModeBackfill,
		replan: make(chan struct{}, 1),
	}
	o.log.Info("orchestrator initialized")

	return o, nil
}

// Init resumes after the persisted checkpoint, or starts at startHeight on an empty database.
func (o *Orchestrator) Init(ctx context.Context, startHeight uint64) error {
	cp, err := o.deps.Store.GetCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	last, err := o.deps.Ledger.Last(ctx)
	if err != nil {
		return fmt.Errorf("failed to read proof-of-index ledger: %w", err)
	}
	switch {
	case cp == nil && last != nil:
		return fmt.Errorf("proof-of-index ledger at height %d without a checkpoint", last.Height)
	case cp != nil && (last == nil || last.Height != cp.Height):
		return fmt.Errorf("checkpoint %d does not match the proof-of-index ledger", cp.Height)
	}

	o.mu.Lock()
	o.checkpoint = cp
	if cp != nil {
		o.next = cp.Height + 1
		o.log.Infow("resuming indexing", "checkpoint", cp.Height, "block_hash", cp.BlockHash.Hex())
		checkpointHeightSet(cp.Height)
	} else {
		o.next = startHeight
		o.log.Infow("starting fresh indexing", "start_height", startHeight)
	}
	o.mu.Unlock()

	return nil
}

// Subscribe delivers progress events to ch. Sends block until every subscriber received the
// event, so subscribers must keep draining their channel.
func (o *Orchestrator) Subscribe(ch chan<- fetcher.Event) event.Subscription {
	return o.feed.Subscribe(ch)
}

// Status returns a snapshot of the orchestrator's progress.
func (o *Orchestrator) Status() fetcher.Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := fetcher.Status{
		Mode:            o.mode,
		NextHeight:      o.next,
		FinalizedHeight: o.finalized,
		QueueSize:       o.deps.Dispatcher.QueueSize(),
		Dictionary:      o.deps.Planner.Enabled(),
		Stalled:         o.stalled,
	}
	if o.checkpoint != nil {
		s.LastProcessed = o.checkpoint.Height
		s.HasProcessed = true
	}
	return s
}

// Run indexes until ctx is cancelled. It returns an error when the pipeline cannot continue: a
// task exhausted its retries, a fork is deeper than the reorg window, or a commit failed.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("starting orchestrator")
	metrics.ComponentHealthSet(common.ComponentFetcher, true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.deps.Dispatcher.Run(gctx) })
	g.Go(func() error { return o.produce(gctx) })
	g.Go(func() error { return o.consume(gctx) })

	err := g.Wait()
	if fe, ok := dispatcher.AsFatal(err); ok {
		o.mu.Lock()
		o.stalled = true
		o.mu.Unlock()
		o.log.Errorw("pipeline stalled", "height", fe.Height, "error", fe.Cause)
		metrics.ErrorsInc(common.ComponentFetcher, "fatal")
		metrics.ComponentHealthSet(common.ComponentFetcher, false)
		o.feed.Send(fetcher.Event{Kind: fetcher.EventDispatchStalled, Height: fe.Height, Err: fe})
		return err
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		o.log.Info("orchestrator stopped")
		return nil
	}
	return err
}

// produce plans ranges up to the finalized height and enqueues them. A flush invalidates the
// plan in flight; the range is then re-planned from the reset height.
func (o *Orchestrator) produce(ctx context.Context) error {
	for {
		finalized, err := o.pollFinalized(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := o.wait(ctx, o.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		o.mu.Lock()
		from := o.next
		epoch := o.deps.Dispatcher.Epoch()
		o.mu.Unlock()

		if from > finalized {
			o.setMode(fetcher.ModeLive)
			if err := o.wait(ctx, o.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		to := min(finalized, from+o.cfg.BatchSize-1)
		if finalized-from >= o.cfg.BatchSize {
			o.setMode(fetcher.ModeBackfill)
		} else {
			o.setMode(fetcher.ModeLive)
		}

		tasks := o.deps.Planner.Plan(ctx, from, to, epoch)
		err = o.deps.Dispatcher.Enqueue(ctx, tasks)
		switch {
		case errors.Is(err, dispatcher.ErrStaleEpoch):
			o.log.Debugw("plan invalidated by flush", "from", from, "to", to)
			if err := o.waitReplan(ctx); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		o.mu.Lock()
		if o.deps.Dispatcher.Epoch() == epoch {
			o.next = to + 1
		}
		o.mu.Unlock()

		o.log.Debugw("range enqueued", "from", from, "to", to, "tasks", len(tasks))
	}
}

// pollFinalized reads the finalized height, retrying transient failures with exponential
// backoff. Exhausted retries are logged and returned; the caller polls again later.
func (o *Orchestrator) pollFinalized(ctx context.Context) (uint64, error) {
	backoff := o.cfg.Retry.InitialBackoff.Duration

	var err error
	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		var h uint64
		h, err = o.deps.Source.GetFinalizedHeight(ctx)
		if err == nil {
			o.mu.Lock()
			o.finalized = h
			o.mu.Unlock()
			finalizedHeightSet(h)
			return h, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		finalizedPollFailuresInc()
		if !chain.IsTransient(err) || attempt == o.cfg.Retry.MaxAttempts {
			break
		}

		o.log.Warnw("finalized height poll failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
		if err := sleep(ctx, backoff); err != nil {
			return 0, err
		}
		backoff = min(time.Duration(float64(backoff)*o.cfg.Retry.BackoffMultiplier), o.cfg.Retry.MaxBackoff.Duration)
	}

	o.log.Errorw("finalized height unavailable", "error", err)
	metrics.ErrorsInc(common.ComponentFetcher, "error")
	return 0, err
}

// consume commits results in height order and runs the periodic reorg check between them, so
// every write to the store happens on this goroutine.
func (o *Orchestrator) consume(ctx context.Context) error {
	nextCheck := time.Now().Add(o.cfg.ReorgCheckInterval)
	for {
		wait := time.Until(nextCheck)
		if wait <= 0 {
			if err := o.checkReorg(ctx); err != nil {
				return err
			}
			nextCheck = time.Now().Add(o.cfg.ReorgCheckInterval)
			continue
		}

		nctx, cancel := context.WithTimeout(ctx, wait)
		res, err := o.deps.Dispatcher.Next(nctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}

		if err := o.commit(ctx, res); err != nil {
			return err
		}
	}
}

// commit persists one result. A reorg detected while verifying the block against the tracked
// chain rewinds instead.
func (o *Orchestrator) commit(ctx context.Context, res *dispatcher.ProcessedResult) error {
	start := time.Now()
	rec, err := o.commitTx(ctx, res)
	if err != nil {
		if re, ok := reorg.AsReorg(err); ok {
			o.log.Warnw("reorg detected while committing", "height", res.Height, "details", re.Details)
			return o.handleReorg(ctx, re.FirstReorgBlock)
		}
		return fmt.Errorf("failed to commit height %d: %w", res.Height, err)
	}
	commitDurationLog(time.Since(start))
	metrics.BlockCommitted(res.Skipped)

	o.deps.Dispatcher.Release(res.Height)

	o.mu.Lock()
	o.checkpoint = &store.Checkpoint{Height: res.Height, BlockHash: res.BlockHash}
	o.mu.Unlock()
	checkpointHeightSet(res.Height)

	if len(res.Created) > 0 {
		o.deps.Registry.Register(res.Created...)
		// plans above the creating block lack the new datasources
		o.reset(res.Height + 1)
	}

	o.log.Debugw("checkpoint saved",
		"height", res.Height, "skipped", res.Skipped, "mutations", len(res.Mutations), "root", rec.Root.Hex())
	o.feed.Send(fetcher.Event{
		Kind:      fetcher.EventHeightAdvanced,
		Height:    res.Height,
		BlockHash: res.BlockHash,
		Root:      rec.Root,
	})

	return nil
}

func (o *Orchestrator) commitTx(ctx context.Context, res *dispatcher.ProcessedResult) (*poi.Record, error) {
	batch, err := o.deps.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer batch.Rollback() //nolint:errcheck

	tx := batch.Tx()

	var headers []chain.Header
	if res.Header != nil {
		headers = []chain.Header{*res.Header}
	}
	if err := o.deps.Detector.VerifyChainTx(tx, headers); err != nil {
		return nil, err
	}

	if err := batch.ApplyMutations(res.Height, res.Mutations); err != nil {
		return nil, err
	}
	if err := o.deps.Detector.RecordTx(tx, headers); err != nil {
		return nil, err
	}
	rec, err := o.deps.Ledger.AppendThroughTx(tx, res.Height, res.Digest)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Registry.PersistTx(tx, res.Created); err != nil {
		return nil, err
	}
	if err := batch.SetCheckpoint(res.Height, res.BlockHash); err != nil {
		return nil, err
	}

	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// checkReorg compares the tracked hashes with the chain. Failing to reach the chain only skips
// this check.
func (o *Orchestrator) checkReorg(ctx context.Context) error {
	err := o.deps.Detector.Check(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reorg.ErrReorgTooDeep):
		return err
	}

	if re, ok := reorg.AsReorg(err); ok {
		return o.rewind(ctx, re.FirstReorgBlock)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	o.log.Warnw("reorg check failed", "error", err)
	return nil
}

// handleReorg narrows a reorg noticed at commit time down to the first replaced height.
func (o *Orchestrator) handleReorg(ctx context.Context, suspect uint64) error {
	first := suspect

	err := o.deps.Detector.Check(ctx)
	switch {
	case errors.Is(err, reorg.ErrReorgTooDeep):
		return err
	case err != nil:
		re, ok := reorg.AsReorg(err)
		if !ok {
			return fmt.Errorf("failed to locate reorg: %w", err)
		}
		first = min(first, re.FirstReorgBlock)
	}

	return o.rewind(ctx, first)
}

// rewind discards everything at or above height: buffered results, committed entity versions,
// proof-of-index records, dynamic datasources and tracked hashes. The producer cannot plan until
// the rewind is committed.
func (o *Orchestrator) rewind(ctx context.Context, height uint64) error {
	o.mu.Lock()
	err := o.rewindLocked(ctx, height)
	o.mu.Unlock()
	notify(o.replan)

	if err != nil {
		return err
	}

	o.log.Infow("reorg handled, resuming", "height", height)
	o.feed.Send(fetcher.Event{Kind: fetcher.EventReorgDetected, Height: height})
	return nil
}

func (o *Orchestrator) rewindLocked(ctx context.Context, height uint64) error {
	o.log.Warnw("rewinding", "height", height)

	o.deps.Dispatcher.Flush(height)
	o.next = height
	o.setModeLocked(fetcher.ModeBackfill)

	batch, err := o.deps.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer batch.Rollback() //nolint:errcheck

	tx := batch.Tx()
	if err := batch.RewindTx(height); err != nil {
		return err
	}
	if err := o.deps.Ledger.TruncateTx(tx, height); err != nil {
		return err
	}
	if err := o.deps.Registry.RewindTx(tx, height); err != nil {
		return err
	}
	if err := o.deps.Detector.RewindTx(tx, height); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to commit rewind to %d: %w", height, err)
	}

	o.deps.Registry.Rewind(height)

	cp, err := o.deps.Store.GetCheckpoint(ctx)
	if err != nil {
		return err
	}
	o.checkpoint = cp
	if cp != nil {
		checkpointHeightSet(cp.Height)
	}
	rewindsInc()

	return nil
}

// reset drops planned work at or above height and makes the producer plan from there.
func (o *Orchestrator) reset(height uint64) {
	o.mu.Lock()
	o.deps.Dispatcher.Flush(height)
	o.next = height
	o.mu.Unlock()

	notify(o.replan)
}

func (o *Orchestrator) setMode(mode fetcher.FetchMode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setModeLocked(mode)
}

func (o *Orchestrator) setModeLocked(mode fetcher.FetchMode) {
	if o.mode != mode {
		o.log.Infof("switching fetch mode from %v to %v", o.mode, mode)
		o.mode = mode
	}
}

// wait sleeps for d or until a reset asks for a new plan.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-o.replan:
	}
	return nil
}

func (o *Orchestrator) waitReplan(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.replan:
		return nil
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
