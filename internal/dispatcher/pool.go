package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ProcessorFactory creates the processor of one pool worker. Every worker gets its own so user
// code state is never shared between workers.
type ProcessorFactory func(worker int) (BlockProcessor, error)

type execResult struct {
	res *dispatcher.ProcessedResult
	err error
}

type execJob struct {
	ctx  context.Context
	e    *entry
	base store.Reader
	done chan execResult
}

type worker struct {
	id       int
	proc     BlockProcessor
	jobs     chan execJob
	fetchSem *semaphore.Weighted
	load     int
	log      *logger.Logger
}

// workerPool assigns each task to the least loaded worker, which fetches the block and later
// executes it when it reaches the head of the queue. Fetches run on all workers at once; execution
// runs one height at a time in ascending order, since every block reads the entity state left by
// all lower heights through the overlay. Throughput is therefore bounded by the sum of handler
// time, with fetch latency hidden behind it.
type workerPool struct {
	d       *Dispatcher
	workers []*worker
}

// NewWorkerPool creates a dispatcher with cfg.Workers workers.
func NewWorkerPool(
	cfg config.DispatcherConfig, source chain.DataSource, committed store.Reader, factory ProcessorFactory, log *logger.Logger,
) (*Dispatcher, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker pool needs at least one worker, got %d", cfg.Workers)
	}

	d := newDispatcher(cfg, source, committed, log)
	pool := &workerPool{d: d}

	for i := 0; i < cfg.Workers; i++ {
		proc, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker %d: %w", i, err)
		}
		pool.workers = append(pool.workers, &worker{
			id:       i,
			proc:     proc,
			jobs:     make(chan execJob),
			fetchSem: semaphore.NewWeighted(int64(cfg.FetchConcurrency)),
			log:      log.WithComponent(common.ComponentWorker),
		})
	}

	d.strategy = pool
	return d, nil
}

func (p *workerPool) start(ctx context.Context, g *errgroup.Group) {
	for _, w := range p.workers {
		g.Go(func() error {
			w.run(ctx)
			return nil
		})
	}
}

func (p *workerPool) leastLoaded(exclude int) *worker {
	var best *worker
	for _, w := range p.workers {
		if w.id == exclude && len(p.workers) > 1 {
			continue
		}
		if best == nil || w.load < best.load {
			best = w
		}
	}
	return best
}

func (p *workerPool) assign(e *entry) {
	w := p.leastLoaded(-1)
	e.worker = w.id
	w.load++
	workerLoadSet(w.id, w.load)
}

func (p *workerPool) release(e *entry) {
	w := p.workers[e.worker]
	w.load--
	workerLoadSet(w.id, w.load)
}

// reassign moves a failed task to another worker. The fetched block is kept.
func (p *workerPool) reassign(e *entry) {
	p.release(e)
	w := p.leastLoaded(e.worker)
	e.worker = w.id
	w.load++
	workerLoadSet(w.id, w.load)
}

func (p *workerPool) fetch(ctx context.Context, entries []*entry) {
	p.d.mu.Lock()
	owners := make([]*worker, len(entries))
	for i, e := range entries {
		owners[i] = p.workers[e.worker]
	}
	p.d.mu.Unlock()

	for i, e := range entries {
		w := owners[i]
		batch := []*entry{e}
		p.d.goFetch(func() {
			blocks, err := w.fetch(ctx, p.d, batch)
			p.d.fetched(batch, blocks, err)
		})
	}
}

func (p *workerPool) execute(ctx context.Context, e *entry, base store.Reader) (*dispatcher.ProcessedResult, error) {
	p.d.mu.Lock()
	w := p.workers[e.worker]
	p.d.mu.Unlock()

	job := execJob{ctx: ctx, e: e, base: base, done: make(chan execResult, 1)}
	select {
	case w.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-job.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			res, err := w.execute(job)
			job.done <- execResult{res: res, err: err}
		}
	}
}

// execute runs one block. A panic in the processor is a task failure, not a process crash.
func (w *worker) execute(job execJob) (res *dispatcher.ProcessedResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("worker crashed", "worker", w.id, "height", job.e.task.Height, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("worker %d crashed at height %d: %v", w.id, job.e.task.Height, r)
		}
	}()

	return w.proc.Process(job.ctx, job.e.block, job.base)
}

func (w *worker) fetch(ctx context.Context, d *Dispatcher, batch []*entry) (blocks []*chain.Block, err error) {
	if err := w.fetchSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.fetchSem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			blocks, err = nil, fmt.Errorf("worker %d crashed fetching height %d: %v", w.id, batch[0].task.Height, r)
		}
	}()

	return d.fetchBlocks(ctx, batch)
}
