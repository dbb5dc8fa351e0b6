package dispatcher

import (
	"context"

	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// singleProcess fetches with bounded concurrency, grouping consecutive heights into range
// fetches, and executes every block with one processor.
type singleProcess struct {
	d         *Dispatcher
	proc      BlockProcessor
	fetchSem  *semaphore.Weighted
	batchSize int
}

// NewSingleProcess creates a dispatcher running every block through proc. committed is the
// durable entity store handlers read through.
func NewSingleProcess(
	cfg config.DispatcherConfig, source chain.DataSource, committed store.Reader, proc BlockProcessor, log *logger.Logger,
) *Dispatcher {
	d := newDispatcher(cfg, source, committed, log)
	d.strategy = &singleProcess{
		d:         d,
		proc:      proc,
		fetchSem:  semaphore.NewWeighted(int64(cfg.FetchConcurrency)),
		batchSize: max(cfg.FetchBatchSize, 1),
	}
	return d
}

func (s *singleProcess) start(context.Context, *errgroup.Group) {}

func (s *singleProcess) assign(*entry) {}

func (s *singleProcess) release(*entry) {}

func (s *singleProcess) reassign(*entry) {}

func (s *singleProcess) fetch(ctx context.Context, entries []*entry) {
	for _, batch := range contiguous(entries, s.batchSize) {
		s.d.goFetch(func() {
			if err := s.fetchSem.Acquire(ctx, 1); err != nil {
				s.d.fetched(batch, nil, err)
				return
			}
			defer s.fetchSem.Release(1)

			blocks, err := s.d.fetchBlocks(ctx, batch)
			s.d.fetched(batch, blocks, err)
		})
	}
}

func (s *singleProcess) execute(ctx context.Context, e *entry, base store.Reader) (*dispatcher.ProcessedResult, error) {
	return s.proc.Process(ctx, e.block, base)
}

// contiguous splits ascending entries into runs of consecutive heights of at most size entries.
func contiguous(entries []*entry, size int) [][]*entry {
	var (
		out [][]*entry
		cur []*entry
	)
	for _, e := range entries {
		if len(cur) > 0 && (len(cur) == size || cur[len(cur)-1].task.Height+1 != e.task.Height) {
			out = append(out, cur)
			cur = nil
		}
		cur = append(cur, e)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
