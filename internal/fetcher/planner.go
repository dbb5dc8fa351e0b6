package fetcher

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	internaldict "github.com/goran-ethernal/ChainMapper/internal/dictionary"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
)

// Planner turns a height range into dispatcher tasks. Without a dictionary every height becomes a
// task. With one, only the heights the dictionary reports (plus block handler moduli) are
// fetched and the bounds of the sparse part become skip tasks so the checkpoint can move over
// them.
type Planner struct {
	dict      dictionary.Dictionary
	registry  *dynamicds.Registry
	tolerance uint64
	log       *logger.Logger
	disabled  atomic.Bool
}

// NewPlanner creates a planner. dict may be nil.
func NewPlanner(dict dictionary.Dictionary, registry *dynamicds.Registry, tolerance uint64, log *logger.Logger) *Planner {
	p := &Planner{
		dict:      dict,
		registry:  registry,
		tolerance: tolerance,
		log:       log.WithComponent(common.ComponentFetcher),
	}
	p.disabled.Store(dict == nil)
	return p
}

// Enabled reports whether ranges are planned through the dictionary.
func (p *Planner) Enabled() bool {
	return !p.disabled.Load()
}

// CheckDictionary disables the dictionary for the rest of the run when it indexes a different
// chain. An unreachable dictionary stays enabled; each range falls back on its own.
func (p *Planner) CheckDictionary(ctx context.Context, chainID string) {
	if !p.Enabled() || chainID == "" {
		return
	}

	meta, err := p.dict.GetMetadata(ctx)
	if err != nil {
		p.log.Warnw("dictionary metadata unavailable", "error", err)
		return
	}
	if meta.ChainID != chainID {
		p.log.Warnw("dictionary indexes another chain, disabling it",
			"dictionary_chain_id", meta.ChainID, "chain_id", chainID)
		p.disabled.Store(true)
		return
	}

	p.log.Infow("dictionary enabled", "chain_id", chainID, "dictionary_height", meta.LastProcessedHeight)
}

// Plan returns the tasks of [from, to] in ascending order.
func (p *Planner) Plan(ctx context.Context, from, to, epoch uint64) []dispatcher.Task {
	version := p.registry.Version()
	if !p.Enabled() {
		return p.dense(from, to, epoch, version)
	}

	query, ok := internaldict.BuildQuery(p.registry.ActiveAt(to))
	if !ok {
		dictionaryFallbacksInc("ineligible")
		return p.dense(from, to, epoch, version)
	}

	sparseTo := to
	var heights []uint64
	if len(query.Conditions) > 0 {
		res, err := p.dict.GetSparseHeights(ctx, query.Conditions, from, to)
		if err != nil {
			p.log.Warnw("dictionary request failed, scanning densely", "from", from, "to", to, "error", err)
			dictionaryFallbacksInc("error")
			return p.dense(from, to, epoch, version)
		}

		if res.DictionaryHeight < to {
			if res.DictionaryHeight < from || to-res.DictionaryHeight > p.tolerance {
				p.log.Debugw("dictionary behind range, scanning densely",
					"to", to, "dictionary_height", res.DictionaryHeight)
				dictionaryFallbacksInc("stale")
				return p.dense(from, to, epoch, version)
			}
			sparseTo = res.DictionaryHeight
		}

		for _, h := range res.Heights {
			if h >= from && h <= sparseTo {
				heights = append(heights, h)
			}
		}
	}
	heights = internaldict.Merge(heights, query.LocalHeights(from, sparseTo))

	tasks := make([]dispatcher.Task, 0, len(heights)+2) //nolint:mnd
	if !slices.Contains(heights, from) {
		tasks = append(tasks, p.task(from, true, epoch, version))
	}
	for _, h := range heights {
		tasks = append(tasks, p.task(h, false, epoch, version))
	}
	if sparseTo != from && !slices.Contains(heights, sparseTo) {
		tasks = append(tasks, p.task(sparseTo, true, epoch, version))
	}
	plannedTasksAdd("sparse", len(heights))
	plannedTasksAdd("skip", len(tasks)-len(heights))

	if sparseTo < to {
		tasks = append(tasks, p.dense(sparseTo+1, to, epoch, version)...)
	}

	p.log.Debugw("planned sparse range", "from", from, "to", to, "sparse_to", sparseTo, "fetch", len(heights))
	return tasks
}

func (p *Planner) dense(from, to, epoch, version uint64) []dispatcher.Task {
	tasks := make([]dispatcher.Task, 0, to-from+1)
	for h := from; h <= to; h++ {
		tasks = append(tasks, p.task(h, false, epoch, version))
	}
	plannedTasksAdd("dense", len(tasks))
	return tasks
}

func (p *Planner) task(h uint64, skip bool, epoch, version uint64) dispatcher.Task {
	return dispatcher.Task{
		Height:      h,
		Skip:        skip,
		Datasources: p.registry.ActiveAt(h),
		Version:     version,
		Epoch:       epoch,
	}
}
