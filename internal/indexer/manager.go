// Package indexer runs the mapping handlers of the active datasources against fetched blocks.
package indexer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/metrics"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	"github.com/goran-ethernal/ChainMapper/internal/sandbox"
	internalstore "github.com/goran-ethernal/ChainMapper/internal/store"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

// matcherCacheSize bounds the resolved filters kept per manager. Dynamic datasources sharing a
// template and address share their matchers.
const matcherCacheSize = 4096

// Executor runs mapping handlers and resolves custom datasource processors.
type Executor interface {
	Execute(ctx context.Context, ds *project.Datasource, handler string, height uint64, input any,
		caps sandbox.Capabilities) error
	Processor(ctx context.Context, ds *project.Datasource) (*sandbox.Processor, error)
}

// Manager turns a block into a ProcessedResult. One manager is bound to one executor, so each
// worker owns its own manager.
type Manager struct {
	registry *dynamicds.Registry
	executor Executor
	log      *logger.Logger
	matchers *lru.Cache[matcherKey, *matcher]
}

// matcherKey identifies a resolved filter by everything it is resolved from, so clones of a
// template handler and rewound datasources map onto the same entry.
type matcherKey struct {
	address string
	kind    project.HandlerKind
	filter  string
}

// NewManager creates a manager reading the active datasources from registry.
func NewManager(registry *dynamicds.Registry, executor Executor, log *logger.Logger) *Manager {
	matchers, _ := lru.New[matcherKey, *matcher](matcherCacheSize)
	return &Manager{
		registry: registry,
		executor: executor,
		log:      log,
		matchers: matchers,
	}
}

// invocation is one handler call with its input.
type invocation struct {
	ds      *project.Datasource
	handler *project.Handler
	input   any
}

// Process runs every matching handler of the datasources active at the block height. Handlers
// read entities through base and their writes are returned as the result's mutations.
func (m *Manager) Process(ctx context.Context, block *chain.Block, base store.Reader) (*dispatcher.ProcessedResult, error) {
	writer := internalstore.NewBlockWriter(base)
	inputs := newBlockInputs(block)

	var created []*dynamicds.Entry
	datasources := m.registry.ActiveAt(block.Height)

	caps := sandbox.Capabilities{
		Store:     writer,
		Timestamp: block.Timestamp,
		CreateDatasource: func(template string, args map[string]any) error {
			entry, err := m.registry.Materialize(template, args, block.Height)
			if err != nil {
				return err
			}
			created = append(created, entry)
			// active from the creating block, so it joins this block's iteration
			datasources = append(datasources, entry.Datasource)
			m.log.Infow("dynamic datasource created",
				"template", template, "height", block.Height, "address", entry.Datasource.Address())
			return nil
		},
	}

	invocations := 0
	for i := 0; i < len(datasources); i++ {
		ds := datasources[i]

		calls, err := m.match(ctx, ds, block, inputs)
		if err != nil {
			return nil, fmt.Errorf("datasource %s at height %d: %w", dsName(ds), block.Height, err)
		}

		for _, c := range calls {
			if err := m.executor.Execute(ctx, c.ds, c.handler.Handler, block.Height, c.input, caps); err != nil {
				return nil, err
			}
			metrics.HandlerInvocationsInc(c.handler.Handler)
			invocations++
		}
	}

	muts := writer.Mutations()
	digest := common.Hash{}
	if invocations > 0 {
		canonical, err := internalstore.Canonical(muts)
		if err != nil {
			return nil, fmt.Errorf("encode mutations at height %d: %w", block.Height, err)
		}
		digest = poi.Digest(block.Height, block.Hash, canonical)
	}

	header := block.Header()
	return &dispatcher.ProcessedResult{
		Height:      block.Height,
		BlockHash:   block.Hash,
		Header:      &header,
		Mutations:   muts,
		Digest:      digest,
		Invocations: invocations,
		Created:     created,
	}, nil
}

// match returns the handler calls of ds for block in handler order, then input order.
func (m *Manager) match(ctx context.Context, ds *project.Datasource, block *chain.Block, inputs *blockInputs) ([]invocation, error) {
	var processor *sandbox.Processor
	if !ds.IsRuntime() {
		p, err := m.executor.Processor(ctx, ds)
		if err != nil {
			return nil, err
		}
		processor = p
	}

	var calls []invocation
	for _, h := range ds.Mapping.Handlers {
		kind := h.Kind
		if processor != nil {
			base, err := processor.BaseKind(h.Kind)
			if err != nil {
				return nil, err
			}
			kind = base
		}

		mt, err := m.matcher(ds, h, kind)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.Handler, err)
		}

		var candidates []any
		switch kind {
		case project.KindBlockHandler:
			if mt.matchBlock(block) {
				candidates = append(candidates, inputs.block)
			}
		case project.KindTransactionHandler:
			for i, tx := range block.Transactions {
				if mt.matchTransaction(tx) {
					candidates = append(candidates, inputs.transactions[i])
				}
			}
		case project.KindLogHandler:
			for i, l := range block.Logs {
				if mt.matchLog(l) {
					candidates = append(candidates, inputs.logs[i])
				}
			}
		default:
			return nil, fmt.Errorf("handler %s: unsupported kind %s", h.Handler, kind)
		}

		for _, input := range candidates {
			if processor != nil {
				ok, err := processor.Match(ctx, ds, h, block.Height, input)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				if input, err = processor.Transform(ctx, ds, h, block.Height, input); err != nil {
					return nil, err
				}
			}
			calls = append(calls, invocation{ds: ds, handler: h, input: input})
		}
	}

	return calls, nil
}

func (m *Manager) matcher(ds *project.Datasource, h *project.Handler, kind project.HandlerKind) (*matcher, error) {
	key := matcherKey{address: ds.Address(), kind: kind, filter: fmt.Sprintf("%T%+v", h.Filter, h.Filter)}
	if mt, ok := m.matchers.Get(key); ok {
		return mt, nil
	}
	mt, err := newMatcher(ds, h, kind)
	if err != nil {
		return nil, err
	}
	m.matchers.Add(key, mt)
	return mt, nil
}

func dsName(ds *project.Datasource) string {
	if ds.Name != "" {
		return ds.Name
	}
	if addr := ds.Address(); addr != "" {
		return addr
	}
	return string(ds.Kind)
}
