package fetcher

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/ChainMapper/internal/chaintest"
	internalcommon "github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/dbtest"
	dictmocks "github.com/goran-ethernal/ChainMapper/internal/dictionary/mocks"
	internaldispatcher "github.com/goran-ethernal/ChainMapper/internal/dispatcher"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/indexer"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	"github.com/goran-ethernal/ChainMapper/internal/projecttest"
	internalreorg "github.com/goran-ethernal/ChainMapper/internal/reorg"
	"github.com/goran-ethernal/ChainMapper/internal/sandbox"
	internalstore "github.com/goran-ethernal/ChainMapper/internal/store"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	"github.com/goran-ethernal/ChainMapper/pkg/fetcher"
	"github.com/goran-ethernal/ChainMapper/pkg/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	token   = "0x00000000000000000000000000000000000000aa"
	other   = "0x00000000000000000000000000000000000000cc"
	factory = "0x00000000000000000000000000000000000000f0"
	pair    = "0x00000000000000000000000000000000000000bb"
)

var (
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	approvalTopic = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	createdTopic  = crypto.Keccak256Hash([]byte("PairCreated(address)"))
	swapTopic     = crypto.Keccak256Hash([]byte("Swap()"))
)

const counterManifest = `
specVersion: 1.0.0
name: counter
dataSources:
  - kind: ethereum/Runtime
    startBlock: 1
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/BlockHandler
          handler: handleBlock
`

const counterMapping = `
exports.handleBlock = function(block) {
  const c = store.get("Counter", "blocks") || { value: 0, last: 0 };
  c.value += 1;
  c.last = block.number;
  store.set("Counter", "blocks", c);
};
`

const transferManifest = `
specVersion: 1.0.0
name: transfers
dataSources:
  - kind: ethereum/Runtime
    startBlock: 1
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/LogHandler
          handler: handleTransfer
          filter:
            topics: ["Transfer(address,address,uint256)"]
    options:
      address: "` + token + `"
`

const transferMapping = `
exports.handleTransfer = function(log) {
  const c = store.get("Counter", "transfers") || { value: 0 };
  c.value += 1;
  store.set("Counter", "transfers", c);
  store.set("Transfer", log.blockNumber + "-" + log.logIndex, { block: log.blockNumber });
};
`

const factoryManifest = `
specVersion: 1.0.0
name: factory
dataSources:
  - kind: ethereum/Runtime
    startBlock: 1
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/LogHandler
          handler: handlePairCreated
          filter:
            topics: ["PairCreated(address)"]
    options:
      address: "` + factory + `"
templates:
  - name: Pair
    kind: ethereum/Runtime
    mapping:
      file: ./dist/index.js
      handlers:
        - kind: ethereum/LogHandler
          handler: handleSwap
          filter:
            topics: ["Swap()"]
`

const factoryMapping = `
exports.handlePairCreated = function(log) {
  createDynamicDatasource("Pair", { address: "` + pair + `" });
  store.set("Pair", "` + pair + `", { created: log.blockNumber });
};
exports.handleSwap = function(log) {
  const p = store.get("Pair", "` + pair + `");
  p.swaps = (p.swaps || 0) + 1;
  p.lastSwap = log.blockNumber;
  store.set("Pair", "` + pair + `", p);
};
`

type harness struct {
	t        *testing.T
	chain    *chaintest.FakeChain
	db       *sql.DB
	store    *internalstore.Store
	ledger   *poi.Ledger
	registry *dynamicds.Registry
	orch     *Orchestrator

	events chan fetcher.Event
	cancel context.CancelFunc
	done   chan error
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	workers    int
	dict       dictionary.Dictionary
	db         *sql.DB
	maxRetries int
	fetchBatch int
	wrap       func(internaldispatcher.BlockProcessor) internaldispatcher.BlockProcessor
}

func withWorkers(n int) harnessOption {
	return func(c *harnessConfig) { c.workers = n }
}

func withDictionary(d dictionary.Dictionary) harnessOption {
	return func(c *harnessConfig) { c.dict = d }
}

func withDB(database *sql.DB) harnessOption {
	return func(c *harnessConfig) { c.db = database }
}

func withMaxRetries(n int) harnessOption {
	return func(c *harnessConfig) { c.maxRetries = n }
}

func withFetchBatchSize(n int) harnessOption {
	return func(c *harnessConfig) { c.fetchBatch = n }
}

func withProcessorWrap(wrap func(internaldispatcher.BlockProcessor) internaldispatcher.BlockProcessor) harnessOption {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func newHarness(t *testing.T, manifest, mapping string, fc *chaintest.FakeChain, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{maxRetries: 3, fetchBatch: 4}
	for _, opt := range opts {
		opt(&hc)
	}
	if hc.wrap == nil {
		hc.wrap = func(p internaldispatcher.BlockProcessor) internaldispatcher.BlockProcessor { return p }
	}

	log := logger.NewNopLogger()
	ctx := context.Background()

	database := hc.db
	if database == nil {
		database = dbtest.NewTestDB(t, "orchestrator.sqlite")
	}

	p := projecttest.Load(t, map[string]string{
		"project.yaml":  manifest,
		"dist/index.js": mapping,
	})

	registry := dynamicds.New(p.Manifest, log)
	require.NoError(t, registry.Load(ctx, database))

	st := internalstore.New(database, 64, log)
	ledger := poi.NewLedger(database, log)
	detector := internalreorg.NewReorgDetector(database, fc, 64, log, nil)

	sandboxCfg := config.SandboxConfig{}
	sandboxCfg.ApplyDefaults()

	dispatcherCfg := config.DispatcherConfig{
		Workers: hc.workers, MaxQueueSize: 16, FetchConcurrency: 4, FetchBatchSize: hc.fetchBatch,
	}
	dispatcherCfg.ApplyDefaults()
	dispatcherCfg.MaxTaskRetries = hc.maxRetries

	var d dispatcher.Dispatcher
	if hc.workers == 0 {
		executor, err := sandbox.NewExecutor(sandboxCfg, p, log)
		require.NoError(t, err)
		d = internaldispatcher.NewSingleProcess(dispatcherCfg, fc, st, hc.wrap(indexer.NewManager(registry, executor, log)), log)
	} else {
		pool, err := internaldispatcher.NewWorkerPool(dispatcherCfg, fc, st,
			func(int) (internaldispatcher.BlockProcessor, error) {
				executor, err := sandbox.NewExecutor(sandboxCfg, p, log)
				if err != nil {
					return nil, err
				}
				return hc.wrap(indexer.NewManager(registry, executor, log)), nil
			}, log)
		require.NoError(t, err)
		d = pool
	}

	cfg := Config{
		BatchSize:          10,
		PollInterval:       10 * time.Millisecond,
		ReorgCheckInterval: 50 * time.Millisecond,
		Retry: config.RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    internalcommon.NewDuration(time.Millisecond),
			MaxBackoff:        internalcommon.NewDuration(5 * time.Millisecond),
			BackoffMultiplier: 2,
		},
	}

	orch, err := NewOrchestrator(cfg, Deps{
		Source:     fc,
		Store:      st,
		Ledger:     ledger,
		Registry:   registry,
		Detector:   detector,
		Dispatcher: d,
		Planner:    NewPlanner(hc.dict, registry, 1000, log),
	}, log)
	require.NoError(t, err)
	require.NoError(t, orch.Init(ctx, p.StartHeight()))

	h := &harness{
		t:        t,
		chain:    fc,
		db:       database,
		store:    st,
		ledger:   ledger,
		registry: registry,
		orch:     orch,
		events:   make(chan fetcher.Event, 1024),
	}
	sub := orch.Subscribe(h.events)
	t.Cleanup(sub.Unsubscribe)

	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.orch.Run(ctx) }()
	h.t.Cleanup(cancel)
}

func (h *harness) stop() {
	h.t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(h.t, err)
	case <-time.After(5 * time.Second):
		h.t.Fatal("orchestrator did not stop")
	}
}

func (h *harness) waitForCheckpoint(height uint64) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		s := h.orch.Status()
		return s.HasProcessed && s.LastProcessed == height
	}, 15*time.Second, 5*time.Millisecond, "checkpoint never reached %d", height)
}

func (h *harness) entity(entity, id string) map[string]any {
	h.t.Helper()
	data, ok, err := h.store.Get(context.Background(), entity, id)
	require.NoError(h.t, err)
	require.True(h.t, ok, "%s/%s missing", entity, id)
	return data
}

func (h *harness) lastRecord() *poi.Record {
	h.t.Helper()
	rec, err := h.ledger.Last(context.Background())
	require.NoError(h.t, err)
	require.NotNil(h.t, rec)
	return rec
}

func logsAt(address string, topic common.Hash, heights ...uint64) chaintest.ContentFunc {
	set := make(map[uint64]bool, len(heights))
	for _, h := range heights {
		set[h] = true
	}
	return func(h uint64) ([]*chain.Transaction, []*chain.Log) {
		if !set[h] {
			return nil, nil
		}
		return nil, []*chain.Log{{Address: common.HexToAddress(address), Topics: []common.Hash{topic}}}
	}
}

func TestOrchestrator_DenseCounter(t *testing.T) {
	h := newHarness(t, counterManifest, counterMapping, chaintest.New(5))
	h.start()
	h.waitForCheckpoint(5)
	h.stop()

	counter := h.entity("Counter", "blocks")
	require.Equal(t, float64(5), counter["value"])
	require.Equal(t, float64(5), counter["last"])

	cp, err := h.store.GetCheckpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), cp.Height)
	require.Equal(t, h.chain.Block(5).Hash, cp.BlockHash)

	rec := h.lastRecord()
	require.Equal(t, uint64(5), rec.Height)
	require.Equal(t, uint64(4), rec.LeafIndex)

	var advanced []uint64
	for len(h.events) > 0 {
		ev := <-h.events
		require.Equal(t, fetcher.EventHeightAdvanced, ev.Kind)
		advanced = append(advanced, ev.Height)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, advanced)
}

func TestOrchestrator_SparseSkipsFetches(t *testing.T) {
	fc := chaintest.New(5, chaintest.WithContent(logsAt(token, transferTopic, 2, 4)))

	dict := dictmocks.NewDictionary(t)
	dict.EXPECT().GetSparseHeights(mock.Anything, mock.Anything, uint64(1), uint64(5)).
		Return(&dictionary.Result{Heights: []uint64{2, 4}, DictionaryHeight: 5}, nil)

	h := newHarness(t, transferManifest, transferMapping, fc, withDictionary(dict))
	h.start()
	h.waitForCheckpoint(5)
	h.stop()

	require.Equal(t, map[uint64]int{2: 1, 4: 1}, fc.FetchedHeights())
	require.Equal(t, float64(2), h.entity("Counter", "transfers")["value"])

	sparse := h.lastRecord()
	require.Equal(t, uint64(4), sparse.LeafIndex)

	// the dense run over the same chain ends with the same proof-of-index root
	dense := newHarness(t, transferManifest, transferMapping,
		chaintest.New(5, chaintest.WithContent(logsAt(token, transferTopic, 2, 4))))
	dense.start()
	dense.waitForCheckpoint(5)
	dense.stop()

	require.Equal(t, dense.lastRecord().Root, sparse.Root)
}

func TestOrchestrator_WorkerPoolCounter(t *testing.T) {
	fc := chaintest.New(100, chaintest.WithLatency(3*time.Millisecond, 7))

	h := newHarness(t, counterManifest, counterMapping, fc, withWorkers(4))
	h.start()
	h.waitForCheckpoint(100)
	h.stop()

	// every block read the value its predecessor wrote, committed or not
	require.Equal(t, float64(100), h.entity("Counter", "blocks")["value"])
	for height := uint64(1); height <= 100; height++ {
		require.Equal(t, 1, fc.FetchCount(height), "height %d", height)
	}

	single := newHarness(t, counterManifest, counterMapping, chaintest.New(100))
	single.start()
	single.waitForCheckpoint(100)
	single.stop()

	require.Equal(t, single.lastRecord().Root, h.lastRecord().Root)
}

// crashingProcessor panics on the first execution of selected heights, either before running the
// handlers or after running them with the result discarded.
type crashingProcessor struct {
	next   internaldispatcher.BlockProcessor
	before map[uint64]bool
	after  map[uint64]bool

	mu      *sync.Mutex
	crashed map[uint64]bool
}

func (p *crashingProcessor) crashOnce(height uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.crashed[height] {
		return false
	}
	p.crashed[height] = true
	return true
}

func (p *crashingProcessor) Process(
	ctx context.Context, block *chain.Block, base store.Reader,
) (*dispatcher.ProcessedResult, error) {
	if p.before[block.Height] && p.crashOnce(block.Height) {
		panic(fmt.Sprintf("crash before height %d", block.Height))
	}
	res, err := p.next.Process(ctx, block, base)
	if err == nil && p.after[block.Height] && p.crashOnce(block.Height) {
		panic(fmt.Sprintf("crash after height %d", block.Height))
	}
	return res, err
}

func TestOrchestrator_WorkerCrashesKeepCheckpointConsistent(t *testing.T) {
	fc := chaintest.New(60, chaintest.WithLatency(time.Millisecond, 3))

	// crashes are shared by every worker, so each height crashes exactly once
	var mu sync.Mutex
	crashed := make(map[uint64]bool)
	wrap := func(next internaldispatcher.BlockProcessor) internaldispatcher.BlockProcessor {
		return &crashingProcessor{
			next:    next,
			before:  map[uint64]bool{5: true, 17: true, 33: true, 48: true},
			after:   map[uint64]bool{9: true, 26: true, 41: true, 59: true},
			mu:      &mu,
			crashed: crashed,
		}
	}

	h := newHarness(t, counterManifest, counterMapping, fc, withWorkers(4), withProcessorWrap(wrap))

	// whatever the checkpoint says must already be readable: its ledger record and the entity
	// state it covers
	var (
		violationsMu sync.Mutex
		violations   []string
		observed     int
	)
	violate := func(format string, args ...any) {
		violationsMu.Lock()
		violations = append(violations, fmt.Sprintf(format, args...))
		violationsMu.Unlock()
	}

	pollDone := make(chan struct{})
	stopPolling := make(chan struct{})
	go func() {
		defer close(pollDone)
		ctx := context.Background()
		var last uint64
		for {
			select {
			case <-stopPolling:
				return
			default:
			}

			cp, err := h.store.GetCheckpoint(ctx)
			if err != nil {
				violate("checkpoint: %v", err)
				return
			}
			if cp != nil {
				observed++
				if cp.Height < last {
					violate("checkpoint moved back from %d to %d", last, cp.Height)
				}
				last = cp.Height

				rec, err := h.ledger.RecordAt(ctx, cp.Height)
				if err != nil {
					violate("record at checkpoint %d: %v", cp.Height, err)
				} else if rec.Height != cp.Height {
					violate("record height %d at checkpoint %d", rec.Height, cp.Height)
				}

				data, ok, err := h.store.Get(ctx, "Counter", "blocks")
				switch {
				case err != nil:
					violate("counter at checkpoint %d: %v", cp.Height, err)
				case !ok:
					violate("counter missing at checkpoint %d", cp.Height)
				case data["last"].(float64) < float64(cp.Height):
					violate("counter at %v behind checkpoint %d", data["last"], cp.Height)
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	h.start()
	h.waitForCheckpoint(60)
	h.stop()
	close(stopPolling)
	<-pollDone

	require.Empty(t, violations)
	require.Positive(t, observed)

	mu.Lock()
	require.Len(t, crashed, 8)
	mu.Unlock()

	require.Equal(t, float64(60), h.entity("Counter", "blocks")["value"])
	require.Equal(t, float64(60), h.entity("Counter", "blocks")["last"])

	clean := newHarness(t, counterManifest, counterMapping, chaintest.New(60))
	clean.start()
	clean.waitForCheckpoint(60)
	clean.stop()

	require.Equal(t, clean.lastRecord().Root, h.lastRecord().Root)
	require.Equal(t, clean.lastRecord().LeafIndex, h.lastRecord().LeafIndex)
}

func TestOrchestrator_ReorgRewinds(t *testing.T) {
	fc := chaintest.New(10)

	h := newHarness(t, counterManifest, counterMapping, fc)
	h.start()
	h.waitForCheckpoint(10)

	fc.Fork(8)
	fc.Extend(2)

	require.Eventually(t, func() bool {
		cp, err := h.store.GetCheckpoint(context.Background())
		return err == nil && cp != nil && cp.Height == 12 && cp.BlockHash == fc.Block(12).Hash
	}, 15*time.Second, 5*time.Millisecond)
	h.stop()

	require.Equal(t, float64(12), h.entity("Counter", "blocks")["value"])
	require.Equal(t, 2, fc.FetchCount(8), "rewound height is fetched again")
	require.Equal(t, 1, fc.FetchCount(7))

	var rewound []uint64
	for len(h.events) > 0 {
		if ev := <-h.events; ev.Kind == fetcher.EventReorgDetected {
			rewound = append(rewound, ev.Height)
		}
	}
	require.Equal(t, []uint64{8}, rewound)

	// the rewound ledger matches a run that only ever saw the new branch
	fresh := newHarness(t, counterManifest, counterMapping, fc)
	fresh.start()
	fresh.waitForCheckpoint(12)
	fresh.stop()
	require.Equal(t, fresh.lastRecord().Root, h.lastRecord().Root)
}

func TestOrchestrator_DynamicDatasourcesReplay(t *testing.T) {
	content := func(h uint64) ([]*chain.Transaction, []*chain.Log) {
		switch h {
		case 2, 7:
			return nil, []*chain.Log{{Address: common.HexToAddress(pair), Topics: []common.Hash{swapTopic}}}
		case 3:
			return nil, []*chain.Log{
				{Index: 0, Address: common.HexToAddress(factory), Topics: []common.Hash{createdTopic}},
				{Index: 1, Address: common.HexToAddress(pair), Topics: []common.Hash{swapTopic}},
			}
		}
		return nil, nil
	}

	fc := chaintest.New(5, chaintest.WithContent(content))
	database := dbtest.NewTestDB(t, "dynamic.sqlite")

	first := newHarness(t, factoryManifest, factoryMapping, fc, withDB(database))
	first.start()
	first.waitForCheckpoint(5)
	first.stop()

	// the swap at 2 predates the pair, the one at 3 follows its creation in the same block
	p := first.entity("Pair", pair)
	require.Equal(t, float64(3), p["created"])
	require.Equal(t, float64(1), p["swaps"])
	require.Len(t, first.registry.Dynamic(), 1)

	// a restarted indexer reloads the datasource and keeps handling its events
	fc.Extend(3)
	second := newHarness(t, factoryManifest, factoryMapping, fc, withDB(database))
	require.Len(t, second.registry.Dynamic(), 1)
	require.Equal(t, first.registry.ActiveAt(5), second.registry.ActiveAt(5))

	second.start()
	second.waitForCheckpoint(8)
	second.stop()

	p = second.entity("Pair", pair)
	require.Equal(t, float64(2), p["swaps"])
	require.Equal(t, float64(7), p["lastSwap"])

	// replaying from genesis reproduces the same state
	replay := newHarness(t, factoryManifest, factoryMapping, fc)
	replay.start()
	replay.waitForCheckpoint(8)
	replay.stop()

	require.Equal(t, second.lastRecord().Root, replay.lastRecord().Root)
	require.Equal(t, second.registry.ActiveAt(8), replay.registry.ActiveAt(8))
}

func TestOrchestrator_DynamicDatasourcesRequerySparse(t *testing.T) {
	content := func(h uint64) ([]*chain.Transaction, []*chain.Log) {
		switch h {
		case 3:
			return nil, []*chain.Log{{Address: common.HexToAddress(factory), Topics: []common.Hash{createdTopic}}}
		case 2, 8:
			return nil, []*chain.Log{{Address: common.HexToAddress(pair), Topics: []common.Hash{swapTopic}}}
		}
		return nil, nil
	}
	fc := chaintest.New(10, chaintest.WithContent(content))
	dict := newChainDictionary(fc)

	h := newHarness(t, factoryManifest, factoryMapping, fc, withDictionary(dict))
	h.start()
	h.waitForCheckpoint(10)
	h.stop()

	p := h.entity("Pair", pair)
	require.Equal(t, float64(1), p["swaps"])
	require.Equal(t, float64(8), p["lastSwap"])
	require.Equal(t, map[uint64]int{3: 1, 8: 1}, fc.FetchedHeights())
	require.GreaterOrEqual(t, dict.Calls(), 2, "the range after the creating block is queried again")
}

func TestOrchestrator_StallsAfterRetries(t *testing.T) {
	fc := chaintest.New(5)
	fc.FailFetch(3, 100)

	// single-height fetches keep the failure confined to height 3
	h := newHarness(t, counterManifest, counterMapping, fc, withMaxRetries(1), withFetchBatchSize(1))
	h.start()

	select {
	case err := <-h.done:
		fe, ok := dispatcher.AsFatal(err)
		require.True(t, ok, "unexpected error %v", err)
		require.Equal(t, uint64(3), fe.Height)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not stall")
	}

	s := h.orch.Status()
	require.True(t, s.Stalled)
	require.Equal(t, uint64(2), s.LastProcessed)

	var stalled bool
	for len(h.events) > 0 {
		if ev := <-h.events; ev.Kind == fetcher.EventDispatchStalled {
			stalled = true
			require.Equal(t, uint64(3), ev.Height)
		}
	}
	require.True(t, stalled)
}

func TestOrchestrator_FinalizedPollRetries(t *testing.T) {
	fc := chaintest.New(3)
	fc.FailFinalized(3)

	h := newHarness(t, counterManifest, counterMapping, fc)
	h.start()
	h.waitForCheckpoint(3)
	h.stop()

	require.Equal(t, fetcher.ModeLive, h.orch.Status().Mode)
}

func TestOrchestrator_InitResumesFromCheckpoint(t *testing.T) {
	fc := chaintest.New(4)
	database := dbtest.NewTestDB(t, "resume.sqlite")

	first := newHarness(t, counterManifest, counterMapping, fc, withDB(database))
	first.start()
	first.waitForCheckpoint(4)
	first.stop()

	fc.Extend(2)
	second := newHarness(t, counterManifest, counterMapping, fc, withDB(database))
	require.Equal(t, uint64(5), second.orch.Status().NextHeight)

	second.start()
	second.waitForCheckpoint(6)
	second.stop()

	require.Equal(t, float64(6), second.entity("Counter", "blocks")["value"])
	require.Equal(t, 1, fc.FetchCount(4))
}

// TestOrchestrator_SparseMatchesDense runs random filter sets over random chains through both
// paths. Heights the dictionary omits must not change the indexed state or the ledger.
func TestOrchestrator_SparseMatchesDense(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rnd := rand.New(rand.NewSource(seed)) //nolint:gosec
			manifest, mapping := randomProject(rnd)
			content := randomContent(seed)

			sparseChain := chaintest.New(40, chaintest.WithContent(content))
			sparse := newHarness(t, manifest, mapping, sparseChain, withDictionary(newChainDictionary(sparseChain)))
			sparse.start()
			sparse.waitForCheckpoint(40)
			sparse.stop()

			denseChain := chaintest.New(40, chaintest.WithContent(content))
			dense := newHarness(t, manifest, mapping, denseChain)
			dense.start()
			dense.waitForCheckpoint(40)
			dense.stop()

			require.Equal(t, dense.lastRecord().Root, sparse.lastRecord().Root)
			require.LessOrEqual(t, sparseChain.TotalFetches(), denseChain.TotalFetches())

			hits, err := dense.store.List(context.Background(), "Hit", 1000)
			require.NoError(t, err)
			sparseHits, err := sparse.store.List(context.Background(), "Hit", 1000)
			require.NoError(t, err)
			require.Equal(t, hits, sparseHits)
		})
	}
}

func randomProject(rnd *rand.Rand) (string, string) {
	addresses := []string{token, other, ""}
	topics := []string{"Transfer(address,address,uint256)", "Approval(address,address,uint256)"}
	functions := []string{"transfer(address,uint256)", "approve(address,uint256)", ""}

	var b strings.Builder
	b.WriteString("specVersion: 1.0.0\nname: differential\ndataSources:\n")

	for ds := 0; ds < 1+rnd.Intn(2); ds++ {
		b.WriteString("  - kind: ethereum/Runtime\n    startBlock: 1\n    mapping:\n      file: ./dist/index.js\n      handlers:\n")
		for i := 0; i < 1+rnd.Intn(3); i++ {
			var kind, handler string
			var filter []string
			switch rnd.Intn(3) {
			case 0:
				kind, handler = "ethereum/LogHandler", "handleLog"
				filter = append(filter, fmt.Sprintf("topics: [%q]", topics[rnd.Intn(len(topics))]))
				if a := addresses[rnd.Intn(len(addresses))]; a != "" {
					filter = append(filter, fmt.Sprintf("address: %q", a))
				}
			case 1:
				kind, handler = "ethereum/TransactionHandler", "handleTx"
				if f := functions[rnd.Intn(len(functions))]; f != "" {
					filter = append(filter, fmt.Sprintf("function: %q", f))
				}
				if a := addresses[rnd.Intn(len(addresses))]; a != "" {
					filter = append(filter, fmt.Sprintf("to: %q", a))
				}
			default:
				kind, handler = "ethereum/BlockHandler", "handleBlock"
				filter = append(filter, fmt.Sprintf("modulo: %d", 3+rnd.Intn(5)))
			}

			fmt.Fprintf(&b, "        - kind: %s\n          handler: %s\n", kind, handler)
			if len(filter) > 0 {
				b.WriteString("          filter:\n")
				for _, line := range filter {
					fmt.Fprintf(&b, "            %s\n", line)
				}
			}
		}
	}

	mapping := `
function hit(kind, number, index) {
  const id = kind + ":" + number + ":" + index;
  const h = store.get("Hit", id) || { n: 0 };
  h.n += 1;
  store.set("Hit", id, h);
}
exports.handleLog = function(log) { hit("log", log.blockNumber, log.logIndex); };
exports.handleTx = function(tx) { hit("tx", tx.blockNumber, tx.index); };
exports.handleBlock = function(block) { hit("block", block.number, 0); };
`
	return b.String(), mapping
}

func randomContent(seed int64) chaintest.ContentFunc {
	addresses := []common.Address{common.HexToAddress(token), common.HexToAddress(other), common.HexToAddress(pair)}
	topics := []common.Hash{transferTopic, approvalTopic, swapTopic}
	selectors := [][]byte{
		crypto.Keccak256([]byte("transfer(address,uint256)"))[:4],
		crypto.Keccak256([]byte("approve(address,uint256)"))[:4],
		{0xde, 0xad, 0xbe, 0xef},
	}

	return func(h uint64) ([]*chain.Transaction, []*chain.Log) {
		rnd := rand.New(rand.NewSource(seed*1_000_003 + int64(h))) //nolint:gosec
		if rnd.Intn(3) == 0 {
			return nil, nil
		}

		var txs []*chain.Transaction
		for i := 0; i < rnd.Intn(3); i++ {
			to := addresses[rnd.Intn(len(addresses))]
			txs = append(txs, &chain.Transaction{
				Index: uint(i),
				From:  common.HexToAddress("0x0000000000000000000000000000000000000a11"),
				To:    &to,
				Input: append([]byte{}, selectors[rnd.Intn(len(selectors))]...),
			})
		}

		var logs []*chain.Log
		for i := 0; i < rnd.Intn(4); i++ {
			logs = append(logs, &chain.Log{
				Index:   uint(i),
				Address: addresses[rnd.Intn(len(addresses))],
				Topics:  []common.Hash{topics[rnd.Intn(len(topics))]},
			})
		}
		return txs, logs
	}
}

// chainDictionary answers dictionary queries by evaluating conditions against a fake chain.
type chainDictionary struct {
	chain *chaintest.FakeChain

	mu    sync.Mutex
	calls int
}

func newChainDictionary(fc *chaintest.FakeChain) *chainDictionary {
	return &chainDictionary{chain: fc}
}

func (d *chainDictionary) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *chainDictionary) GetMetadata(context.Context) (*dictionary.Metadata, error) {
	return &dictionary.Metadata{ChainID: "test"}, nil
}

func (d *chainDictionary) GetSparseHeights(
	_ context.Context, conditions []dictionary.Condition, lo, hi uint64,
) (*dictionary.Result, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	head, err := d.chain.GetFinalizedHeight(context.Background())
	if err != nil {
		return nil, err
	}

	res := &dictionary.Result{DictionaryHeight: head}
	for h := lo; h <= min(hi, head); h++ {
		if blockMatches(d.chain.Block(h), conditions) {
			res.Heights = append(res.Heights, h)
		}
	}
	return res, nil
}

func blockMatches(b *chain.Block, conditions []dictionary.Condition) bool {
	for _, c := range conditions {
		switch c.Kind {
		case dictionary.ConditionLog:
			for _, l := range b.Logs {
				if logMatches(l, c) {
					return true
				}
			}
		case dictionary.ConditionTransaction:
			for _, tx := range b.Transactions {
				if txMatches(tx, c) {
					return true
				}
			}
		}
	}
	return false
}

func logMatches(l *chain.Log, c dictionary.Condition) bool {
	if c.Address != "" && !strings.EqualFold(c.Address, l.Address.Hex()) {
		return false
	}
	for i, topic := range c.Topics {
		if topic == "" {
			continue
		}
		if i >= len(l.Topics) || !strings.EqualFold(topic, l.Topics[i].Hex()) {
			return false
		}
	}
	return true
}

func txMatches(tx *chain.Transaction, c dictionary.Condition) bool {
	if c.From != "" && !strings.EqualFold(c.From, tx.From.Hex()) {
		return false
	}
	if c.To != "" && (tx.To == nil || !strings.EqualFold(c.To, tx.To.Hex())) {
		return false
	}
	if c.Function != "" && hexutil.Encode(tx.Selector()) != c.Function {
		return false
	}
	return true
}
