package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/config"
	"github.com/goran-ethernal/ChainMapper/internal/db"
	"github.com/goran-ethernal/ChainMapper/internal/dictionary"
	internaldispatcher "github.com/goran-ethernal/ChainMapper/internal/dispatcher"
	"github.com/goran-ethernal/ChainMapper/internal/dynamicds"
	"github.com/goran-ethernal/ChainMapper/internal/fetcher"
	"github.com/goran-ethernal/ChainMapper/internal/indexer"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/internal/metrics"
	"github.com/goran-ethernal/ChainMapper/internal/migrations"
	"github.com/goran-ethernal/ChainMapper/internal/poi"
	"github.com/goran-ethernal/ChainMapper/internal/reorg"
	"github.com/goran-ethernal/ChainMapper/internal/rpc"
	"github.com/goran-ethernal/ChainMapper/internal/sandbox"
	"github.com/goran-ethernal/ChainMapper/internal/store"
	"github.com/goran-ethernal/ChainMapper/pkg/api"
	"github.com/goran-ethernal/ChainMapper/pkg/chain"
	pkgconfig "github.com/goran-ethernal/ChainMapper/pkg/config"
	pkgdictionary "github.com/goran-ethernal/ChainMapper/pkg/dictionary"
	"github.com/goran-ethernal/ChainMapper/pkg/dispatcher"
	pkgfetcher "github.com/goran-ethernal/ChainMapper/pkg/fetcher"
	"github.com/goran-ethernal/ChainMapper/pkg/project"
	"github.com/spf13/cobra"
)

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("workers") {
		cfg.Dispatcher.Workers = workers
		if err := cfg.Dispatcher.Validate(); err != nil {
			return fmt.Errorf("invalid --workers: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	componentLog := func(component string) *logger.Logger {
		return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
	}
	log := componentLog(common.ComponentFetcher)

	p, err := project.Load(cfg.Project.Manifest)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	log.Infof("Loaded project %s with %d datasource(s) and %d template(s)",
		p.Manifest.Name, len(p.Manifest.DataSources), len(p.Manifest.Templates))

	log.Info("Connecting to chain endpoint...")
	source, err := rpc.NewClient(ctx, cfg.Network, componentLog("rpc"))
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer source.Close()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, componentLog("metrics"))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("Running database migrations...")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer database.Close()

	st := store.New(database, cfg.Reorg.Depth, componentLog(common.ComponentStore))
	ledger := poi.NewLedger(database, componentLog(common.ComponentPOI))

	maintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		database,
		cfg.Maintenance,
		componentLog(common.ComponentMaintenance),
		st, ledger.Pruner(),
	)
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer maintenance.Stop() //nolint:errcheck
	st.SetMaintenance(maintenance)

	registry := dynamicds.New(p.Manifest, componentLog(common.ComponentRegistry))
	if err := registry.Load(ctx, database); err != nil {
		return fmt.Errorf("failed to load dynamic datasources: %w", err)
	}

	detector := reorg.NewReorgDetector(database, source, cfg.Reorg.Depth,
		componentLog(common.ComponentReorgDetector), maintenance)

	d, err := newDispatcher(cfg, p, registry, source, st, componentLog(common.ComponentDispatcher))
	if err != nil {
		return err
	}

	planner := newPlanner(ctx, cfg, p, registry, source.ChainID(), componentLog(common.ComponentDictionary))

	orch, err := fetcher.NewOrchestrator(fetcher.NewConfig(cfg), fetcher.Deps{
		Source:     source,
		Store:      st,
		Ledger:     ledger,
		Registry:   registry,
		Detector:   detector,
		Dispatcher: d,
		Planner:    planner,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if err := orch.Init(ctx, p.StartHeight()); err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	events := make(chan pkgfetcher.Event, 64) //nolint:mnd
	sub := orch.Subscribe(events)
	defer sub.Unsubscribe()
	go logEvents(events, sub.Err(), log)

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, api.Backend{
			Status:      orch,
			Ledger:      ledger,
			Datasources: registry,
			Entities:    st,
		}, componentLog(common.ComponentAPI))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	log.Infof("Starting ChainMapper (workers: %d)...", cfg.Dispatcher.Workers)

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("indexing stopped: %w", err)
	}

	log.Info("ChainMapper stopped successfully")
	return nil
}

// newDispatcher builds the single-process dispatcher, or a worker pool when workers are configured.
// Every worker gets its own sandbox executor.
func newDispatcher(
	cfg *pkgconfig.Config,
	p *project.Project,
	registry *dynamicds.Registry,
	source chain.DataSource,
	committed *store.Store,
	log *logger.Logger,
) (dispatcher.Dispatcher, error) {
	sandboxLog := logger.NewComponentLoggerFromConfig(common.ComponentSandbox, cfg.Logging)
	managerLog := logger.NewComponentLoggerFromConfig(common.ComponentIndexer, cfg.Logging)

	newProcessor := func(int) (internaldispatcher.BlockProcessor, error) {
		executor, err := sandbox.NewExecutor(cfg.Sandbox, p, sandboxLog)
		if err != nil {
			return nil, fmt.Errorf("failed to create sandbox executor: %w", err)
		}
		return indexer.NewManager(registry, executor, managerLog), nil
	}

	if cfg.Dispatcher.Workers > 0 {
		pool, err := internaldispatcher.NewWorkerPool(cfg.Dispatcher, source, committed, newProcessor, log)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}

	proc, err := newProcessor(0)
	if err != nil {
		return nil, err
	}
	return internaldispatcher.NewSingleProcess(cfg.Dispatcher, source, committed, proc, log), nil
}

// newPlanner wires the dictionary from the configuration, or from the manifest's network section
// when the configuration has none.
func newPlanner(
	ctx context.Context,
	cfg *pkgconfig.Config,
	p *project.Project,
	registry *dynamicds.Registry,
	endpointChainID uint64,
	log *logger.Logger,
) *fetcher.Planner {
	dictCfg := cfg.Dictionary
	if !dictCfg.Enabled() && p.Manifest.Network.Dictionary != "" {
		dictCfg = &pkgconfig.DictionaryConfig{URL: p.Manifest.Network.Dictionary}
		dictCfg.ApplyDefaults()
	}

	var (
		dict      pkgdictionary.Dictionary
		tolerance uint64
	)
	if dictCfg.Enabled() {
		dict = dictionary.NewClient(dictCfg, log)
		tolerance = dictCfg.StalenessTolerance
		log.Infof("Dictionary configured at %s", dictCfg.URL)
	}

	planner := fetcher.NewPlanner(dict, registry, tolerance, log)

	chainID := p.Manifest.Network.ChainID
	if chainID == "" {
		chainID = strconv.FormatUint(endpointChainID, 10)
	}
	planner.CheckDictionary(ctx, chainID)

	return planner
}

func logEvents(events <-chan pkgfetcher.Event, done <-chan error, log *logger.Logger) {
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case pkgfetcher.EventHeightAdvanced:
				log.Debugw("height advanced", "height", ev.Height, "block_hash", ev.BlockHash.Hex(), "root", ev.Root.Hex())
			case pkgfetcher.EventReorgDetected:
				log.Warnw("reorg handled", "rewound_to", ev.Height)
			case pkgfetcher.EventDispatchStalled:
				log.Errorw("dispatch stalled", "height", ev.Height, "error", ev.Err)
			}
		case <-done:
			return
		}
	}
}
