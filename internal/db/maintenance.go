package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
	"github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/hashicorp/go-multierror"
)

// Pruner drops rows that can no longer be needed, such as entity versions older than the
// reorg window. Pruners run under the exclusive maintenance lock before the WAL checkpoint.
type Pruner interface {
	Name() string
	Prune(ctx context.Context) (int64, error)
}

// Maintenance serialises database housekeeping against regular work. Regular work holds a
// shared operation lock; a maintenance run holds it exclusively.
type Maintenance interface {
	Start(ctx context.Context) error
	Stop() error
	// AcquireOperationLock returns the function that releases the lock.
	AcquireOperationLock() func()
	RunMaintenance(ctx context.Context) error
	Stats() MaintenanceStats
}

// MaintenanceStats describes the runs done so far.
type MaintenanceStats struct {
	LastRun   time.Time
	Runs      uint64
	LastError error
	Pruned    map[string]int64
}

// NoOpMaintenance never runs and never blocks.
type NoOpMaintenance struct{}

func (*NoOpMaintenance) Start(context.Context) error          { return nil }
func (*NoOpMaintenance) Stop() error                          { return nil }
func (*NoOpMaintenance) RunMaintenance(context.Context) error { return nil }
func (*NoOpMaintenance) AcquireOperationLock() func()         { return func() {} }
func (*NoOpMaintenance) Stats() MaintenanceStats              { return MaintenanceStats{} }

// MaintenanceCoordinator periodically prunes history, checkpoints the WAL and vacuums.
type MaintenanceCoordinator struct {
	db      *sql.DB
	config  config.MaintenanceConfig
	dbPath  string
	log     *logger.Logger
	pruners []Pruner

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   MaintenanceStats
}

// NewMaintenanceCoordinator returns a NoOpMaintenance when cfg is nil.
func NewMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
	pruners ...Pruner,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(dbPath, db, *cfg, log, pruners...)
}

func newMaintenanceCoordinator(
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
	pruners ...Pruner,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:      db,
		config:  cfg,
		dbPath:  dbPath,
		log:     log.WithComponent(common.ComponentMaintenance),
		pruners: pruners,
		stats:   MaintenanceStats{Pruned: make(map[string]int64)},
	}
}

// Start runs the optional startup pass and then maintenance every check interval until Stop.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("Background maintenance is disabled")
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		if err := m.RunMaintenance(ctx); err != nil {
			m.log.Warnf("Startup maintenance failed: %v", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.CheckInterval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RunMaintenance(ctx); err != nil {
					m.log.Warnf("Periodic maintenance failed: %v", err)
				}
			}
		}
	}()

	m.log.Infow("background maintenance started",
		"interval", m.config.CheckInterval.Duration, "checkpoint_mode", m.config.WALCheckpointMode,
		"pruners", len(m.pruners))
	return nil
}

// Stop cancels the background loop and waits for a run in progress.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.log.Info("Background maintenance stopped")
	return nil
}

// AcquireOperationLock takes the shared side of the maintenance lock.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// RunMaintenance waits for every operation in flight and then prunes, checkpoints and vacuums.
// A failing step does not stop the following ones; all failures are returned together.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	before, _ := DBTotalSize(m.dbPath)

	var result *multierror.Error
	for _, step := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"prune", m.prune},
		{"wal_checkpoint", m.walCheckpoint},
		{"vacuum", m.vacuum},
	} {
		stepStart := time.Now()
		if err := step.run(ctx); err != nil {
			result = appendStepError(result, step.name, err)
		}
		maintenanceStepLog(step.name, time.Since(stepStart))
	}

	after, _ := DBTotalSize(m.dbPath)
	spaceReclaimedLog(before, after)

	err := result.ErrorOrNil()
	maintenanceRunLog(err)

	m.statsMu.Lock()
	m.stats.LastRun = time.Now()
	m.stats.Runs++
	m.stats.LastError = err
	m.statsMu.Unlock()

	if err != nil {
		return err
	}

	m.log.Infow("maintenance completed",
		"duration", time.Since(start), "reclaimed_mb", common.BytesToMB(uint64(max(before-after, 0))))
	return nil
}

// appendStepError prefixes every error of a step with its name, flattening a step that reports
// several failures so each keeps its own prefix.
func appendStepError(result *multierror.Error, step string, err error) *multierror.Error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			result = multierror.Append(result, fmt.Errorf("%s: %w", step, e))
		}
		return result
	}
	return multierror.Append(result, fmt.Errorf("%s: %w", step, err))
}

func (m *MaintenanceCoordinator) prune(ctx context.Context) error {
	var result *multierror.Error

	for _, p := range m.pruners {
		n, err := p.Prune(ctx)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		prunedRowsAdd(p.Name(), n)
		m.statsMu.Lock()
		m.stats.Pruned[p.Name()] += n
		m.statsMu.Unlock()

		if n > 0 {
			m.log.Debugf("pruner %s removed %d rows", p.Name(), n)
		}
	}

	return result.ErrorOrNil()
}

func (m *MaintenanceCoordinator) walCheckpoint(ctx context.Context) error {
	var mode string
	if err := m.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return nil
	}

	var busy, frames, checkpointed int
	err := m.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)).
		Scan(&busy, &frames, &checkpointed)
	if err != nil {
		return err
	}

	if busy > 0 {
		m.log.Warnf("WAL checkpoint left %d busy pages", busy)
	}
	m.log.Debugw("WAL checkpoint done", "mode", m.config.WALCheckpointMode, "frames", frames, "checkpointed", checkpointed)
	return nil
}

func (m *MaintenanceCoordinator) vacuum(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns a copy of the run statistics.
func (m *MaintenanceCoordinator) Stats() MaintenanceStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	stats := m.stats
	stats.Pruned = make(map[string]int64, len(m.stats.Pruned))
	for k, v := range m.stats.Pruned {
		stats.Pruned[k] = v
	}
	return stats
}
