package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/ChainMapper/internal/common"
	"github.com/goran-ethernal/ChainMapper/internal/logger"
)

// Config represents the complete configuration for ChainMapper.
type Config struct {
	// Network contains the chain data source configuration
	Network NetworkConfig `yaml:"network" json:"network" toml:"network"`

	// Project points at the project manifest to index
	Project ProjectConfig `yaml:"project" json:"project" toml:"project"`

	// Dispatcher configures block fetching and handler execution
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher" toml:"dispatcher"`

	// Dictionary configures the optional accelerator service
	Dictionary *DictionaryConfig `yaml:"dictionary,omitempty" json:"dictionary,omitempty" toml:"dictionary,omitempty"`

	// Sandbox configures mapping handler execution
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox" toml:"sandbox"`

	// Reorg configures reorganization tracking
	Reorg ReorgConfig `yaml:"reorg" json:"reorg" toml:"reorg"`

	// DB contains database configuration for the entity store
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the status API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// Finality modes understood by the chain data source.
const (
	FinalityFinalized = "finalized"
	FinalitySafe      = "safe"
	FinalityLatest    = "latest"
)

// NetworkConfig represents the configuration of the chain data source.
type NetworkConfig struct {
	// RPCURL is the Ethereum compatible RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// ChainID, when set, is checked against the endpoint and the dictionary
	ChainID uint64 `yaml:"chain_id,omitempty" json:"chain_id,omitempty" toml:"chain_id,omitempty"`

	// Finality specifies the finality mode: "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider finalized
	// Only used when Finality is set to "latest"
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// PollInterval is how long to wait before polling again when caught up
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional network configuration fields.
func (n *NetworkConfig) ApplyDefaults() {
	if n.Finality == "" {
		n.Finality = FinalityFinalized
	}
	if n.PollInterval.Duration == 0 {
		n.PollInterval = common.NewDuration(12 * time.Second) //nolint:mnd
	}
	if n.Retry == nil {
		n.Retry = &RetryConfig{}
	}
	n.Retry.ApplyDefaults()
}

// Validate checks if the network configuration is valid.
func (n *NetworkConfig) Validate() error {
	if n.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if n.Finality != FinalityFinalized && n.Finality != FinalitySafe && n.Finality != FinalityLatest {
		return fmt.Errorf("finality must be one of: 'finalized', 'safe', or 'latest'")
	}
	return nil
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// ProjectConfig locates the project to index.
type ProjectConfig struct {
	// Manifest is the path to the project manifest (project.yaml)
	Manifest string `yaml:"manifest" json:"manifest" toml:"manifest"`
}

// DispatcherConfig configures the block dispatcher.
type DispatcherConfig struct {
	// Workers selects the worker-pool strategy when greater than zero.
	// Zero runs the single-process strategy.
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// BatchSize caps the number of heights planned per orchestrator cycle
	BatchSize uint64 `yaml:"batch_size" json:"batch_size" toml:"batch_size"`

	// MaxQueueSize is the maximum number of in-flight plus buffered tasks
	MaxQueueSize int `yaml:"max_queue_size" json:"max_queue_size" toml:"max_queue_size"`

	// FetchConcurrency bounds simultaneous fetches (per worker in pool mode)
	FetchConcurrency int `yaml:"fetch_concurrency" json:"fetch_concurrency" toml:"fetch_concurrency"`

	// FetchBatchSize groups consecutive heights into one range fetch (single-process only)
	FetchBatchSize int `yaml:"fetch_batch_size" json:"fetch_batch_size" toml:"fetch_batch_size"`

	// MaxTaskRetries is how many times a failed task is retried before the pipeline stalls
	MaxTaskRetries int `yaml:"max_task_retries" json:"max_task_retries" toml:"max_task_retries"`

	// TaskTimeout bounds a single block fetch
	TaskTimeout common.Duration `yaml:"task_timeout" json:"task_timeout" toml:"task_timeout"`
}

// ApplyDefaults sets default values for optional dispatcher configuration fields.
func (d *DispatcherConfig) ApplyDefaults() {
	if d.BatchSize == 0 {
		d.BatchSize = 100
	}
	if d.MaxQueueSize == 0 {
		d.MaxQueueSize = 200
	}
	if d.FetchConcurrency == 0 {
		d.FetchConcurrency = 10
	}
	if d.FetchBatchSize == 0 {
		d.FetchBatchSize = 10
	}
	if d.MaxTaskRetries == 0 {
		d.MaxTaskRetries = 3
	}
	if d.TaskTimeout.Duration == 0 {
		d.TaskTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
}

// Validate checks if the dispatcher configuration is valid.
func (d *DispatcherConfig) Validate() error {
	if d.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if d.MaxQueueSize < 1 {
		return fmt.Errorf("max_queue_size must be at least 1")
	}
	if d.MaxTaskRetries < 0 {
		return fmt.Errorf("max_task_retries must not be negative")
	}
	return nil
}

// DictionaryConfig configures the dictionary accelerator.
type DictionaryConfig struct {
	// URL is the dictionary endpoint. An empty URL disables the dictionary.
	URL string `yaml:"url" json:"url" toml:"url"`

	// Timeout bounds a single dictionary request
	Timeout common.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`

	// StalenessTolerance is the largest gap (in blocks) between the requested upper bound and the
	// dictionary height for which the range is split sparse/dense. Larger gaps skip the dictionary.
	StalenessTolerance uint64 `yaml:"staleness_tolerance" json:"staleness_tolerance" toml:"staleness_tolerance"`

	// RequestsPerSecond limits the request rate against the dictionary
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second"`

	// Burst is the token bucket burst size
	Burst int `yaml:"burst" json:"burst" toml:"burst"`
}

// Enabled reports whether a dictionary is configured.
func (d *DictionaryConfig) Enabled() bool {
	return d != nil && d.URL != ""
}

// ApplyDefaults sets default values for optional dictionary configuration fields.
func (d *DictionaryConfig) ApplyDefaults() {
	if d.Timeout.Duration == 0 {
		d.Timeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if d.StalenessTolerance == 0 {
		d.StalenessTolerance = 1000
	}
	if d.RequestsPerSecond == 0 {
		d.RequestsPerSecond = 10
	}
	if d.Burst == 0 {
		d.Burst = 5
	}
}

// SandboxConfig configures mapping handler execution.
type SandboxConfig struct {
	// HandlerTimeout bounds a single handler invocation
	HandlerTimeout common.Duration `yaml:"handler_timeout" json:"handler_timeout" toml:"handler_timeout"`

	// ModuleCacheSize is the number of compiled mapping modules kept per executor
	ModuleCacheSize int `yaml:"module_cache_size" json:"module_cache_size" toml:"module_cache_size"`

	// AllowHTTP exposes the fetch capability to mapping handlers
	AllowHTTP bool `yaml:"allow_http" json:"allow_http" toml:"allow_http"`

	// AllowedHosts restricts the fetch capability. Empty means any host.
	AllowedHosts []string `yaml:"allowed_hosts,omitempty" json:"allowed_hosts,omitempty" toml:"allowed_hosts,omitempty"`
}

// ApplyDefaults sets default values for optional sandbox configuration fields.
func (s *SandboxConfig) ApplyDefaults() {
	if s.HandlerTimeout.Duration == 0 {
		s.HandlerTimeout = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if s.ModuleCacheSize == 0 {
		s.ModuleCacheSize = 32
	}
}

// ReorgConfig configures reorganization tracking.
type ReorgConfig struct {
	// Depth is the number of most recent committed blocks that can be rewound.
	// A fork deeper than this is a fatal consistency violation.
	Depth uint64 `yaml:"depth" json:"depth" toml:"depth"`

	// CheckInterval is how often tracked block hashes are compared with the chain
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
}

// ApplyDefaults sets default values for optional reorg configuration fields.
func (r *ReorgConfig) ApplyDefaults() {
	if r.Depth == 0 {
		r.Depth = 64
	}
	if r.CheckInterval.Duration == 0 {
		r.CheckInterval = common.NewDuration(30 * time.Second) //nolint:mnd
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}
	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components, keyed by the
	// component names in internal/common (fetcher, dispatcher, worker, sandbox, ...)
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return "info"
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil || l.DefaultLevel == "" {
		return "info"
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the status API server.
type APIConfig struct {
	Enabled       bool            `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string          `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	ReadTimeout   common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout  common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout   common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
	CORS          CORSConfig      `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Network.ApplyDefaults()
	c.Dispatcher.ApplyDefaults()
	c.Sandbox.ApplyDefaults()
	c.Reorg.ApplyDefaults()
	c.DB.ApplyDefaults()

	if c.Dictionary != nil {
		c.Dictionary.ApplyDefaults()
	}
	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network.%w", err)
	}

	if c.Project.Manifest == "" {
		return fmt.Errorf("project.manifest is required")
	}

	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher.%w", err)
	}

	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db.%w", err)
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance.%w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
