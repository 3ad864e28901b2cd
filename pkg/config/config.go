package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	internalcommon "github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/logger"
)

// Config is the complete configuration for the indexer process.
type Config struct {
	// RPC contains the chain RPC endpoint configuration
	RPC RPCConfig `yaml:"rpc" json:"rpc" toml:"rpc"`

	// Database contains the SQLite database configuration
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// Sync contains the reconciliation loop tuning parameters
	Sync SyncConfig `yaml:"sync" json:"sync" toml:"sync"`

	// Contracts lists the on-chain contracts to index
	Contracts []ContractConfig `yaml:"contracts" json:"contracts" toml:"contracts"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the status/health HTTP API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// RPCConfig configures the chain JSON-RPC client.
type RPCConfig struct {
	// URL is the EVM JSON-RPC endpoint
	URL string `yaml:"url" json:"url" toml:"url"`

	// Timeout bounds a single RPC round-trip
	Timeout internalcommon.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional RPC configuration fields.
func (r *RPCConfig) ApplyDefaults() {
	if r.Timeout.Duration == 0 {
		r.Timeout = internalcommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.Retry == nil {
		r.Retry = &RetryConfig{}
	}
	r.Retry.ApplyDefaults()
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff internalcommon.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff internalcommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = internalcommon.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = internalcommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// SyncConfig tunes the reconciliation loop.
type SyncConfig struct {
	// PollInterval is how often each contract loop looks for new blocks
	PollInterval internalcommon.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// ConfirmationDepth is the number of blocks to stay behind the chain
	// head before a block is considered processable
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth"`

	// MaxBatchSize is the maximum block span per eth_getLogs call and per
	// database transaction
	MaxBatchSize uint64 `yaml:"max_batch_size" json:"max_batch_size" toml:"max_batch_size"`

	// CheckpointInterval is how often (in blocks) a hash-verified checkpoint
	// anchor is recorded; it bounds reorg verification cost and replay depth
	CheckpointInterval uint64 `yaml:"checkpoint_interval" json:"checkpoint_interval" toml:"checkpoint_interval"`

	// Finality selects the head the loop follows: "latest", "safe" or
	// "finalized". ConfirmationDepth is subtracted from it either way.
	Finality Finality `yaml:"finality" json:"finality" toml:"finality"`

	// AnchorRetention is how many checkpoint anchors to keep per contract
	// for walking back through deeper reorgs
	AnchorRetention int `yaml:"anchor_retention" json:"anchor_retention" toml:"anchor_retention"`
}

// ApplyDefaults sets default values for optional sync configuration fields.
func (s *SyncConfig) ApplyDefaults() {
	if s.PollInterval.Duration == 0 {
		s.PollInterval = internalcommon.NewDuration(12 * time.Second) //nolint:mnd
	}
	if s.ConfirmationDepth == 0 {
		s.ConfirmationDepth = 6
	}
	if s.MaxBatchSize == 0 {
		s.MaxBatchSize = 500
	}
	if s.CheckpointInterval == 0 {
		s.CheckpointInterval = 100
	}
	if s.Finality == "" {
		s.Finality = FinalityLatest
	}
	if s.AnchorRetention == 0 {
		s.AnchorRetention = 32
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
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

	// Maintenance configures periodic WAL checkpoints and VACUUM runs.
	// Omit the section to disable background maintenance entirely.
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
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
	// EnableForeignKeys defaults to false (zero value)
	if d.Maintenance != nil {
		d.Maintenance.ApplyDefaults()
	}
}

var validJournalModes = map[string]struct{}{
	"WAL": {}, "DELETE": {}, "TRUNCATE": {}, "PERSIST": {}, "MEMORY": {},
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}
	if d.JournalMode != "" {
		if _, ok := validJournalModes[d.JournalMode]; !ok {
			return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
		}
	}
	if d.Synchronous != "" && d.Synchronous != "FULL" && d.Synchronous != "NORMAL" && d.Synchronous != "OFF" {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}
	if d.Maintenance != nil {
		if err := d.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}
	return nil
}

// MaintenanceConfig configures periodic database maintenance.
type MaintenanceConfig struct {
	// Enabled turns background maintenance on
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Interval is the time between maintenance passes
	Interval internalcommon.Duration `yaml:"interval" json:"interval" toml:"interval"`

	// VacuumOnStartup runs a maintenance pass before the first interval elapses
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode is the checkpoint mode passed to PRAGMA wal_checkpoint
	// Options: "PASSIVE", "FULL", "RESTART", "TRUNCATE"
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.Interval.Duration == 0 {
		m.Interval = internalcommon.NewDuration(6 * time.Hour)
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

var validWALCheckpointModes = map[string]struct{}{
	"PASSIVE": {}, "FULL": {}, "RESTART": {}, "TRUNCATE": {},
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.Interval.Duration < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	if m.WALCheckpointMode != "" {
		if _, ok := validWALCheckpointModes[m.WALCheckpointMode]; !ok {
			return fmt.Errorf("wal_checkpoint_mode must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
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

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - driver: reconciliation loop orchestration
	//   - rpc: chain RPC client
	//   - reorg-detector: reorganization detection
	//   - checkpoint-store: checkpoint persistence
	//   - handler: event handlers
	//   - api: status HTTP API
	//   - metrics: metrics server
	//   - db: database layer
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
		if _, valid := logger.ValidLogLevels[internalcommon.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := internalcommon.AllComponents[internalcommon.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}
		if _, valid := logger.ValidLogLevels[internalcommon.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return internalcommon.ToLowerWithTrim(level)
	}
	return internalcommon.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return internalcommon.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
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
	// Enabled defaults to false (zero value)
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

// APIConfig configures the status/health HTTP API.
type APIConfig struct {
	// Enabled controls whether the HTTP API is served
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// AllowedOrigins is the CORS allow-list; "*" allows any origin
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`

	// StalenessThreshold marks a contract unhealthy when its checkpoint has
	// not moved for longer than this
	StalenessThreshold internalcommon.Duration `yaml:"staleness_threshold" json:"staleness_threshold" toml:"staleness_threshold"`

	// ReadTimeout is the maximum duration for reading an entire request
	ReadTimeout internalcommon.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes
	WriteTimeout internalcommon.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on a
	// kept-alive connection
	IdleTimeout internalcommon.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if len(a.AllowedOrigins) == 0 {
		a.AllowedOrigins = []string{"*"}
	}
	if a.StalenessThreshold.Duration == 0 {
		a.StalenessThreshold = internalcommon.NewDuration(5 * time.Minute) //nolint:mnd
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = internalcommon.NewDuration(5 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = internalcommon.NewDuration(10 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = internalcommon.NewDuration(60 * time.Second) //nolint:mnd
	}
}

// ContractConfig represents one watched on-chain contract.
type ContractConfig struct {
	// Name is a unique human-readable identifier, e.g. "maple-house-shares"
	Name string `yaml:"name" json:"name" toml:"name"`

	// Kind selects the handler implementation:
	// "property_token", "marketplace" or "distributor"
	Kind string `yaml:"kind" json:"kind" toml:"kind"`

	// Address is the contract address to monitor
	Address string `yaml:"address" json:"address" toml:"address"`

	// StartBlock is the block number to start indexing from
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// Events is an optional subset of event signatures to watch,
	// e.g. "Transfer(uint256,address,address,uint256)". Empty means every
	// event the kind's ABI declares.
	Events []string `yaml:"events,omitempty" json:"events,omitempty" toml:"events,omitempty"`
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.RPC.ApplyDefaults()
	c.Database.ApplyDefaults()
	c.Sync.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid. Any error here is fatal at
// process start, before the reconciliation loop begins.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if !c.Sync.Finality.IsValid() {
		return fmt.Errorf("sync.finality must be one of: 'latest', 'safe', or 'finalized'")
	}
	if c.Sync.AnchorRetention < 0 {
		return fmt.Errorf("sync.anchor_retention must not be negative")
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

	if len(c.Contracts) == 0 {
		return fmt.Errorf("at least one contract must be configured")
	}

	names := make(map[string]bool)
	addresses := make(map[string]bool)
	for i, contract := range c.Contracts {
		if contract.Name == "" {
			return fmt.Errorf("contract[%d]: name is required", i)
		}
		if names[contract.Name] {
			return fmt.Errorf("contract[%d]: duplicate contract name '%s'", i, contract.Name)
		}
		names[contract.Name] = true

		if contract.Kind == "" {
			return fmt.Errorf("contract[%d] (%s): kind is required", i, contract.Name)
		}

		if contract.Address == "" {
			return fmt.Errorf("contract[%d] (%s): address is required", i, contract.Name)
		}
		if !common.IsHexAddress(contract.Address) {
			return fmt.Errorf("contract[%d] (%s): invalid address '%s'", i, contract.Name, contract.Address)
		}
		lowered := internalcommon.ToLowerWithTrim(contract.Address)
		if addresses[lowered] {
			return fmt.Errorf("contract[%d] (%s): duplicate contract address '%s'", i, contract.Name, contract.Address)
		}
		addresses[lowered] = true
	}

	return nil
}

// FindContract looks a contract up by name or address (case-insensitive).
// Returns nil when nothing matches.
func (c *Config) FindContract(nameOrAddress string) *ContractConfig {
	needle := internalcommon.ToLowerWithTrim(nameOrAddress)
	for i := range c.Contracts {
		if internalcommon.ToLowerWithTrim(c.Contracts[i].Name) == needle ||
			internalcommon.ToLowerWithTrim(c.Contracts[i].Address) == needle {
			return &c.Contracts[i]
		}
	}
	return nil
}
