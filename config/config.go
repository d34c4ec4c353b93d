package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/emberchain/ember/libs/log"
)

// DefaultDirName is the default home directory name, relative to $HOME.
var DefaultDirName = ".ember"

const (
	defaultDataDir = "data"

	// DBBackendMemDB keeps all data in memory; for tests and dry runs.
	DBBackendMemDB = "memdb"
	// DBBackendGoLevelDB persists data with goleveldb.
	DBBackendGoLevelDB = "goleveldb"
)

// Config defines the top level configuration for a node.
type Config struct {
	BaseConfig `mapstructure:",squash"`

	Sync            *SyncConfig            `mapstructure:"sync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Sync:            DefaultSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseConfig = TestBaseConfig()
	cfg.Sync = TestSyncConfig()
	return cfg
}

// SetRoot sets the RootDir for all config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [sync] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------

// BaseConfig defines the base configuration for a node.
type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	// Database backend: memdb | goleveldb
	DBBackend string `mapstructure:"db-backend"`

	// Database directory, relative to the root directory.
	DBPath string `mapstructure:"db-dir"`

	// Output level for logging.
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'.
	LogFormat string `mapstructure:"log-format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		DBBackend: DBBackendGoLevelDB,
		DBPath:    defaultDataDir,
		LogLevel:  log.LogLevelInfo,
		LogFormat: log.LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = DBBackendMemDB
	return cfg
}

// DBDir returns the full path to the database directory.
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.DBBackend {
	case DBBackendMemDB, DBBackendGoLevelDB:
	default:
		return fmt.Errorf("unknown db-backend %q", cfg.DBBackend)
	}
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatText, log.LogFormatJSON:
	default:
		return fmt.Errorf("unknown log-format %q", cfg.LogFormat)
	}
	return nil
}

//-----------------------------------------------------------------------------

// SyncConfig defines the configuration for the chain-sync engine and the
// block exchange.
type SyncConfig struct {
	// How long a single result-queue pop waits before the engine re-checks
	// the stop condition.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// Number of persisted headers replayed through the fork view when the
	// canonical head and block progress disagree at resume. A heuristic:
	// reorgs deeper than this window are not recoverable by the replay.
	ResumeHeaderWindow uint64 `mapstructure:"resume-header-window"`

	// Number of persisted headers handed to the exchange as its starting
	// state at engine startup.
	InitialHeaderWindow uint64 `mapstructure:"initial-header-window"`

	// Bound on the fork view's tracked header set.
	ForkViewWindow int `mapstructure:"fork-view-window"`

	// Number of downloaded batches the result queue buffers.
	ResultQueueCapacity int `mapstructure:"result-queue-capacity"`

	// How often the exchange scheduler assigns new block requests.
	RequestInterval time.Duration `mapstructure:"request-interval"`

	// How long the exchange waits for a requested block before evicting
	// the assigned peer.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// Cap on outstanding block requests per peer.
	MaxRequestsPerPeer int `mapstructure:"max-requests-per-peer"`

	// Cap on outstanding block requests overall.
	MaxPendingRequests int `mapstructure:"max-pending-requests"`
}

// DefaultSyncConfig returns a default configuration for the sync engine.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		PollInterval:        100 * time.Millisecond,
		ResumeHeaderWindow:  128,
		InitialHeaderWindow: 65536,
		ForkViewWindow:      65536,
		ResultQueueCapacity: 64,
		RequestInterval:     250 * time.Millisecond,
		RequestTimeout:      10 * time.Second,
		MaxRequestsPerPeer:  20,
		MaxPendingRequests:  200,
	}
}

// TestSyncConfig returns a configuration for testing the sync engine.
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RequestInterval = 10 * time.Millisecond
	cfg.RequestTimeout = 500 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation and returns an error if any check
// fails.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.ResumeHeaderWindow == 0 {
		return fmt.Errorf("resume-header-window must be positive")
	}
	if cfg.InitialHeaderWindow == 0 {
		return fmt.Errorf("initial-header-window must be positive")
	}
	if cfg.ForkViewWindow <= 0 {
		return fmt.Errorf("fork-view-window must be positive, got %d", cfg.ForkViewWindow)
	}
	if cfg.ResultQueueCapacity <= 0 {
		return fmt.Errorf("result-queue-capacity must be positive, got %d", cfg.ResultQueueCapacity)
	}
	if cfg.RequestInterval <= 0 {
		return fmt.Errorf("request-interval must be positive, got %v", cfg.RequestInterval)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxRequestsPerPeer <= 0 {
		return fmt.Errorf("max-requests-per-peer must be positive, got %d", cfg.MaxRequestsPerPeer)
	}
	if cfg.MaxPendingRequests <= 0 {
		return fmt.Errorf("max-pending-requests must be positive, got %d", cfg.MaxPendingRequests)
	}
	return nil
}

//-----------------------------------------------------------------------------

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "ember",
	}
}

func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
