package rotor

import (
	"fmt"
	"time"
)

// KVBucketConfig configures NATS JetStream KV bucket names and TTLs.
type KVBucketConfig struct {
	// PresenceBucket holds one TTL'd key per live worker connection.
	PresenceBucket string `yaml:"presenceBucket"`

	// ItemsBucket holds the realtime mirror of work items, watched as the
	// order-created change feed.
	ItemsBucket string `yaml:"itemsBucket"`

	// CursorBucket holds the singleton rotation cursor.
	CursorBucket string `yaml:"cursorBucket"`

	// PresenceTTL is how long a connection key survives without renewal.
	// Connections renew at PresenceTTL/3; a worker whose keys all expire
	// is offline.
	PresenceTTL time.Duration `yaml:"presenceTtl"`
}

// SweepConfig controls reconciliation sweeps.
type SweepConfig struct {
	// Interval is the period of the safety-net sweep that runs regardless
	// of events. 0 disables it.
	Interval time.Duration `yaml:"interval"`

	// BatchSize caps the candidates of one event-driven or periodic sweep.
	BatchSize int `yaml:"batchSize"`

	// ManualBatchSize caps one operator-requested sweep. Larger than
	// BatchSize since an operator explicitly asked for a full pass.
	ManualBatchSize int `yaml:"manualBatchSize"`

	// Debounce batches rapid presence transitions before sweeping, so a
	// fleet reconnecting after a network blip triggers one sweep, not one
	// per worker.
	Debounce time.Duration `yaml:"debounce"`
}

// HTTPConfig configures the operational HTTP surface served by rotord.
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// ReconcileSecret authorizes POST /reconcile. Empty keeps the
	// endpoint enabled but rejecting every request.
	ReconcileSecret string `yaml:"reconcileSecret"`

	// RequestTimeout bounds a single request, manual sweeps included.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// Config is the configuration for the Engine.
//
// All duration fields accept standard Go duration strings like "30s", "5m".
type Config struct {
	// WorkerRole is the roster role required for assignment eligibility.
	WorkerRole string `yaml:"workerRole"`

	// CursorMaxRetries bounds optimistic cursor update attempts per
	// assignment before the item is left for the next sweep.
	CursorMaxRetries int `yaml:"cursorMaxRetries"`

	// OperationTimeout is the timeout for individual store operations.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// StartupTimeout is the maximum time to wait for the engine to fully
	// start, including KV bucket creation and watcher seeding.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Sweep controls reconciliation sweeps.
	Sweep SweepConfig `yaml:"sweep"`

	// KVBuckets controls NATS JetStream KV bucket configuration.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`

	// HTTP configures the rotord operational endpoints. Unused when the
	// engine is embedded as a library.
	HTTP HTTPConfig `yaml:"http"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerRole:       "seller",
		CursorMaxRetries: 5,
		OperationTimeout: 10 * time.Second,
		StartupTimeout:   30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Sweep: SweepConfig{
			Interval:        time.Minute,
			BatchSize:       100,
			ManualBatchSize: 500,
			Debounce:        250 * time.Millisecond,
		},
		KVBuckets: KVBucketConfig{
			PresenceBucket: "rotor-presence",
			ItemsBucket:    "rotor-items",
			CursorBucket:   "rotor-cursor",
			PresenceTTL:    30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.WorkerRole == "" {
		cfg.WorkerRole = defaults.WorkerRole
	}
	if cfg.CursorMaxRetries == 0 {
		cfg.CursorMaxRetries = defaults.CursorMaxRetries
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = defaults.Sweep.Interval
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = defaults.Sweep.BatchSize
	}
	if cfg.Sweep.ManualBatchSize == 0 {
		cfg.Sweep.ManualBatchSize = defaults.Sweep.ManualBatchSize
	}
	if cfg.Sweep.Debounce == 0 {
		cfg.Sweep.Debounce = defaults.Sweep.Debounce
	}
	if cfg.KVBuckets.PresenceBucket == "" {
		cfg.KVBuckets.PresenceBucket = defaults.KVBuckets.PresenceBucket
	}
	if cfg.KVBuckets.ItemsBucket == "" {
		cfg.KVBuckets.ItemsBucket = defaults.KVBuckets.ItemsBucket
	}
	if cfg.KVBuckets.CursorBucket == "" {
		cfg.KVBuckets.CursorBucket = defaults.KVBuckets.CursorBucket
	}
	if cfg.KVBuckets.PresenceTTL == 0 {
		cfg.KVBuckets.PresenceTTL = defaults.KVBuckets.PresenceTTL
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaults.HTTP.Addr
	}
	if cfg.HTTP.RequestTimeout == 0 {
		cfg.HTTP.RequestTimeout = defaults.HTTP.RequestTimeout
	}
	// Note: ReconcileSecret has no default; an empty secret rejects all
	// manual sweeps rather than accepting an empty one.
}

// Validate checks configuration constraints and returns an error for
// invalid values.
//
// Hard validation rules:
//   - PresenceTTL >= 3s (renewal runs at TTL/3; shorter flaps on GC pauses)
//   - BatchSize > 0 and ManualBatchSize >= BatchSize
//   - CursorMaxRetries > 0
//   - Sweep.Debounce < Sweep.Interval when the periodic sweep is enabled
func (cfg *Config) Validate() error {
	if cfg.WorkerRole == "" {
		return fmt.Errorf("%w: WorkerRole must not be empty", ErrInvalidConfig)
	}

	if cfg.KVBuckets.PresenceTTL < 3*time.Second {
		return fmt.Errorf(
			"%w: PresenceTTL (%v) must be >= 3s, renewal runs at TTL/3",
			ErrInvalidConfig, cfg.KVBuckets.PresenceTTL,
		)
	}

	if cfg.Sweep.BatchSize <= 0 {
		return fmt.Errorf("%w: Sweep.BatchSize must be > 0, got %d", ErrInvalidConfig, cfg.Sweep.BatchSize)
	}

	if cfg.Sweep.ManualBatchSize < cfg.Sweep.BatchSize {
		return fmt.Errorf(
			"%w: Sweep.ManualBatchSize (%d) must be >= Sweep.BatchSize (%d)",
			ErrInvalidConfig, cfg.Sweep.ManualBatchSize, cfg.Sweep.BatchSize,
		)
	}

	if cfg.CursorMaxRetries <= 0 {
		return fmt.Errorf("%w: CursorMaxRetries must be > 0, got %d", ErrInvalidConfig, cfg.CursorMaxRetries)
	}

	if cfg.Sweep.Interval > 0 && cfg.Sweep.Debounce >= cfg.Sweep.Interval {
		return fmt.Errorf(
			"%w: Sweep.Debounce (%v) must be shorter than Sweep.Interval (%v)",
			ErrInvalidConfig, cfg.Sweep.Debounce, cfg.Sweep.Interval,
		)
	}

	return nil
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Timings are far shorter than production defaults so tests iterate
// quickly. Use DefaultConfig() for deployments.
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.KVBuckets.PresenceTTL = 3 * time.Second
	cfg.Sweep.Interval = 200 * time.Millisecond
	cfg.Sweep.Debounce = 20 * time.Millisecond
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second

	return cfg
}
