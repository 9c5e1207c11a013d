package rotor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig_Valid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestTestConfig_Valid(t *testing.T) {
	t.Parallel()

	cfg := TestConfig()
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults_FillsZeroValues(t *testing.T) {
	t.Parallel()

	var cfg Config
	SetDefaults(&cfg)

	require.Equal(t, "seller", cfg.WorkerRole)
	require.Equal(t, "rotor-presence", cfg.KVBuckets.PresenceBucket)
	require.Equal(t, "rotor-items", cfg.KVBuckets.ItemsBucket)
	require.Equal(t, "rotor-cursor", cfg.KVBuckets.CursorBucket)
	require.Equal(t, 30*time.Second, cfg.KVBuckets.PresenceTTL)
	require.Equal(t, 100, cfg.Sweep.BatchSize)
	require.Equal(t, 500, cfg.Sweep.ManualBatchSize)
	require.Empty(t, cfg.HTTP.ReconcileSecret)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		WorkerRole: "support",
		Sweep:      SweepConfig{BatchSize: 7, ManualBatchSize: 9},
	}
	SetDefaults(&cfg)

	require.Equal(t, "support", cfg.WorkerRole)
	require.Equal(t, 7, cfg.Sweep.BatchSize)
	require.Equal(t, 9, cfg.Sweep.ManualBatchSize)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty role",
			mutate:  func(c *Config) { c.WorkerRole = "" },
			wantErr: "WorkerRole",
		},
		{
			name:    "presence ttl too short",
			mutate:  func(c *Config) { c.KVBuckets.PresenceTTL = time.Second },
			wantErr: "PresenceTTL",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Sweep.BatchSize = -1 },
			wantErr: "BatchSize",
		},
		{
			name: "manual batch smaller than event batch",
			mutate: func(c *Config) {
				c.Sweep.BatchSize = 100
				c.Sweep.ManualBatchSize = 10
			},
			wantErr: "ManualBatchSize",
		},
		{
			name:    "zero cursor retries",
			mutate:  func(c *Config) { c.CursorMaxRetries = -1 },
			wantErr: "CursorMaxRetries",
		},
		{
			name: "debounce longer than interval",
			mutate: func(c *Config) {
				c.Sweep.Interval = time.Second
				c.Sweep.Debounce = 2 * time.Second
			},
			wantErr: "Debounce",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	t.Parallel()

	raw := `
workerRole: seller
operationTimeout: 5s
sweep:
  interval: 30s
  batchSize: 50
  manualBatchSize: 200
kvBuckets:
  presenceBucket: shop-presence
  presenceTtl: 15s
http:
  addr: ":9090"
  reconcileSecret: s3cret
`

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	SetDefaults(&cfg)

	require.Equal(t, "seller", cfg.WorkerRole)
	require.Equal(t, 5*time.Second, cfg.OperationTimeout)
	require.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	require.Equal(t, 50, cfg.Sweep.BatchSize)
	require.Equal(t, "shop-presence", cfg.KVBuckets.PresenceBucket)
	require.Equal(t, 15*time.Second, cfg.KVBuckets.PresenceTTL)
	require.Equal(t, "rotor-items", cfg.KVBuckets.ItemsBucket)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, "s3cret", cfg.HTTP.ReconcileSecret)
	require.NoError(t, cfg.Validate())
}
