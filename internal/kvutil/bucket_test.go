package kvutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	rotortest "github.com/storekit/rotor/testing"
)

func TestEnsureBucket_CreateThenOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, nc := rotortest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	cfg := jetstream.KeyValueConfig{Bucket: "kvutil-ensure", Storage: jetstream.MemoryStorage}

	kv, err := EnsureBucket(ctx, js, cfg, 3)
	require.NoError(t, err)
	require.NotNil(t, kv)

	// Second call must open the existing bucket instead of failing.
	kv2, err := EnsureBucket(ctx, js, cfg, 3)
	require.NoError(t, err)
	require.NotNil(t, kv2)

	_, err = kv.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	entry, err := kv2.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), entry.Value())
}

func TestEnsureBucket_CancelledContext(t *testing.T) {
	t.Parallel()

	_, nc := rotortest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = EnsureBucket(ctx, js, jetstream.KeyValueConfig{Bucket: "kvutil-cancelled"}, 3)
	require.Error(t, err)
}
