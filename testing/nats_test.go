package testing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartEmbeddedNATS(t *testing.T) {
	t.Parallel()

	ns, nc := StartEmbeddedNATS(t)
	require.True(t, ns.JetStreamEnabled())
	require.True(t, nc.IsConnected())
}

func TestNewKV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, nc := StartEmbeddedNATS(t)
	kv := NewKV(t, nc, "testing-newkv", time.Minute)

	_, err := kv.Put(ctx, "key", []byte("value"))
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), entry.Value())
}
