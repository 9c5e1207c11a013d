package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rotortest "github.com/storekit/rotor/testing"
	"github.com/storekit/rotor/types"
)

func newTestMirror(t *testing.T, bucket string) *Mirror {
	t.Helper()

	_, nc := rotortest.StartEmbeddedNATS(t)
	kv := rotortest.NewKV(t, nc, bucket, 0)

	return New(kv, "", rotortest.NewTestLogger(t))
}

func TestMirror_PutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestMirror(t, "mirror-putget")

	item := &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned}
	require.NoError(t, m.Put(ctx, item))

	got, err := m.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "order-1", got.ID)
	require.Equal(t, types.StatusUnassigned, got.Status)

	_, err = m.Get(ctx, "missing")
	require.ErrorIs(t, err, types.ErrItemNotFound)
}

func TestMirror_MarkPending_PreservesAssignment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestMirror(t, "mirror-pending")

	require.NoError(t, m.Put(ctx, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned}))
	require.NoError(t, m.MarkPending(ctx, "order-1"))

	got, err := m.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, got.Status)

	// An already-assigned item must never be flipped back.
	require.NoError(t, m.Put(ctx, &types.WorkItem{
		ID:               "order-2",
		Status:           types.StatusAssigned,
		AssignedWorkerID: "seller-1",
	}))
	require.NoError(t, m.MarkPending(ctx, "order-2"))

	got, err = m.Get(ctx, "order-2")
	require.NoError(t, err)
	require.Equal(t, types.StatusAssigned, got.Status)
	require.Equal(t, "seller-1", got.AssignedWorkerID)
}

func TestMirror_CompleteAssignment_CreatesMissingEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestMirror(t, "mirror-complete")

	require.NoError(t, m.CompleteAssignment(ctx, "order-9", "seller-3", "Three", types.SourceManualSweep))

	got, err := m.Get(ctx, "order-9")
	require.NoError(t, err)
	require.Equal(t, types.StatusAssigned, got.Status)
	require.Equal(t, "seller-3", got.AssignedWorkerID)
	require.Equal(t, types.SourceManualSweep, got.AssignmentSource)
	require.False(t, got.AssignedAt.IsZero())
}

func TestMirror_PendingItemIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestMirror(t, "mirror-scan")

	require.NoError(t, m.Put(ctx, &types.WorkItem{ID: "a", Status: types.StatusPending}))
	require.NoError(t, m.Put(ctx, &types.WorkItem{ID: "b", Status: types.StatusUnassigned}))
	require.NoError(t, m.Put(ctx, &types.WorkItem{ID: "c", Status: types.StatusAssigned, AssignedWorkerID: "s1"}))

	ids, err := m.PendingItemIDs(ctx, 100)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestMirror_PendingItemIDs_EmptyBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestMirror(t, "mirror-empty")

	ids, err := m.PendingItemIDs(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestMirror_Watch_SeesNewItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := newTestMirror(t, "mirror-watch")

	watcher, err := m.Watch(ctx)
	require.NoError(t, err)
	defer watcher.Stop() //nolint:errcheck

	// Drain initial replay marker.
	for entry := range watcher.Updates() {
		if entry == nil {
			break
		}
	}

	require.NoError(t, m.Put(ctx, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned}))

	select {
	case entry := <-watcher.Updates():
		require.NotNil(t, entry)
		require.Equal(t, "order-1", m.ItemID(entry.Key()))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher update")
	}
}
