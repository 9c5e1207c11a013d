package assign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storekit/rotor/internal/mirror"
	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/store/memory"
	rotortest "github.com/storekit/rotor/testing"
	"github.com/storekit/rotor/types"
)

type assignFixture struct {
	docs     *memory.Store
	mirror   *mirror.Mirror
	assigner *Assigner
}

func newAssignFixture(t *testing.T, bucket string) *assignFixture {
	t.Helper()

	_, nc := rotortest.StartEmbeddedNATS(t)
	itemsKV := rotortest.NewKV(t, nc, bucket+"-items", 0)
	cursorKV := rotortest.NewKV(t, nc, bucket+"-cursor", 0)

	logger := rotortest.NewTestLogger(t)
	docs := memory.New()
	m := mirror.New(itemsKV, "", logger)
	cursor := NewCursorStore(cursorKV, 0, logger, nil)

	return &assignFixture{
		docs:     docs,
		mirror:   m,
		assigner: New(docs, m, cursor, logger, nil),
	}
}

func (f *assignFixture) seedItem(t *testing.T, item *types.WorkItem) {
	t.Helper()

	f.docs.PutItem(item)
	require.NoError(t, f.mirror.Put(context.Background(), item))
}

func TestAssigner_Assign_EmptyPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-emptypool")
	f.seedItem(t, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned})

	workerID, err := f.assigner.Assign(ctx, "order-1", nil, types.SourceCreation)
	require.NoError(t, err)
	require.Empty(t, workerID)

	item, err := f.docs.GetItem(ctx, "order-1")
	require.NoError(t, err)
	require.False(t, item.Assigned())
	require.Equal(t, types.StatusUnassigned, item.Status)
}

func TestAssigner_Assign_RoundRobin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-rr")
	f.docs.PutWorker(&types.Worker{ID: "s1", Role: "seller", Status: types.WorkerActive, DisplayName: "One"})
	f.docs.PutWorker(&types.Worker{ID: "s2", Role: "seller", Status: types.WorkerActive, DisplayName: "Two"})

	pool := []string{"s1", "s2"}

	for i, want := range []string{"s1", "s2", "s1"} {
		itemID := string(rune('A' + i))
		f.seedItem(t, &types.WorkItem{ID: itemID, Status: types.StatusUnassigned})

		workerID, err := f.assigner.Assign(ctx, itemID, pool, types.SourceCreation)
		require.NoError(t, err)
		require.Equal(t, want, workerID)

		item, err := f.docs.GetItem(ctx, itemID)
		require.NoError(t, err)
		require.Equal(t, want, item.AssignedWorkerID)
		require.Equal(t, types.StatusAssigned, item.Status)
		require.Equal(t, types.SourceCreation, item.AssignmentSource)
		require.False(t, item.AssignedAt.IsZero())

		// Mirror converges with the document store.
		mirrored, err := f.mirror.Get(ctx, itemID)
		require.NoError(t, err)
		require.Equal(t, want, mirrored.AssignedWorkerID)
	}
}

func TestAssigner_Assign_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-idem")
	f.docs.PutWorker(&types.Worker{ID: "s1", Role: "seller", Status: types.WorkerActive})
	f.seedItem(t, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned})

	workerID, err := f.assigner.Assign(ctx, "order-1", []string{"s1"}, types.SourceCreation)
	require.NoError(t, err)
	require.Equal(t, "s1", workerID)

	// Second call, any pool: no change.
	workerID, err = f.assigner.Assign(ctx, "order-1", []string{"s1", "s2"}, types.SourceManualSweep)
	require.NoError(t, err)
	require.Empty(t, workerID)

	item, err := f.docs.GetItem(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "s1", item.AssignedWorkerID)
	require.Equal(t, types.SourceCreation, item.AssignmentSource)
}

func TestAssigner_Assign_NoClobber_DocumentStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-noclobber-doc")
	f.seedItem(t, &types.WorkItem{
		ID:               "order-1",
		Status:           types.StatusAssigned,
		AssignedWorkerID: "existing",
	})

	workerID, err := f.assigner.Assign(ctx, "order-1", []string{"s1"}, types.SourceManualSweep)
	require.NoError(t, err)
	require.Empty(t, workerID)

	// Cursor untouched: next fresh assignment starts at the first worker.
	cursor, err := f.assigner.cursor.Current(ctx)
	require.NoError(t, err)
	require.Empty(t, cursor.LastAssignedWorkerID)
}

func TestAssigner_Assign_NoClobber_MirrorOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-noclobber-mirror")

	// The document store lags: only the mirror shows the assignment.
	f.docs.PutItem(&types.WorkItem{ID: "order-1", Status: types.StatusPending})
	require.NoError(t, f.mirror.Put(ctx, &types.WorkItem{
		ID:               "order-1",
		Status:           types.StatusAssigned,
		AssignedWorkerID: "existing",
	}))

	workerID, err := f.assigner.Assign(ctx, "order-1", []string{"s1"}, types.SourceManualSweep)
	require.NoError(t, err)
	require.Empty(t, workerID)

	item, err := f.docs.GetItem(ctx, "order-1")
	require.NoError(t, err)
	require.False(t, item.Assigned())
}

// staleReadDocs serves reads from a point before the assignment landed,
// so the read-side guard passes and only the store's own write filter
// stands between two racing assigners.
type staleReadDocs struct {
	store.DocumentStore
}

func (d *staleReadDocs) GetItem(ctx context.Context, id string) (*types.WorkItem, error) {
	item, err := d.DocumentStore.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	stale := *item
	stale.Status = types.StatusUnassigned
	stale.AssignedWorkerID = ""
	stale.AssignedWorkerName = ""

	return &stale, nil
}

func TestAssigner_Assign_LosesWriteRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-writerace")

	// Assigned in the document store only, so the mirror check cannot
	// catch it either.
	f.docs.PutItem(&types.WorkItem{
		ID:               "order-1",
		Status:           types.StatusAssigned,
		AssignedWorkerID: "existing",
	})

	racer := New(&staleReadDocs{DocumentStore: f.docs}, f.mirror, f.assigner.cursor, rotortest.NewTestLogger(t), nil)

	// The stale guard read lets the attempt through; the write-side
	// filter rejects it and the outcome is the idempotent skip.
	workerID, err := racer.Assign(ctx, "order-1", []string{"s1"}, types.SourceManualSweep)
	require.NoError(t, err)
	require.Empty(t, workerID)

	item, err := f.docs.GetItem(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "existing", item.AssignedWorkerID)
}

func TestAssigner_Assign_MissingWorkerMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-nometa")
	f.seedItem(t, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned})

	// No roster record for s1: assignment still succeeds, name empty.
	workerID, err := f.assigner.Assign(ctx, "order-1", []string{"s1"}, types.SourceCreation)
	require.NoError(t, err)
	require.Equal(t, "s1", workerID)

	item, err := f.docs.GetItem(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "s1", item.AssignedWorkerID)
	require.Empty(t, item.AssignedWorkerName)
}

func TestAssigner_Assign_WritesAuditLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-audit")
	f.seedItem(t, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned})

	workerID, err := f.assigner.Assign(ctx, "order-1", []string{"s1"}, types.SourcePresenceSweep)
	require.NoError(t, err)
	require.Equal(t, "s1", workerID)

	entries := f.docs.Log()
	require.Len(t, entries, 1)
	require.Equal(t, "order-1", entries[0].ItemID)
	require.Equal(t, "s1", entries[0].WorkerID)
	require.Equal(t, types.SourcePresenceSweep, entries[0].Source)
}

func TestAssigner_Assign_ItemOnlyInMirror(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newAssignFixture(t, "assign-mirroronly")

	// Order created in the realtime path before the document store caught
	// up. The guard tolerates the missing document; the authoritative
	// write then fails and is surfaced as a per-item error.
	require.NoError(t, f.mirror.Put(ctx, &types.WorkItem{ID: "order-1", Status: types.StatusUnassigned}))

	workerID, err := f.assigner.Assign(ctx, "order-1", []string{"s1"}, types.SourceCreation)
	require.Error(t, err)
	require.Empty(t, workerID)
}
