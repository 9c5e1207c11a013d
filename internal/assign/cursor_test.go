package assign

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	rotortest "github.com/storekit/rotor/testing"
	"github.com/storekit/rotor/types"
)

func newTestCursor(t *testing.T, bucket string) *CursorStore {
	t.Helper()

	_, nc := rotortest.StartEmbeddedNATS(t)
	kv := rotortest.NewKV(t, nc, bucket, 0)

	return NewCursorStore(kv, 0, rotortest.NewTestLogger(t), nil)
}

func TestNextWorker(t *testing.T) {
	t.Parallel()

	eligible := []string{"a", "b", "c"}

	require.Equal(t, "a", nextWorker("", eligible))
	require.Equal(t, "b", nextWorker("a", eligible))
	require.Equal(t, "c", nextWorker("b", eligible))
	require.Equal(t, "a", nextWorker("c", eligible), "wrap-around")
	require.Equal(t, "a", nextWorker("gone", eligible), "stale cursor restarts at first")
}

func TestCursorStore_Advance_Rotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCursor(t, "cursor-rotation")
	eligible := []string{"a", "b", "c"}

	var picks []string
	for i := 0; i < 6; i++ {
		workerID, err := c.Advance(ctx, eligible)
		require.NoError(t, err)
		picks = append(picks, workerID)
	}

	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picks)
}

func TestCursorStore_Advance_EmptyPool(t *testing.T) {
	t.Parallel()

	c := newTestCursor(t, "cursor-empty")

	_, err := c.Advance(context.Background(), nil)
	require.ErrorIs(t, err, types.ErrNoEligibleWorkers)
}

func TestCursorStore_Advance_SelfHealsStaleCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCursor(t, "cursor-stale")

	data, err := json.Marshal(types.Cursor{LastAssignedWorkerID: "departed"})
	require.NoError(t, err)
	_, err = c.kv.Put(ctx, c.key, data)
	require.NoError(t, err)

	workerID, err := c.Advance(ctx, []string{"x", "y"})
	require.NoError(t, err)
	require.Equal(t, "x", workerID)
}

func TestCursorStore_Advance_MalformedCursorRestarts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCursor(t, "cursor-malformed")

	_, err := c.kv.Put(ctx, c.key, []byte("{not json"))
	require.NoError(t, err)

	workerID, err := c.Advance(ctx, []string{"x", "y"})
	require.NoError(t, err)
	require.Equal(t, "x", workerID)
}

func TestCursorStore_Advance_ConcurrentCallersNeverLosePicks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCursor(t, "cursor-concurrent")
	eligible := []string{"a", "b", "c", "d"}

	const callers = 8

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		picks []string
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			workerID, err := c.Advance(ctx, eligible)
			if err != nil {
				// Exhausted retries are a legal outcome under contention.
				require.ErrorIs(t, err, types.ErrCursorConflict)
				return
			}

			mu.Lock()
			picks = append(picks, workerID)
			mu.Unlock()
		}()
	}

	wg.Wait()

	// Every successful pick names an eligible worker, and the stored
	// cursor matches some worker from the list.
	for _, p := range picks {
		require.Contains(t, eligible, p)
	}

	cursor, err := c.Current(ctx)
	require.NoError(t, err)
	require.Contains(t, eligible, cursor.LastAssignedWorkerID)
}
