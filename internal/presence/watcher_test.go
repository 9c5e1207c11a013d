package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rotortest "github.com/storekit/rotor/testing"
)

type transitionRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *transitionRecorder) onOnline(_ context.Context, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, workerID)
}

func (r *transitionRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	copy(out, r.events)

	return out
}

func waitForEvents(t *testing.T, rec *transitionRecorder, want int) []string {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if events := rec.snapshot(); len(events) >= want {
			return events
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d transition events, got %v", want, rec.snapshot())

	return nil
}

func TestWatcher_DetectsOfflineToOnline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, nc := rotortest.StartEmbeddedNATS(t)
	kv := rotortest.NewKV(t, nc, "watcher-online", 0)

	rec := &transitionRecorder{}
	w := NewWatcher(kv, time.Minute, rec.onOnline, rotortest.NewTestLogger(t))
	require.NoError(t, w.Start(ctx))
	defer w.Stop() //nolint:errcheck

	_, err := kv.Put(ctx, "conn.seller-9.c1", []byte("x"))
	require.NoError(t, err)

	events := waitForEvents(t, rec, 1)
	require.Equal(t, []string{"seller-9"}, events)
}

func TestWatcher_IgnoresRenewalsAndExtraTabs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, nc := rotortest.StartEmbeddedNATS(t)
	kv := rotortest.NewKV(t, nc, "watcher-renewals", 0)

	rec := &transitionRecorder{}
	w := NewWatcher(kv, time.Minute, rec.onOnline, rotortest.NewTestLogger(t))
	require.NoError(t, w.Start(ctx))
	defer w.Stop() //nolint:errcheck

	_, err := kv.Put(ctx, "conn.seller-1.c1", []byte("x"))
	require.NoError(t, err)
	waitForEvents(t, rec, 1)

	// Renewal of the same connection and a second tab must not fire again.
	_, err = kv.Put(ctx, "conn.seller-1.c1", []byte("renew"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, "conn.seller-1.c2", []byte("x"))
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, []string{"seller-1"}, rec.snapshot())
}

func TestWatcher_FiresAgainAfterFullOffline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, nc := rotortest.StartEmbeddedNATS(t)
	kv := rotortest.NewKV(t, nc, "watcher-cycle", 0)

	rec := &transitionRecorder{}
	w := NewWatcher(kv, time.Minute, rec.onOnline, rotortest.NewTestLogger(t))
	require.NoError(t, w.Start(ctx))
	defer w.Stop() //nolint:errcheck

	_, err := kv.Put(ctx, "conn.seller-2.c1", []byte("x"))
	require.NoError(t, err)
	waitForEvents(t, rec, 1)

	require.NoError(t, kv.Delete(ctx, "conn.seller-2.c1"))
	time.Sleep(200 * time.Millisecond)

	_, err = kv.Put(ctx, "conn.seller-2.c2", []byte("x"))
	require.NoError(t, err)

	events := waitForEvents(t, rec, 2)
	require.Equal(t, []string{"seller-2", "seller-2"}, events)
}

func TestWatcher_SeededWorkersDoNotFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, nc := rotortest.StartEmbeddedNATS(t)
	kv := rotortest.NewKV(t, nc, "watcher-seeded", 0)

	// Worker online before the watcher starts: no transition on startup.
	_, err := kv.Put(ctx, "conn.seller-7.c1", []byte("x"))
	require.NoError(t, err)

	rec := &transitionRecorder{}
	w := NewWatcher(kv, time.Minute, rec.onOnline, rotortest.NewTestLogger(t))
	require.NoError(t, w.Start(ctx))
	defer w.Stop() //nolint:errcheck

	time.Sleep(300 * time.Millisecond)
	require.Empty(t, rec.snapshot())
}
