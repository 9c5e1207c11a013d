package presence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/types"
)

// Watcher errors.
var (
	ErrWatcherAlreadyStarted = fmt.Errorf("presence watcher already started")
	ErrWatcherAlreadyStopped = fmt.Errorf("presence watcher already stopped")
	ErrWatcherNotStarted     = fmt.Errorf("presence watcher not started")
)

// Watcher observes the presence bucket and reports genuine
// offline-to-online transitions.
//
// It keeps a per-worker view of live connection IDs so connection
// renewals (a Put on an existing key) and extra tabs (a second key for an
// already-online worker) are ignored; only a worker going from zero to at
// least one connection fires the callback.
//
// Detection is hybrid, watcher first with periodic polling as fallback:
// the poll rebuilds the view from a full key scan so TTL expiries that
// produced no watch event cannot permanently mask a later transition.
type Watcher struct {
	kv           jetstream.KeyValue
	keyPrefix    string
	pattern      string
	pollInterval time.Duration
	onOnline     func(ctx context.Context, workerID string)
	logger       types.Logger

	viewMu sync.Mutex
	conns  map[string]map[string]struct{} // workerID -> live connection IDs

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a presence watcher.
//
// Parameters:
//   - kv: presence KV bucket
//   - pollInterval: fallback view-refresh interval (typically TTL/2)
//   - onOnline: invoked with the worker ID on each offline→online transition
//   - logger: logger, nil for none
func NewWatcher(kv jetstream.KeyValue, pollInterval time.Duration, onOnline func(ctx context.Context, workerID string), logger types.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Watcher{
		kv:           kv,
		keyPrefix:    DefaultConnPrefix + ".",
		pattern:      DefaultConnPrefix + ".>",
		pollInterval: pollInterval,
		onOnline:     onOnline,
		logger:       logger,
		conns:        make(map[string]map[string]struct{}),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start seeds the connection view and begins watching in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWatcherAlreadyStopped
	}
	if w.started {
		return ErrWatcherAlreadyStarted
	}

	// Seed the view before watching so workers already online at startup
	// do not register as transitions.
	if err := w.refreshView(ctx, false); err != nil {
		return fmt.Errorf("failed to seed presence view: %w", err)
	}

	watcher, err := w.kv.Watch(ctx, w.pattern, jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("failed to start presence watcher: %w", err)
	}

	w.started = true
	go w.run(ctx, watcher)

	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrWatcherNotStarted
	}
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	return nil
}

func (w *Watcher) run(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer close(w.doneCh)
	defer func() {
		if err := watcher.Stop(); err != nil {
			w.logger.Warn("failed to stop presence key watcher", "error", err)
		}
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case entry := <-watcher.Updates():
			if entry == nil {
				continue
			}
			w.handleEntry(ctx, entry)
		case <-ticker.C:
			if err := w.refreshView(ctx, true); err != nil {
				w.logger.Error("presence poll failed", "error", err)
			}
		}
	}
}

// handleEntry applies one watch event to the view and fires the callback
// on a genuine offline→online transition.
func (w *Watcher) handleEntry(ctx context.Context, entry jetstream.KeyValueEntry) {
	workerID, connID := w.parseKey(entry.Key())
	if workerID == "" {
		return
	}

	var wentOnline bool

	w.viewMu.Lock()
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		before := len(w.conns[workerID])
		if w.conns[workerID] == nil {
			w.conns[workerID] = make(map[string]struct{})
		}
		w.conns[workerID][connID] = struct{}{}
		wentOnline = before == 0

	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		delete(w.conns[workerID], connID)
		if len(w.conns[workerID]) == 0 {
			delete(w.conns, workerID)
		}
	}
	w.viewMu.Unlock()

	if wentOnline && w.onOnline != nil {
		w.logger.Info("worker came online", "worker_id", workerID, "conn_id", connID)
		w.onOnline(ctx, workerID)
	}
}

// refreshView rebuilds the connection view from a full key scan. When
// notify is set, workers that appear online without a recorded prior
// connection fire the transition callback.
func (w *Watcher) refreshView(ctx context.Context, notify bool) error {
	keys, err := w.kv.Keys(ctx)
	if err != nil && !types.IsNoKeysFoundError(err) {
		return fmt.Errorf("failed to list presence keys: %w", err)
	}

	fresh := make(map[string]map[string]struct{})
	for _, key := range keys {
		workerID, connID := w.parseKey(key)
		if workerID == "" {
			continue
		}
		if fresh[workerID] == nil {
			fresh[workerID] = make(map[string]struct{})
		}
		fresh[workerID][connID] = struct{}{}
	}

	var transitions []string

	w.viewMu.Lock()
	if notify {
		for workerID := range fresh {
			if len(w.conns[workerID]) == 0 {
				transitions = append(transitions, workerID)
			}
		}
	}
	w.conns = fresh
	w.viewMu.Unlock()

	for _, workerID := range transitions {
		w.logger.Info("worker came online (detected by poll)", "worker_id", workerID)
		if w.onOnline != nil {
			w.onOnline(ctx, workerID)
		}
	}

	return nil
}

// parseKey splits "conn.<workerID>.<connID>" into its parts, returning
// empty strings for keys outside the presence namespace.
func (w *Watcher) parseKey(key string) (workerID, connID string) {
	if !strings.HasPrefix(key, w.keyPrefix) {
		return "", ""
	}

	rest := key[len(w.keyPrefix):]
	idx := strings.LastIndex(rest, ".")
	if idx <= 0 {
		return "", ""
	}

	return rest[:idx], rest[idx+1:]
}
