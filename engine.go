package rotor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/storekit/rotor/internal/assign"
	"github.com/storekit/rotor/internal/hooks"
	"github.com/storekit/rotor/internal/kvutil"
	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/internal/metrics"
	"github.com/storekit/rotor/internal/mirror"
	"github.com/storekit/rotor/internal/natsutil"
	"github.com/storekit/rotor/internal/presence"
	"github.com/storekit/rotor/internal/reconcile"
	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/types"
)

// Engine is the order-dispatch coordinator.
//
// It watches the realtime item mirror for newly created orders, watches
// the presence bucket for workers coming back online, runs a periodic
// safety-net sweep, and exposes Reconcile for the manual HTTP endpoint.
// Every path funnels into the same idempotent per-item assignment, so
// overlapping triggers are harmless.
//
// Thread safety:
//   - All public methods are safe for concurrent use
//   - An item is never double-assigned; the no-clobber guard checks both
//     stores before any write
//
// Lifecycle:
//   - Create with NewEngine()
//   - Call Start() to create KV buckets and begin watching
//   - Use hooks to react to assignments and sweeps
//   - Call Stop() for graceful shutdown
type Engine struct {
	cfg  Config
	conn *nats.Conn
	docs store.DocumentStore

	// Optional dependencies
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger

	// Internal components, built on Start
	mirror          *mirror.Mirror
	registry        *presence.Registry
	assigner        *assign.Assigner
	reconciler      *reconcile.Reconciler
	presenceWatcher *presence.Watcher
	itemWatcher     jetstream.KeyWatcher

	// sweepCh carries presence-transition signals into the sweep loop,
	// where they are debounced into a single sweep.
	sweepCh chan struct{}

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool // claimed at the top of Start, rolled back on failure
	ready   bool // set once startup completed and the components exist
	stopped bool
}

// NewEngine creates a new Engine instance with the provided configuration.
//
// Returns a concrete *Engine following the "accept interfaces, return
// structs" principle; consumers can define their own narrow interfaces
// for testing.
//
// Parameters:
//   - cfg: Runtime configuration with parsed durations
//   - conn: NATS connection for the realtime store
//   - docs: Authoritative document store (store/mongo in production,
//     store/memory in tests)
//   - opts: Optional configuration (hooks, metrics, logger)
//
// Returns:
//   - *Engine: Initialized engine instance
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := rotor.DefaultConfig()
//	docs, err := mongo.Connect(ctx, uri, "shop")
//	eng, err := rotor.NewEngine(&cfg, natsConn, docs)
func NewEngine(cfg *Config, conn *nats.Conn, docs store.DocumentStore, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}

	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Safe defaults for optional dependencies avoid nil checks everywhere.
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	return &Engine{
		cfg:     *cfg,
		conn:    conn,
		docs:    docs,
		hooks:   hooksInstance,
		metrics: metricsCollector,
		logger:  loggerInstance,
		sweepCh: make(chan struct{}, 1),
	}, nil
}

// Start creates the KV buckets, seeds the watchers, and begins dispatch.
//
// Parameters:
//   - ctx: Context bounding startup; the engine itself runs until Stop
//
// Returns:
//   - error: Startup error or context cancellation
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}

	// Claim the running state before unlocking so a concurrent Start
	// loses here instead of racing the setup below and overwriting the
	// winner's context and watchers.
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	if err := e.startup(ctx); err != nil {
		e.cancel()

		e.mu.Lock()
		e.started = false
		e.mu.Unlock()

		return err
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()

	e.logger.Info("dispatch engine started",
		"role", e.cfg.WorkerRole,
		"presence_bucket", e.cfg.KVBuckets.PresenceBucket,
		"items_bucket", e.cfg.KVBuckets.ItemsBucket,
		"sweep_interval", e.cfg.Sweep.Interval)

	return nil
}

func (e *Engine) startup(ctx context.Context) error {
	startupCtx := ctx
	if e.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, e.cfg.StartupTimeout)
		defer cancel()
	}

	js, err := jetstream.New(e.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	presenceKV, err := kvutil.EnsureBucket(startupCtx, js, jetstream.KeyValueConfig{
		Bucket: e.cfg.KVBuckets.PresenceBucket,
		TTL:    e.cfg.KVBuckets.PresenceTTL,
	}, 3)
	if err != nil {
		return fmt.Errorf("failed to create presence KV: %w", err)
	}

	itemsKV, err := kvutil.EnsureBucket(startupCtx, js, jetstream.KeyValueConfig{
		Bucket: e.cfg.KVBuckets.ItemsBucket,
	}, 3)
	if err != nil {
		return fmt.Errorf("failed to create items KV: %w", err)
	}

	cursorKV, err := kvutil.EnsureBucket(startupCtx, js, jetstream.KeyValueConfig{
		Bucket: e.cfg.KVBuckets.CursorBucket,
	}, 3)
	if err != nil {
		return fmt.Errorf("failed to create cursor KV: %w", err)
	}

	e.mirror = mirror.New(itemsKV, "", e.logger)
	e.registry = presence.NewRegistry(presenceKV, e.docs, e.cfg.WorkerRole, e.logger, e.metrics)
	cursor := assign.NewCursorStore(cursorKV, e.cfg.CursorMaxRetries, e.logger, e.metrics)
	e.assigner = assign.New(e.docs, e.mirror, cursor, e.logger, e.metrics)
	e.reconciler = reconcile.New(e.docs, e.mirror, e.registry, e.assigner, e.logger, e.metrics)

	// Item change feed: only updates from now on; anything already in the
	// bucket that still needs assignment belongs to the sweeps.
	itemWatcher, err := e.mirror.Watch(e.ctx, jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("failed to watch items: %w", err)
	}
	e.itemWatcher = itemWatcher

	e.presenceWatcher = presence.NewWatcher(
		presenceKV,
		e.cfg.KVBuckets.PresenceTTL/2,
		e.onWorkerOnline,
		e.logger,
	)
	if err := e.presenceWatcher.Start(e.ctx); err != nil {
		stopErr := itemWatcher.Stop()
		if stopErr != nil {
			e.logger.Warn("failed to stop item watcher during startup rollback", "error", stopErr)
		}

		return fmt.Errorf("failed to start presence watcher: %w", err)
	}

	e.wg.Add(2)
	go e.runItemFeed(itemWatcher)
	go e.runSweepLoop()

	return nil
}

// Stop gracefully shuts down the engine, waiting for in-flight handlers
// up to ShutdownTimeout (or the given context, whichever ends first).
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()

	// The watchers are nil when Stop overlaps a Start that has claimed
	// the running state but not finished setup; cancelling the context
	// above is enough to unwind that Start.
	if e.presenceWatcher != nil {
		if err := e.presenceWatcher.Stop(); err != nil && !errors.Is(err, presence.ErrWatcherNotStarted) {
			e.logger.Warn("failed to stop presence watcher", "error", err)
		}
	}
	if e.itemWatcher != nil {
		if err := e.itemWatcher.Stop(); err != nil {
			e.logger.Warn("failed to stop item watcher", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}

	e.logger.Info("dispatch engine stopped")

	return nil
}

// OnItemCreated handles one newly created order.
//
// With at least one eligible worker online the item is assigned
// immediately; with none it is parked as PENDING in both stores (status
// only, an existing assignment is never touched) and picked up by a
// later sweep.
func (e *Engine) OnItemCreated(ctx context.Context, itemID string) error {
	eligible, err := e.registry.ResolveActiveWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve workers for item %s: %w", itemID, err)
	}

	if len(eligible) == 0 {
		e.logger.Info("no eligible workers online, parking item", "item_id", itemID)
		return e.markPending(ctx, itemID)
	}

	workerID, err := e.assigner.Assign(ctx, itemID, eligible, SourceCreation)
	if err != nil {
		return err
	}
	if workerID != "" {
		e.fireOnAssigned(itemID, workerID, SourceCreation)
	}

	return nil
}

// Reconcile runs one sweep on demand with the given candidate cap and
// assignment source. The HTTP layer calls this for POST /reconcile.
func (e *Engine) Reconcile(ctx context.Context, maxItems int, source AssignmentSource) (SweepResult, error) {
	e.mu.Lock()
	ready := e.ready && !e.stopped
	e.mu.Unlock()

	if !ready {
		return SweepResult{}, ErrNotStarted
	}

	if maxItems <= 0 {
		maxItems = e.cfg.Sweep.BatchSize
	}

	result, err := e.reconciler.Reconcile(ctx, maxItems, source)
	if err != nil {
		e.fireOnError(ctx, err)
		return result, err
	}

	e.fireOnSweepCompleted(ctx, result)

	return result, nil
}

// Ping reports backing-store reachability: the document store and the
// NATS connection.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.docs.Ping(ctx); err != nil {
		return fmt.Errorf("document store: %w", err)
	}

	if status := e.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s: %w", status, types.ErrConnectivity)
	}

	return nil
}

// markPending parks the item in both stores. The document store write
// never clobbers an existing assignment; the mirror write is
// revision-checked and loses to a concurrent assignment.
func (e *Engine) markPending(ctx context.Context, itemID string) error {
	if err := e.docs.MarkItemPending(ctx, itemID); err != nil && !errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("failed to park item %s: %w", itemID, err)
	}

	if err := e.mirror.MarkPending(ctx, itemID); err != nil && !errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("failed to park item %s in mirror: %w", itemID, err)
	}

	return nil
}

// runItemFeed consumes the item mirror change feed.
func (e *Engine) runItemFeed(watcher jetstream.KeyWatcher) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil || entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			e.handleItemEntry(entry)
		}
	}
}

// handleItemEntry reacts to one mirror write. Only entries that still
// need an assignee are dispatched; assignment writes (our own included)
// and parked items pass through without action.
func (e *Engine) handleItemEntry(entry jetstream.KeyValueEntry) {
	itemID := e.mirror.ItemID(entry.Key())
	if itemID == "" {
		return
	}

	var item WorkItem
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		e.logger.Warn("skipping malformed item entry", "key", entry.Key(), "error", err)
		return
	}

	if item.Assigned() || item.Status == StatusPending {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.OperationTimeout)
	defer cancel()

	if err := e.OnItemCreated(ctx, itemID); err != nil {
		// Isolated per item: the error is recorded as a diagnostic and the
		// item stays visible to sweeps.
		e.logger.Error("item-created handling failed", "item_id", itemID, "error", err)
		e.fireOnError(ctx, err)
	}
}

// onWorkerOnline is the presence watcher callback for a genuine
// offline-to-online transition. It only signals the sweep loop; the
// sweep itself runs debounced so a reconnecting fleet triggers one pass.
func (e *Engine) onWorkerOnline(_ context.Context, workerID string) {
	e.logger.Debug("presence transition queued for sweep", "worker_id", workerID)

	select {
	case e.sweepCh <- struct{}{}:
	default: // a sweep is already queued
	}
}

// runSweepLoop serializes all background sweeps: debounced
// presence-transition sweeps and the periodic safety net.
func (e *Engine) runSweepLoop() {
	defer e.wg.Done()

	var tickerC <-chan time.Time
	if e.cfg.Sweep.Interval > 0 {
		ticker := time.NewTicker(e.cfg.Sweep.Interval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.sweepCh:
			if !e.debounce() {
				return
			}
			e.sweep(SourcePresenceSweep)
		case <-tickerC:
			e.sweep(SourceManualSweep)
		}
	}
}

// debounce waits out the configured window, absorbing further transition
// signals, and reports false when the engine stopped meanwhile.
func (e *Engine) debounce() bool {
	if e.cfg.Sweep.Debounce <= 0 {
		return true
	}

	timer := time.NewTimer(e.cfg.Sweep.Debounce)
	defer timer.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return false
		case <-e.sweepCh:
			// absorbed into the pending sweep
		case <-timer.C:
			return true
		}
	}
}

func (e *Engine) sweep(source AssignmentSource) {
	result, err := e.reconciler.Reconcile(e.ctx, e.cfg.Sweep.BatchSize, source)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}

		// Transient connectivity loss heals on reconnect and the next
		// sweep retries; only application failures escalate.
		if natsutil.IsConnectivityError(err) {
			e.logger.Warn("background sweep skipped, store unreachable", "source", source, "error", err)
		} else {
			e.logger.Error("background sweep failed", "source", source, "error", err)
			e.fireOnError(e.ctx, err)
		}

		return
	}

	e.fireOnSweepCompleted(e.ctx, result)
}

// Hook invocations run in background goroutines so they never block a
// trigger handler; errors are logged and otherwise ignored.

func (e *Engine) fireOnAssigned(itemID, workerID string, source AssignmentSource) {
	if e.hooks.OnAssigned == nil {
		return
	}

	go func() {
		if err := e.hooks.OnAssigned(e.ctx, itemID, workerID, source); err != nil {
			e.logger.Warn("OnAssigned hook failed", "item_id", itemID, "error", err)
		}
	}()
}

func (e *Engine) fireOnSweepCompleted(_ context.Context, result SweepResult) {
	if e.hooks.OnSweepCompleted == nil {
		return
	}

	go func() {
		if err := e.hooks.OnSweepCompleted(e.ctx, result); err != nil {
			e.logger.Warn("OnSweepCompleted hook failed", "error", err)
		}
	}()
}

func (e *Engine) fireOnError(_ context.Context, cause error) {
	if e.hooks.OnError == nil {
		return
	}

	go func() {
		if err := e.hooks.OnError(e.ctx, cause); err != nil {
			e.logger.Warn("OnError hook failed", "error", err)
		}
	}()
}
