// Package reconcile sweeps both backing stores for items that still need
// an assignee and drives them through the assigner.
//
// Sweeps are the self-healing half of the dispatch engine: partial dual
// writes, items created while nobody was online, and assignments lost to
// crashes all converge here. Every query and every scan is bounded, and
// per-item failures never abort the remainder of a sweep.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/types"
)

// AbortNoActiveWorkers is the SweepResult reason set when a sweep found
// candidates but no eligible worker was online to take them.
const AbortNoActiveWorkers = "no_active_workers"

// Assigner assigns one item to the next worker in rotation, returning
// the chosen worker ID or "" when nothing was written.
type Assigner interface {
	Assign(ctx context.Context, itemID string, eligible []string, source types.AssignmentSource) (string, error)
}

// PoolResolver resolves the currently eligible worker pool.
type PoolResolver interface {
	ResolveActiveWorkers(ctx context.Context) ([]string, error)
}

// MirrorScanner lists realtime-store entries that still look unassigned.
type MirrorScanner interface {
	PendingItemIDs(ctx context.Context, maxItems int) ([]string, error)
}

// Reconciler finds unassigned candidates across both stores and assigns
// each one. Safe for concurrent use; overlapping sweeps are harmless
// because the assigner is idempotent per item.
type Reconciler struct {
	docs     store.DocumentStore
	mirror   MirrorScanner
	registry PoolResolver
	assigner Assigner

	logger  types.Logger
	metrics types.SweepMetrics
}

// New creates a reconciler over the given stores.
//
// Parameters:
//   - docs: authoritative document store
//   - mirror: realtime item mirror
//   - registry: eligibility resolver
//   - assigner: per-item assigner
//   - logger: logger, nil for none
//   - metrics: sweep metrics, nil for none
func New(docs store.DocumentStore, mirror MirrorScanner, registry PoolResolver, assigner Assigner, logger types.Logger, metrics types.SweepMetrics) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Reconciler{
		docs:     docs,
		mirror:   mirror,
		registry: registry,
		assigner: assigner,
		logger:   logger,
		metrics:  metrics,
	}
}

// Reconcile runs one bounded sweep.
//
// Candidates come from three capped queries: document-store items with a
// pending-looking status, document-store items with no assignee, and
// realtime entries lacking an assignee. The union is deduplicated,
// eligibility is resolved once, and each candidate is assigned
// sequentially with the given source.
//
// An empty eligible pool aborts the sweep before any writes with
// Reason "no_active_workers". A failed candidate query is logged and the
// sweep continues with the remaining sources; only all three failing is
// an error. Per-item assignment failures are logged and counted, never
// aborting the sweep.
func (r *Reconciler) Reconcile(ctx context.Context, maxItems int, source types.AssignmentSource) (types.SweepResult, error) {
	start := time.Now()

	candidates, err := r.collectCandidates(ctx, maxItems)
	if err != nil {
		return types.SweepResult{}, err
	}

	result := types.SweepResult{Found: len(candidates)}
	if len(candidates) == 0 {
		r.recordSweep(result, start)
		return result, nil
	}

	eligible, err := r.registry.ResolveActiveWorkers(ctx)
	if err != nil {
		return types.SweepResult{}, fmt.Errorf("failed to resolve eligible workers: %w", err)
	}

	if len(eligible) == 0 {
		result.Reason = AbortNoActiveWorkers
		r.logger.Info("sweep aborted, no active workers", "found", result.Found)
		if r.metrics != nil {
			r.metrics.RecordSweepAborted(AbortNoActiveWorkers)
		}

		return result, nil
	}

	var failed int
	for _, itemID := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		workerID, err := r.assigner.Assign(ctx, itemID, eligible, source)
		if err != nil {
			failed++
			r.logger.Warn("sweep item assignment failed", "item_id", itemID, "error", err)

			continue
		}
		if workerID != "" {
			result.Processed++
		}
	}

	r.recordSweep(result, start)
	r.logger.Info("sweep completed",
		"found", result.Found,
		"processed", result.Processed,
		"failed", failed,
		"eligible", len(eligible),
		"elapsed", time.Since(start))

	return result, nil
}

// collectCandidates unions the three bounded candidate queries in a
// stable order, deduplicated, capped at maxItems.
func (r *Reconciler) collectCandidates(ctx context.Context, maxItems int) ([]string, error) {
	type query struct {
		name string
		run  func() ([]string, error)
	}

	queries := []query{
		{"pending_status", func() ([]string, error) {
			return r.docs.FindItemsByStatus(ctx, types.PendingStatuses(), maxItems)
		}},
		{"missing_assignee", func() ([]string, error) {
			return r.docs.FindItemsWithoutAssignee(ctx, maxItems)
		}},
		{"realtime_mirror", func() ([]string, error) {
			return r.mirror.PendingItemIDs(ctx, maxItems)
		}},
	}

	seen := make(map[string]struct{})
	candidates := make([]string, 0, maxItems)
	failures := 0

	var lastErr error
	for _, q := range queries {
		ids, err := q.run()
		if err != nil {
			failures++
			lastErr = err
			r.logger.Warn("candidate query failed", "query", q.name, "error", err)

			continue
		}

		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			if len(candidates) < maxItems {
				candidates = append(candidates, id)
			}
		}
	}

	if failures == len(queries) {
		return nil, fmt.Errorf("all candidate queries failed: %w", lastErr)
	}

	return candidates, nil
}

func (r *Reconciler) recordSweep(result types.SweepResult, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordSweep(result.Found, result.Processed, time.Since(start).Seconds())
	}
}
