package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/internal/mirror"
	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/types"
)

// Assigner assigns one work item to one worker, idempotently.
//
// The document store and the realtime mirror are written independently;
// a partial failure leaves the item visible as pending in one view and a
// later reconciliation sweep retries, bounded by the no-clobber guard to
// a redundant metadata write rather than a double assignment.
type Assigner struct {
	docs   store.DocumentStore
	mirror *mirror.Mirror
	cursor *CursorStore

	logger  types.Logger
	metrics types.AssignerMetrics
}

// New creates an assigner over the two stores and the rotation cursor.
func New(docs store.DocumentStore, m *mirror.Mirror, cursor *CursorStore, logger types.Logger, metrics types.AssignerMetrics) *Assigner {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Assigner{
		docs:    docs,
		mirror:  m,
		cursor:  cursor,
		logger:  logger,
		metrics: metrics,
	}
}

// Assign assigns the item to the next worker in rotation.
//
// Returns the chosen worker ID iff a new assignment was written, and ""
// when the pool is empty, the item is already assigned in either store,
// or the attempt failed. Failures are recorded on the item as
// diagnostics and returned, never panicking, so batch callers can
// isolate them per item.
func (a *Assigner) Assign(ctx context.Context, itemID string, eligible []string, source types.AssignmentSource) (string, error) {
	if len(eligible) == 0 {
		a.record(source, "empty_pool")
		return "", nil
	}

	assigned, err := a.alreadyAssigned(ctx, itemID)
	if err != nil {
		a.record(source, "error")
		a.recordDiagnostic(ctx, itemID, err)

		return "", err
	}
	if assigned {
		a.record(source, "already_assigned")
		a.logger.Debug("item already assigned, skipping", "item_id", itemID)

		return "", nil
	}

	workerID, err := a.cursor.Advance(ctx, eligible)
	if err != nil {
		a.record(source, "error")
		if !errors.Is(err, types.ErrCursorConflict) {
			a.recordDiagnostic(ctx, itemID, err)
		}

		return "", fmt.Errorf("cursor advance for item %s: %w", itemID, err)
	}

	// Display metadata is best-effort: a missing roster record must not
	// fail the assignment.
	workerName := ""
	if worker, err := a.docs.GetWorker(ctx, workerID); err == nil {
		workerName = worker.DisplayName
	} else if !errors.Is(err, types.ErrWorkerNotFound) {
		a.logger.Warn("worker metadata lookup failed", "worker_id", workerID, "error", err)
	}

	if err := a.docs.CompleteAssignment(ctx, itemID, workerID, workerName, source); err != nil {
		// The write is also guarded in the store: losing that race to a
		// concurrent assigner is the idempotent outcome, not a failure.
		if errors.Is(err, types.ErrAlreadyAssigned) {
			a.record(source, "already_assigned")
			a.logger.Debug("item assigned concurrently, skipping", "item_id", itemID)

			return "", nil
		}

		a.record(source, "error")
		a.recordDiagnostic(ctx, itemID, err)

		return "", fmt.Errorf("assignment write for item %s: %w", itemID, err)
	}

	// The mirror write is independent; on failure the authoritative
	// assignment stands and the mirror converges on the next sweep.
	if err := a.mirror.CompleteAssignment(ctx, itemID, workerID, workerName, source); err != nil {
		a.logger.Warn("mirror assignment write failed, reconciliation will converge",
			"item_id", itemID, "worker_id", workerID, "error", err)
	}

	a.appendLog(ctx, itemID, workerID, source)

	a.record(source, "assigned")
	a.logger.Info("item assigned", "item_id", itemID, "worker_id", workerID, "source", source)

	return workerID, nil
}

// alreadyAssigned is the no-clobber guard: both stores are consulted
// because they are independently, eventually consistent with each other.
// The document store is authoritative and checked first.
func (a *Assigner) alreadyAssigned(ctx context.Context, itemID string) (bool, error) {
	item, err := a.docs.GetItem(ctx, itemID)
	switch {
	case err == nil:
		if item.Assigned() {
			return true, nil
		}
	case errors.Is(err, types.ErrItemNotFound):
		// The item may exist only in the mirror; fall through.
	default:
		return false, fmt.Errorf("no-clobber check (document store) for item %s: %w", itemID, err)
	}

	mirrored, err := a.mirror.Get(ctx, itemID)
	switch {
	case err == nil:
		if mirrored.Assigned() {
			return true, nil
		}
	case errors.Is(err, types.ErrItemNotFound):
	default:
		return false, fmt.Errorf("no-clobber check (realtime mirror) for item %s: %w", itemID, err)
	}

	return false, nil
}

// appendLog writes the audit entry, best-effort and non-blocking for the
// primary outcome.
func (a *Assigner) appendLog(ctx context.Context, itemID, workerID string, source types.AssignmentSource) {
	entry := types.AssignmentLogEntry{
		ItemID:     itemID,
		WorkerID:   workerID,
		AssignedAt: time.Now().UTC(),
		Source:     source,
	}

	if err := a.docs.AppendAssignmentLog(ctx, entry); err != nil {
		a.logger.Warn("assignment log append failed", "item_id", itemID, "worker_id", workerID, "error", err)
	}
}

// recordDiagnostic stores the failure on the item, best-effort.
func (a *Assigner) recordDiagnostic(ctx context.Context, itemID string, cause error) {
	if err := a.docs.RecordAssignmentError(ctx, itemID, cause.Error()); err != nil {
		a.logger.Warn("failed to record assignment error", "item_id", itemID, "error", err)
	}
}

func (a *Assigner) record(source types.AssignmentSource, outcome string) {
	if a.metrics != nil {
		a.metrics.RecordAssignment(source, outcome)
	}
}
