// Package store defines the document-store persistence interface for the
// engine. The document store is the authoritative side of the dual-store
// model; the realtime KV mirror is handled separately by the engine.
// Backends: MongoDB and Memory.
package store

import (
	"context"

	"github.com/storekit/rotor/types"
)

// DocumentStore is the authoritative persistence interface.
//
// Implementations must be safe for concurrent use. Item mutations touch
// only the assignment fields; the rest of the order document belongs to
// the checkout flow.
type DocumentStore interface {
	// GetItem returns the work item by ID, or types.ErrItemNotFound.
	GetItem(ctx context.Context, id string) (*types.WorkItem, error)

	// MarkItemPending sets status=PENDING on an item that has no assignee.
	// It must never touch an existing assignment: an already-assigned item
	// is left unchanged and no error is returned.
	MarkItemPending(ctx context.Context, id string) error

	// CompleteAssignment writes the terminal assignment: assignee, a
	// store-generated assignedAt timestamp, status=ASSIGNED and the
	// source. workerName is denormalized best-effort and may be empty.
	// An item that already carries an assignee is left untouched and
	// types.ErrAlreadyAssigned is returned.
	CompleteAssignment(ctx context.Context, id, workerID, workerName string, source types.AssignmentSource) error

	// RecordAssignmentError stores a failure diagnostic and its timestamp
	// on the item without changing the assignment fields.
	RecordAssignmentError(ctx context.Context, id, diagnostic string) error

	// FindItemsByStatus returns up to limit item IDs whose status matches
	// any of the given spellings.
	FindItemsByStatus(ctx context.Context, statuses []types.ItemStatus, limit int) ([]string, error)

	// FindItemsWithoutAssignee returns up to limit item IDs with an
	// explicit null/absent assignee.
	FindItemsWithoutAssignee(ctx context.Context, limit int) ([]string, error)

	// GetWorker returns the roster record by ID, or types.ErrWorkerNotFound.
	GetWorker(ctx context.Context, id string) (*types.Worker, error)

	// AppendAssignmentLog appends an audit entry under the assigned worker.
	AppendAssignmentLog(ctx context.Context, entry types.AssignmentLogEntry) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close(ctx context.Context) error
}
