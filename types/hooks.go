package types

import "context"

// Hooks defines optional callbacks for engine events.
//
// All hooks are called asynchronously in background goroutines so they
// never block a trigger handler. Hook errors are logged and otherwise
// ignored; hooks must be quick, idempotent, and respect the context,
// which is cancelled when the engine stops.
type Hooks struct {
	// OnAssigned is called after an item was assigned to a worker.
	OnAssigned func(ctx context.Context, itemID, workerID string, source AssignmentSource) error

	// OnSweepCompleted is called after a reconciliation sweep finishes.
	OnSweepCompleted func(ctx context.Context, result SweepResult) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}

// SweepResult is the observable outcome of one reconciliation sweep.
type SweepResult struct {
	// Found is the number of distinct pending/unassigned candidates
	// discovered across both stores.
	Found int `json:"found"`

	// Processed is the number of candidates successfully assigned.
	Processed int `json:"processed"`

	// Reason is set when the sweep aborted without writes,
	// e.g. "no_active_workers".
	Reason string `json:"reason,omitempty"`
}
