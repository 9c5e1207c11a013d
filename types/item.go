package types

import "time"

// ItemStatus is the assignment lifecycle state of a WorkItem.
type ItemStatus string

// WorkItem lifecycle states. An item is created externally as
// StatusUnassigned and reaches the terminal StatusAssigned exactly once;
// StatusPending marks items created while no eligible worker was online.
const (
	StatusUnassigned ItemStatus = "UNASSIGNED"
	StatusPending    ItemStatus = "PENDING"
	StatusAssigned   ItemStatus = "ASSIGNED"
)

// AssignmentSource records which path produced an assignment.
type AssignmentSource string

const (
	// SourceCreation marks assignments made by the order-created trigger.
	SourceCreation AssignmentSource = "creation"

	// SourcePresenceSweep marks assignments made by a sweep triggered by a
	// worker coming back online.
	SourcePresenceSweep AssignmentSource = "presence-sweep"

	// SourceManualSweep marks assignments made by the manual HTTP endpoint
	// or the periodic safety-net sweep.
	SourceManualSweep AssignmentSource = "manual-sweep"
)

// WorkItem is a unit of work needing assignment (an order).
//
// The engine mutates Status, AssignedWorkerID, AssignedAt,
// AssignmentSource and AssignmentError; everything else on the
// underlying order document belongs to the checkout flow.
type WorkItem struct {
	// ID is the order identifier, owned by the order-creation flow.
	ID string `json:"id" bson:"_id"`

	// Status is the assignment lifecycle state.
	Status ItemStatus `json:"status" bson:"status"`

	// AssignedWorkerID is the worker this item was assigned to.
	// Empty until the item reaches StatusAssigned, never rewritten after.
	AssignedWorkerID string `json:"assignedWorkerId,omitempty" bson:"assigned_worker_id,omitempty"`

	// AssignedWorkerName is the denormalized display name of the assigned
	// worker, written best-effort for dashboard filtering.
	AssignedWorkerName string `json:"assignedWorkerName,omitempty" bson:"assigned_worker_name,omitempty"`

	// AssignedAt is the store-generated assignment timestamp.
	AssignedAt time.Time `json:"assignedAt,omitzero" bson:"assigned_at,omitempty"`

	// AssignmentSource records which trigger path produced the assignment.
	AssignmentSource AssignmentSource `json:"assignmentSource,omitempty" bson:"assignment_source,omitempty"`

	// AssignmentError holds the last assignment failure diagnostic, if any.
	AssignmentError string `json:"assignmentError,omitempty" bson:"assignment_error,omitempty"`

	// AssignmentErrorAt is when AssignmentError was recorded.
	AssignmentErrorAt time.Time `json:"assignmentErrorAt,omitzero" bson:"assignment_error_at,omitempty"`
}

// Assigned reports whether the item already has an assignee.
func (w *WorkItem) Assigned() bool {
	return w.AssignedWorkerID != ""
}

// PendingStatuses lists every status spelling that historically marked an
// item as awaiting assignment. Reconciliation queries match all of them to
// tolerate naming drift in old documents.
func PendingStatuses() []ItemStatus {
	return []ItemStatus{
		StatusUnassigned,
		StatusPending,
		ItemStatus("unassigned"),
		ItemStatus("pending"),
		ItemStatus("new"),
	}
}

// NeedsAssignment reports whether a status value looks like an
// unassigned/pending item, tolerating historical spellings.
func NeedsAssignment(status ItemStatus) bool {
	for _, s := range PendingStatuses() {
		if status == s {
			return true
		}
	}

	return status == ""
}

// AssignmentLogEntry is an append-only audit record written under the
// assigned worker. Read by reporting collaborators, never by the engine.
type AssignmentLogEntry struct {
	ItemID     string           `json:"itemId" bson:"item_id"`
	WorkerID   string           `json:"workerId" bson:"worker_id"`
	AssignedAt time.Time        `json:"assignedAt" bson:"assigned_at"`
	Source     AssignmentSource `json:"source" bson:"source"`
}

// Cursor is the singleton rotation pointer shared by all assigner
// invocations. It is mutated exclusively through an atomic
// compare-and-retry update on the realtime store.
type Cursor struct {
	LastAssignedWorkerID string `json:"lastAssignedWorkerId"`
}
