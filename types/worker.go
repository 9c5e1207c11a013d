package types

// WorkerStatus is the roster state of a worker, owned by roster
// administration and read-only to this engine.
type WorkerStatus string

const (
	WorkerActive    WorkerStatus = "active"
	WorkerSuspended WorkerStatus = "suspended"
	WorkerInactive  WorkerStatus = "inactive"
)

// Worker is an agent who can receive WorkItems (a seller).
//
// The roster document is owned by worker administration; the engine only
// reads Role and Status to decide eligibility and DisplayName for
// denormalization.
type Worker struct {
	ID          string       `json:"id" bson:"_id"`
	Role        string       `json:"role" bson:"role"`
	Status      WorkerStatus `json:"status" bson:"status"`
	DisplayName string       `json:"displayName" bson:"display_name"`
	Email       string       `json:"email" bson:"email"`
}

// Eligible reports whether the worker may receive assignments given the
// required role. Online-ness is judged separately from presence data;
// this covers only the roster half of the eligibility rule.
func (w *Worker) Eligible(role string) bool {
	if w.Role != role {
		return false
	}

	return w.Status != WorkerSuspended && w.Status != WorkerInactive
}
