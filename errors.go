package rotor

import "github.com/storekit/rotor/types"

// Sentinel errors returned by the Engine, re-exported from the types
// subpackage so internal packages and users share the same values.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired

	// ErrDocumentStoreRequired is returned when the document store is nil.
	ErrDocumentStoreRequired = types.ErrDocumentStoreRequired

	// ErrAlreadyStarted is returned when Start is called on a running engine.
	ErrAlreadyStarted = types.ErrAlreadyStarted

	// ErrNotStarted is returned when operations require a started engine.
	ErrNotStarted = types.ErrNotStarted

	// ErrNoEligibleWorkers indicates an empty eligible-worker pool.
	ErrNoEligibleWorkers = types.ErrNoEligibleWorkers

	// ErrAlreadyAssigned indicates the no-clobber guard refused to write.
	ErrAlreadyAssigned = types.ErrAlreadyAssigned

	// ErrCursorConflict indicates the cursor update lost every retry; the
	// item stays unassigned and the next sweep retries it.
	ErrCursorConflict = types.ErrCursorConflict

	// ErrItemNotFound is returned when a work item does not exist.
	ErrItemNotFound = types.ErrItemNotFound

	// ErrWorkerNotFound is returned when a worker roster record does not exist.
	ErrWorkerNotFound = types.ErrWorkerNotFound

	// ErrUnauthorized is returned for a missing or wrong reconcile secret.
	ErrUnauthorized = types.ErrUnauthorized
)
