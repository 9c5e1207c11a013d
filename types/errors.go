package types

import (
	"errors"
	"strings"
)

// Sentinel errors shared across the engine.
//
// Components return these for known conditions so callers can branch with
// errors.Is(), and wrap external errors with fmt.Errorf("...: %w", err).

// Engine errors - public API errors returned by the Engine.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when the NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrDocumentStoreRequired is returned when the document store is nil.
	ErrDocumentStoreRequired = errors.New("document store is required")

	// ErrAlreadyStarted is returned when Start is called on a running engine.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is returned when operations require a started engine.
	ErrNotStarted = errors.New("engine not started")
)

// Assignment errors.
var (
	// ErrNoEligibleWorkers indicates an empty eligible-worker pool.
	// Callers treat this as "no one available", not a failure.
	ErrNoEligibleWorkers = errors.New("no eligible workers")

	// ErrAlreadyAssigned indicates the item already has an assignee in at
	// least one store; the no-clobber guard refused to write.
	ErrAlreadyAssigned = errors.New("item already assigned")

	// ErrCursorConflict indicates the optimistic cursor update lost every
	// retry against concurrent writers. The item stays unassigned and is
	// picked up by the next sweep.
	ErrCursorConflict = errors.New("assignment cursor conflict")
)

// Store errors.
var (
	// ErrItemNotFound is returned when a work item does not exist.
	ErrItemNotFound = errors.New("work item not found")

	// ErrWorkerNotFound is returned when a worker roster record does not exist.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrConnectivity indicates a store connectivity issue rather than an
	// application error.
	ErrConnectivity = errors.New("connectivity issue")
)

// HTTP errors.
var (
	// ErrUnauthorized is returned for a missing or wrong reconcile secret.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsNoKeysFoundError checks whether an error is the NATS KV "no keys found"
// condition, which an empty bucket reports as an error rather than an empty
// list. It may arrive direct ("nats: no keys found") or wrapped.
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}

	return strings.Contains(err.Error(), "no keys found")
}
