package rotor

import "github.com/storekit/rotor/types"

// Re-export types from the types subpackage.
//
// This file provides a stable public API for the library's core types and
// interfaces via type aliases. Internal packages depend on `types` without
// depending on the root `rotor` package, avoiding import cycles, while
// users still get the convenient rotor.WorkItem, rotor.Logger, etc.
type (
	WorkItem           = types.WorkItem
	Worker             = types.Worker
	Cursor             = types.Cursor
	AssignmentLogEntry = types.AssignmentLogEntry
	SweepResult        = types.SweepResult
	ItemStatus         = types.ItemStatus
	AssignmentSource   = types.AssignmentSource
	WorkerStatus       = types.WorkerStatus
)

// Re-export interfaces from the types subpackage for convenience.
type (
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-export item status constants.
const (
	StatusUnassigned = types.StatusUnassigned
	StatusPending    = types.StatusPending
	StatusAssigned   = types.StatusAssigned
)

// Re-export assignment source constants.
const (
	SourceCreation      = types.SourceCreation
	SourcePresenceSweep = types.SourcePresenceSweep
	SourceManualSweep   = types.SourceManualSweep
)
