package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations must be non-blocking and thread-safe; all methods are
// called from trigger handlers and background sweeps.
type MetricsCollector interface {
	AssignerMetrics
	SweepMetrics
	PresenceMetrics
}

// AssignerMetrics covers the per-item assignment path.
type AssignerMetrics interface {
	// RecordAssignment records one Assign outcome.
	//
	// Parameters:
	//   - source: trigger path ("creation", "presence-sweep", "manual-sweep")
	//   - outcome: "assigned", "already_assigned", "empty_pool", "error"
	RecordAssignment(source AssignmentSource, outcome string)

	// RecordCursorConflict records one optimistic cursor update conflict.
	RecordCursorConflict()
}

// SweepMetrics covers reconciliation sweeps.
type SweepMetrics interface {
	// RecordSweep records a completed sweep.
	//
	// Parameters:
	//   - found: candidate items discovered across both stores
	//   - processed: items successfully assigned
	//   - seconds: sweep wall time in seconds
	RecordSweep(found, processed int, seconds float64)

	// RecordSweepAborted records a sweep abandoned before any writes.
	RecordSweepAborted(reason string)
}

// PresenceMetrics covers eligibility resolution.
type PresenceMetrics interface {
	// RecordEligibleWorkers sets the eligible worker count gauge.
	RecordEligibleWorkers(count int)

	// RecordLookupFailure records one worker roster lookup failure during
	// eligibility resolution.
	RecordLookupFailure()
}
