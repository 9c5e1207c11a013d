// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/storekit/rotor/types"

// NopMetrics is a no-op metrics collector used when no collector is
// configured.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordAssignment is a no-op.
func (n *NopMetrics) RecordAssignment(_ types.AssignmentSource, _ string) {}

// RecordCursorConflict is a no-op.
func (n *NopMetrics) RecordCursorConflict() {}

// RecordSweep is a no-op.
func (n *NopMetrics) RecordSweep(_, _ int, _ float64) {}

// RecordSweepAborted is a no-op.
func (n *NopMetrics) RecordSweepAborted(_ string) {}

// RecordEligibleWorkers is a no-op.
func (n *NopMetrics) RecordEligibleWorkers(_ int) {}

// RecordLookupFailure is a no-op.
func (n *NopMetrics) RecordLookupFailure() {}
