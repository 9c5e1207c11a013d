package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storekit/rotor/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	assignments     *prometheus.CounterVec
	cursorConflicts prometheus.Counter

	sweepFound     prometheus.Counter
	sweepProcessed prometheus.Counter
	sweepDuration  prometheus.Histogram
	sweepAborted   *prometheus.CounterVec

	eligibleWorkers prometheus.Gauge
	lookupFailures  prometheus.Counter
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "rotor" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rotor"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assigner",
			Name:      "assignments_total",
			Help:      "Total Assign outcomes by trigger source and outcome.",
		}, []string{"source", "outcome"})

		p.cursorConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assigner",
			Name:      "cursor_conflicts_total",
			Help:      "Total optimistic cursor update conflicts.",
		})

		p.sweepFound = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconciler",
			Name:      "candidates_found_total",
			Help:      "Total pending/unassigned candidates discovered by sweeps.",
		})

		p.sweepProcessed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconciler",
			Name:      "candidates_processed_total",
			Help:      "Total candidates successfully assigned by sweeps.",
		})

		p.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "reconciler",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of reconciliation sweeps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		})

		p.sweepAborted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconciler",
			Name:      "sweeps_aborted_total",
			Help:      "Total sweeps abandoned before any writes, by reason.",
		}, []string{"reason"})

		p.eligibleWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "presence",
			Name:      "eligible_workers",
			Help:      "Eligible workers seen by the last resolution.",
		})

		p.lookupFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "presence",
			Name:      "lookup_failures_total",
			Help:      "Worker roster lookups that failed during resolution.",
		})

		collectors := []prometheus.Collector{
			p.assignments, p.cursorConflicts,
			p.sweepFound, p.sweepProcessed, p.sweepDuration, p.sweepAborted,
			p.eligibleWorkers, p.lookupFailures,
		}
		for _, c := range collectors {
			// AlreadyRegisteredError is tolerated so multiple engines can
			// share a registry in tests.
			if err := p.reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok { //nolint:errorlint
					panic(err)
				}
			}
		}
	})
}

// RecordAssignment records one Assign outcome.
func (p *PrometheusCollector) RecordAssignment(source types.AssignmentSource, outcome string) {
	p.ensureRegistered()
	p.assignments.WithLabelValues(string(source), outcome).Inc()
}

// RecordCursorConflict records one optimistic cursor update conflict.
func (p *PrometheusCollector) RecordCursorConflict() {
	p.ensureRegistered()
	p.cursorConflicts.Inc()
}

// RecordSweep records a completed sweep.
func (p *PrometheusCollector) RecordSweep(found, processed int, seconds float64) {
	p.ensureRegistered()
	p.sweepFound.Add(float64(found))
	p.sweepProcessed.Add(float64(processed))
	p.sweepDuration.Observe(seconds)
}

// RecordSweepAborted records a sweep abandoned before any writes.
func (p *PrometheusCollector) RecordSweepAborted(reason string) {
	p.ensureRegistered()
	p.sweepAborted.WithLabelValues(reason).Inc()
}

// RecordEligibleWorkers sets the eligible worker count gauge.
func (p *PrometheusCollector) RecordEligibleWorkers(count int) {
	p.ensureRegistered()
	p.eligibleWorkers.Set(float64(count))
}

// RecordLookupFailure records one roster lookup failure.
func (p *PrometheusCollector) RecordLookupFailure() {
	p.ensureRegistered()
	p.lookupFailures.Inc()
}
