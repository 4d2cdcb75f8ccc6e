// Package metrics records build metrics with Prometheus collectors.
//
// Collectors live on a private registry owned by the Recorder, so several
// builders in one process (and parallel tests) never collide on the global
// default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Benny93/pygraph/internal/graph"
)

const namespace = "pygraph"

// Recorder collects metrics for graph builds.
//
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	builds         prometheus.Counter
	units          *prometheus.CounterVec
	failures       prometheus.Counter
	edges          *prometheus.CounterVec
	unresolved     *prometheus.CounterVec
	phaseDurations *prometheus.HistogramVec
	buildDuration  prometheus.Histogram
}

// NewRecorder creates a recorder on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		// builds counts completed builds.
		builds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "total",
			Help:      "Completed graph builds",
		}),

		// units counts units by outcome.
		// Labels: outcome (parsed, failed)
		units: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "units_total",
			Help:      "Units processed by outcome",
		}, []string{"outcome"}),

		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "parse_failures_total",
			Help:      "Units that produced no syntax tree",
		}),

		// edges counts assembled edges.
		// Labels: kind (contains, inherits, calls, instantiates, imports)
		edges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "edges_total",
			Help:      "Assembled edges by kind",
		}, []string{"kind"}),

		// unresolved counts unresolved references.
		// Labels: reason (not_found, builtin, external, dynamic, cycle)
		unresolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "unresolved_total",
			Help:      "Unresolved references by reason",
		}, []string{"reason"}),

		phaseDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each build phase",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),

		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "End-to-end build duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObservePhase records the duration of one build phase.
func (r *Recorder) ObservePhase(phase string, d time.Duration) {
	if r == nil {
		return
	}
	r.phaseDurations.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordBuild records the outcome of a finished build.
func (r *Recorder) RecordBuild(g *graph.CodeGraph, report *graph.BuildReport) {
	if r == nil || report == nil {
		return
	}
	r.builds.Inc()
	r.units.WithLabelValues("parsed").Add(float64(report.Parsed))
	r.units.WithLabelValues("failed").Add(float64(len(report.Failures)))
	r.failures.Add(float64(len(report.Failures)))
	r.buildDuration.Observe(report.Duration.Seconds())

	if g != nil {
		for _, kind := range graph.EdgeKinds {
			if n := len(g.EdgesByKind(kind)); n > 0 {
				r.edges.WithLabelValues(string(kind)).Add(float64(n))
			}
		}
	}
	for reason, n := range report.UnresolvedByReason() {
		r.unresolved.WithLabelValues(string(reason)).Add(float64(n))
	}
}
