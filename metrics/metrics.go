// Package metrics holds the prometheus collectors shared by the probe
// components. Collectors are registered with the default registry and served
// by the API under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TransformationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probe_transformations_total",
			Help: "Number of transformer runs by outcome (passed, failed, error).",
		},
		[]string{"outcome"},
	)
	TransformationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_transformation_duration_seconds",
			Help:    "Time taken by a single transformer run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	RunnerCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probe_runner_cache_hits_total",
			Help: "Transform requests answered from a persisted result.",
		},
	)
	RunnerJoinsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probe_runner_inflight_joins_total",
			Help: "Transform requests that joined an in-flight transformation.",
		},
	)
	RunnerInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "probe_runner_inflight",
			Help: "Transformations currently scheduled or running.",
		},
	)

	RegistryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probe_registry_requests_total",
			Help: "Requests sent to the mod registry by endpoint and status code.",
		},
		[]string{"endpoint", "status"},
	)

	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "probe_resolution_duration_seconds",
			Help:    "Time taken to resolve a project and its dependency tree.",
			Buckets: prometheus.DefBuckets,
		},
	)

	TestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "probe_test_requests_total",
			Help: "Test requests by response type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		TransformationsTotal,
		TransformationDuration,
		RunnerCacheHitsTotal,
		RunnerJoinsTotal,
		RunnerInFlight,
		RegistryRequestsTotal,
		ResolutionDuration,
		TestRequestsTotal,
	)
}
