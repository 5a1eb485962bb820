package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	apiCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "owfill",
			Subsystem: "api",
			Name:      "calls_total",
			Help:      "Remote calls by call type and outcome class.",
		}, []string{"call_type", "class"},
	)
	storeInserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "owfill",
			Subsystem: "store",
			Name:      "inserts_total",
			Help:      "Observation insert attempts by status.",
		}, []string{"call_type", "status"},
	)
	governorHalts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "owfill",
			Subsystem: "governor",
			Name:      "halts_total",
			Help:      "Run halts raised by the governor.",
		}, []string{"call_type", "reason"},
	)
	pacingSleep = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "owfill",
			Subsystem: "governor",
			Name:      "pacing_sleep_seconds",
			Help:      "Pacing delay imposed before each remote call.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "owfill",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Completed fill runs by final status.",
		}, []string{"call_type", "status"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{apiCalls, storeInserts, governorHalts, pacingSleep, runs}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				_ = are // keep existing
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncCall(callType, class string) {
	if regOK.Load() {
		apiCalls.WithLabelValues(callType, class).Inc()
	}
}
func IncInsert(callType, status string) {
	if regOK.Load() {
		storeInserts.WithLabelValues(callType, status).Inc()
	}
}
func IncGovernorHalt(callType, reason string) {
	if regOK.Load() {
		governorHalts.WithLabelValues(callType, reason).Inc()
	}
}
func ObservePacingSleep(seconds float64) {
	if regOK.Load() {
		pacingSleep.Observe(seconds)
	}
}
func IncRun(callType, status string) {
	if regOK.Load() {
		runs.WithLabelValues(callType, status).Inc()
	}
}
