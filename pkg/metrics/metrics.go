package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchcompose_instances_total",
			Help: "Number of tracked instances by composition key and state",
		},
		[]string{"composition_key", "state"},
	)

	TargetInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batchcompose_target_instances",
			Help: "Desired instance count by composition key",
		},
		[]string{"composition_key"},
	)

	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchcompose_reconciliation_cycles_total",
			Help: "Total number of completed reconciliation ticks",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batchcompose_reconciliation_duration_seconds",
			Help:    "Reconciliation tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchcompose_submissions_total",
			Help: "Total number of job submissions by composition key and outcome",
		},
		[]string{"composition_key", "outcome"},
	)

	CancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchcompose_cancellations_total",
			Help: "Total number of job cancellations by composition key",
		},
		[]string{"composition_key"},
	)

	PreemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchcompose_preemptions_total",
			Help: "Total number of observed preemptions by composition key",
		},
		[]string{"composition_key"},
	)

	// Gateway metrics
	GatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchcompose_gateway_errors_total",
			Help: "Total number of transient gateway errors by operation",
		},
		[]string{"operation"},
	)

	// Persistence metrics
	PersistenceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batchcompose_persistence_errors_total",
			Help: "Total number of failed state snapshot writes",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(TargetInstances)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(CancellationsTotal)
	prometheus.MustRegister(PreemptionsTotal)
	prometheus.MustRegister(GatewayErrorsTotal)
	prometheus.MustRegister(PersistenceErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes the metrics endpoint on the given address. It blocks, so
// callers run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
