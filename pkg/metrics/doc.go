// Package metrics defines the Prometheus instrumentation for
// batchcompose: instance counts by state, reconciliation cycle counts
// and durations, submission/cancellation/preemption counters, and
// gateway/persistence error counters. Serve exposes them over HTTP.
package metrics
