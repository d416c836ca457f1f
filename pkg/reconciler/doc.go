// Package reconciler runs the periodic control loop that converges
// observed instance state to the desired composition. It is a thin
// cadence layer: all reconciliation semantics live in the cluster
// package; this package only schedules ticks and manages the loop's
// lifetime, including waiting out the in-flight tick on stop.
package reconciler
