package types

import (
	"fmt"
	"strings"
	"time"
)

// CompositionKey identifies one kind of job: a resource profile paired
// with a job template. Immutable once declared.
type CompositionKey struct {
	ResourceProfile string
	JobTemplate     string
}

// String returns the canonical "profile/template" form of the key.
func (k CompositionKey) String() string {
	return k.ResourceProfile + "/" + k.JobTemplate
}

// ParseCompositionKey parses the "profile/template" form back into a key.
func ParseCompositionKey(s string) (CompositionKey, error) {
	profile, template, ok := strings.Cut(s, "/")
	if !ok || profile == "" || template == "" {
		return CompositionKey{}, fmt.Errorf("invalid composition key: %q", s)
	}
	return CompositionKey{ResourceProfile: profile, JobTemplate: template}, nil
}

// DesiredComposition maps each composition key to its target instance count.
type DesiredComposition map[CompositionKey]int

// Clone returns an independent copy of the composition.
func (d DesiredComposition) Clone() DesiredComposition {
	out := make(DesiredComposition, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// LifecycleState represents the state of a tracked instance
type LifecycleState string

const (
	// StatePending means the instance has been submitted and is awaiting
	// its first status confirmation from the scheduler.
	StatePending LifecycleState = "pending"

	// StateRunning means the scheduler has confirmed the instance active.
	StateRunning LifecycleState = "running"

	// StatePreempted means the scheduler evicted a running preemptible
	// instance to reclaim resources.
	StatePreempted LifecycleState = "preempted"

	// StateTerminated means the instance finished normally or was cancelled.
	StateTerminated LifecycleState = "terminated"

	// StateFailed means the instance exited with an error, never appeared
	// at the scheduler, or its submission was rejected.
	StateFailed LifecycleState = "failed"
)

// Terminal reports whether the state absorbs: a record in a terminal
// state never counts toward a key's active set again.
func (s LifecycleState) Terminal() bool {
	switch s {
	case StatePreempted, StateTerminated, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle state machine permits
// moving from s to next. Records only move forward; recreation always
// produces a new record with a new ID.
func (s LifecycleState) CanTransition(next LifecycleState) bool {
	switch s {
	case StatePending:
		return next == StateRunning || next == StateTerminated || next == StateFailed
	case StateRunning:
		return next == StatePreempted || next == StateTerminated || next == StateFailed
	}
	return false
}

// InstanceRecord tracks one submitted unit of work, corresponding to one
// scheduler-level job.
type InstanceRecord struct {
	// ID is assigned at submission time and never reused, including
	// across process restarts.
	ID string

	// Key names the desired-composition bucket this instance counts toward.
	Key CompositionKey

	// SchedulerHandle is the scheduler's opaque job identifier. Empty only
	// in the window between deciding to submit and the scheduler
	// acknowledging the submission.
	SchedulerHandle string

	State LifecycleState

	// Preemptible marks instances whose loss triggers recreation with
	// elevated priority rather than being folded into the plain deficit.
	Preemptible bool

	// Elevated marks a replacement for a preempted instance; its
	// submission carries elevated priority so the restored workload
	// outranks routine backfill.
	Elevated bool

	// NotFoundCount counts consecutive "not found" observations while
	// Pending. Once it reaches the configured budget the record fails.
	NotFoundCount int

	// QueryFailures counts consecutive transient status-query failures.
	// Reset on any successful observation.
	QueryFailures int

	CreatedAt      time.Time
	LastObservedAt time.Time
	FinishedAt     time.Time
}

// Active reports whether the record counts toward its key's active set.
func (r *InstanceRecord) Active() bool {
	return !r.State.Terminal()
}

// StateCounts holds per-state instance counts for one composition key.
type StateCounts map[LifecycleState]int

// Active returns the number of instances counting toward the target.
func (c StateCounts) Active() int {
	return c[StatePending] + c[StateRunning]
}

// StatusSummary maps each composition key to its counts by state.
type StatusSummary map[CompositionKey]StateCounts
