package gateway

import (
	"context"
)

// JobStatus is the scheduler's view of one job, as reported by a status
// query.
type JobStatus string

const (
	// StatusActive means the job is queued or running.
	StatusActive JobStatus = "active"

	// StatusCompleted means the job finished normally.
	StatusCompleted JobStatus = "completed"

	// StatusFailed means the job finished with a non-zero or error exit.
	StatusFailed JobStatus = "failed"

	// StatusPreempted means the scheduler evicted the job to reclaim
	// resources.
	StatusPreempted JobStatus = "preempted"

	// StatusNotFound means the scheduler has no record of the job.
	StatusNotFound JobStatus = "not_found"
)

// Priority selects the submission priority class for a job.
type Priority string

const (
	// PriorityNormal is the default submission priority.
	PriorityNormal Priority = "normal"

	// PriorityElevated is used when restoring preempted instances, so the
	// replacement outranks routine backfill submissions.
	PriorityElevated Priority = "elevated"
)

// SubmitSpec carries everything the scheduler needs to accept a job.
type SubmitSpec struct {
	// Name is the job name visible at the scheduler.
	Name string

	// Script is the fully rendered submission payload.
	Script string

	// Priority is the submission priority class.
	Priority Priority
}

// Gateway abstracts the external batch scheduler. Implementations may
// shell out to scheduler CLI tools, call a REST API, or fake the whole
// thing for tests. All calls are context-bound; a call that outlives its
// context is a transient failure, not a hung tick.
type Gateway interface {
	// Submit hands a rendered job to the scheduler and returns its opaque
	// handle. A refusal the scheduler will never accept (bad resource
	// request) is reported as a RejectedError; anything else is transient.
	Submit(ctx context.Context, spec SubmitSpec) (handle string, err error)

	// QueryStatus reports the scheduler's current view of the job.
	QueryStatus(ctx context.Context, handle string) (JobStatus, error)

	// Cancel asks the scheduler to terminate the job. Cancelling a job the
	// scheduler no longer knows is not an error.
	Cancel(ctx context.Context, handle string) error
}
