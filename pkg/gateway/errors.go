package gateway

import (
	"errors"
	"fmt"
)

// TransientError wraps a failure that is expected to clear on its own: a
// network hiccup, a scheduler daemon restart, a timed-out CLI invocation.
// Callers retry with backoff rather than giving up on the instance.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient gateway error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError wraps a submission the scheduler refused outright, such
// as an invalid resource request. Retrying an identical request can never
// succeed, so the instance is failed immediately.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("submission rejected by scheduler: %s", e.Reason)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is (or wraps) a RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
