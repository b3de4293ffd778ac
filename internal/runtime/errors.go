package runtime

import (
	"errors"
	"fmt"
)

// ErrCancelRequested signals that cooperative cancellation was observed at a
// suspension point. Workflows translate it into their cancellation result.
var ErrCancelRequested = errors.New("workflow cancellation requested")

// ErrHeartbeatTimeout indicates an activity attempt stopped heartbeating.
var ErrHeartbeatTimeout = errors.New("activity heartbeat timeout")

// ErrWorkflowNotFound indicates no handle exists for the requested ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrWorkflowFinished indicates a signal was sent to a terminal workflow.
var ErrWorkflowFinished = errors.New("workflow already finished")

// ErrUnknownSignal indicates the workflow registered no such signal handler.
var ErrUnknownSignal = errors.New("unknown signal")

// ErrUnknownQuery indicates the workflow registered no such query handler.
var ErrUnknownQuery = errors.New("unknown query")

// ActivityFailure wraps the last error of an activity invocation after the
// retry budget is exhausted or a non-retryable error class was hit.
type ActivityFailure struct {
	Activity string
	Attempts int
	Err      error
}

func (f *ActivityFailure) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempt(s): %v", f.Activity, f.Attempts, f.Err)
}

func (f *ActivityFailure) Unwrap() error {
	return f.Err
}

// ClassifiedError is implemented by domain errors that carry a stable class
// name, matched against a policy's non-retryable set.
type ClassifiedError interface {
	error
	Class() string
}

// ErrorClass returns the class of the first classified error in err's chain,
// or the empty string if none is found.
func ErrorClass(err error) string {
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class()
	}
	return ""
}
