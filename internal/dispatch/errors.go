package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskTimeout: the detector exceeded its computed budget and was
	// forcibly terminated.
	ErrTaskTimeout = errors.New("task exceeded timeout budget")
	// ErrTaskProcess: the detector exited non-zero.
	ErrTaskProcess = errors.New("detector process failed")
	// ErrTaskOutputMissing: clean exit but no valid artifact on disk.
	ErrTaskOutputMissing = errors.New("detector exited cleanly but wrote no valid artifact")
	// ErrCancelled: the whole run was interrupted; the task must be
	// re-attempted by a subsequent invocation.
	ErrCancelled = errors.New("run cancelled")
)

// TaskError records why one task failed, with the tail of the process
// output retained for diagnostics.
type TaskError struct {
	Kind   error // one of the sentinel errors above
	Detail error
	Output string
}

func (e *TaskError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Detail)
	}
	return e.Kind.Error()
}

func (e *TaskError) Unwrap() error { return e.Kind }
