package dispatcher

import (
	"errors"
	"fmt"
)

// ErrMaxStepsExceeded aborts a run that executed more actions than allowed.
// ErrTransportExhausted fails an action whose every dispatch timed out.
var (
	ErrMaxStepsExceeded    = errors.New("maximum number of steps exceeded")
	ErrTransportExhausted  = errors.New("action timed out after all dispatch attempts")
	ErrUnresolvedReference = errors.New("argument references a result that is not available")
	ErrUnknownVariable     = errors.New("argument references an unknown variable")
	ErrUnknownAction       = errors.New("action not found in workflow")
	ErrExecutionNotRunning = errors.New("execution is not running")
	ErrExecutionNotPaused  = errors.New("execution is not paused")
	ErrControllerStopped   = errors.New("controller is not started")
)

// ExecutionError describes a control request that cannot apply to an execution.
type ExecutionError struct {
	ExecutionID string
	Status      string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s (%s): %v", e.ExecutionID, e.Status, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
