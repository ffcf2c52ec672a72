package status

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionError reports a rejected state change. ActionID is empty for workflow transitions.
type TransitionError struct {
	ExecutionID string
	ActionID    string
	From        string
	To          string
	Err         error
}

func (e *TransitionError) Error() string {
	if e.ActionID != "" {
		return fmt.Sprintf("execution %s action %s: %s -> %s: %v", e.ExecutionID, e.ActionID, e.From, e.To, e.Err)
	}

	return fmt.Sprintf("execution %s: %s -> %s: %v", e.ExecutionID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}
