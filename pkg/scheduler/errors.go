package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSchedulerArgs = errors.New("invalid scheduler args")
	ErrTaskNotFound         = errors.New("scheduled task not found")
)

// InvalidSchedulerArgsError reports a schedule specification that cannot become a trigger.
type InvalidSchedulerArgsError struct {
	Type   string
	Reason string
	Err    error
}

func (e *InvalidSchedulerArgsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v for %q trigger: %s: %v", ErrInvalidSchedulerArgs, e.Type, e.Reason, e.Err)
	}

	return fmt.Sprintf("%v for %q trigger: %s", ErrInvalidSchedulerArgs, e.Type, e.Reason)
}

func (e *InvalidSchedulerArgsError) Unwrap() error {
	return e.Err
}

func (e *InvalidSchedulerArgsError) Is(target error) bool {
	return target == ErrInvalidSchedulerArgs || errors.Is(e.Err, target)
}

func invalidArgs(triggerType, reason string, err error) error {
	return &InvalidSchedulerArgsError{Type: triggerType, Reason: reason, Err: err}
}
