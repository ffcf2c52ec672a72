package registry

import (
	"errors"
	"fmt"
)

// CapabilityError wraps registry errors with the capability they concern.
type CapabilityError struct {
	App     string
	Name    string
	Err     error
	Message string
}

func (e *CapabilityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s.%s: %v: %s", e.App, e.Name, e.Err, e.Message)
	}

	return fmt.Sprintf("%s.%s: %v", e.App, e.Name, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

func (e *CapabilityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAppNotFound) || errors.Is(err, ErrCapabilityNotFound)
}
