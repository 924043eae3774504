package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by mutating operations on an unknown process name.
	ErrNotFound = errors.New("process not found")
	// ErrInvalidCommand is returned when a spec has nothing to execute.
	ErrInvalidCommand = errors.New("invalid command")
)

// StartError reports a failed spawn. It unwraps to the underlying OS error.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start process %q: %v", e.Name, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// NotFound wraps ErrNotFound with the offending name.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}
