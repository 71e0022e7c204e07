// internal/engine/errors.go
package engine

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

var (
	// ErrValidation marks a step that is missing a field its action requires.
	ErrValidation = errors.New("invalid step")
	// ErrTimeout marks a browser wait that exceeded its bound.
	ErrTimeout = errors.New("timed out")
	// ErrShuttingDown is returned by StartExecution once Shutdown has begun.
	ErrShuttingDown = errors.New("engine is shutting down")
)

// StepError ties a step failure to the step that produced it.
type StepError struct {
	StepID string
	Action schemas.Action
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.StepID, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func missingField(action schemas.Action, field string) error {
	return fmt.Errorf("%w: %s requires a %s", ErrValidation, action, field)
}
