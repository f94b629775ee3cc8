package scheduler

import (
	"fmt"

	"github.com/ornolab/foreman/task"
)

// RetryExhaustedError reports a task that failed more than its retry budget
// allows and transitioned to terminal Failed.
type RetryExhaustedError struct {
	TaskID   task.ID
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("task '%s' failed %d times: %v", e.TaskID, e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}
