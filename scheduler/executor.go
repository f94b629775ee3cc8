package scheduler

import (
	"context"
	"errors"

	"github.com/ornolab/foreman/checkpoint"
	"github.com/ornolab/foreman/task"
)

// ErrPaused is returned by an executor's Run when the task stopped at a safe
// checkpoint boundary in response to a pause request.
var ErrPaused = errors.New("task paused at checkpoint boundary")

// Control hands a running task its collaboration points with the scheduler.
type Control struct {
	// PauseRequested is closed when a safe pause was requested. The task
	// implementation should checkpoint and return ErrPaused at its next
	// boundary; the scheduler never forces a pause mid-operation.
	PauseRequested <-chan struct{}

	// Checkpoint persists a snapshot for the running task and updates its
	// checkpoint reference.
	Checkpoint func(payload []byte, kind checkpoint.Kind) (checkpoint.Checkpoint, error)
}

// Executor runs tasks on behalf of the scheduler. Run blocks until the task
// finishes and is always called on a watcher goroutine, never on the
// scheduler loop; the scheduler itself only tracks status and resource
// bookkeeping. Cancellation is requested through ctx and is not assumed
// instantaneous.
type Executor interface {
	Run(ctx context.Context, t *task.Task, ctl Control) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *task.Task, ctl Control) (any, error)

func (f ExecutorFunc) Run(ctx context.Context, t *task.Task, ctl Control) (any, error) {
	return f(ctx, t, ctl)
}
