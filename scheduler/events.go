package scheduler

import (
	"time"

	"github.com/ornolab/foreman/checkpoint"
	"github.com/ornolab/foreman/task"
)

type Event interface{}

// Tasks

type EventTaskSubmitted struct {
	Owner string
	Task  task.ID
	Name  string
}

type EventTaskReady struct {
	Owner string
	Task  task.ID
}

type EventTaskQueued struct {
	Owner string
	Task  task.ID
}

type EventTaskRunning struct {
	Owner string
	Task  task.ID
}

type EventTaskCompleted struct {
	Owner string
	Task  task.ID
}

type EventTaskFailed struct {
	Owner   string
	Task    task.ID
	Attempt int
	Error   string
	// Final is true when the retry policy is exhausted and the failure is
	// terminal.
	Final bool
}

type EventTaskRetryScheduled struct {
	Owner   string
	Task    task.ID
	Attempt int
	Delay   time.Duration
}

type EventTaskBlocked struct {
	Owner string
	Task  task.ID
	// By is the failed or cancelled upstream task that caused the block.
	By task.ID
}

type EventTaskCancelled struct {
	Owner string
	Task  task.ID
}

type EventTaskPaused struct {
	Owner string
	Task  task.ID
}

type EventTaskResumed struct {
	Owner string
	Task  task.ID
}

type EventTaskPreempted struct {
	Owner string
	Task  task.ID
	// By is the queued task that claimed the capacity.
	By task.ID
}

// Checkpoints

type EventCheckpointSaved struct {
	Owner string
	Task  task.ID
	Seq   uint64
	Kind  checkpoint.Kind
}
