package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/ornolab/foreman/resource"
)

// ID uniquely identifies a task across all owners.
type ID string

// NewID returns a fresh task ID.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusQueued
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusBlocked
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusReady:     "ready",
	StatusQueued:    "queued",
	StatusRunning:   "running",
	StatusPaused:    "paused",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
	StatusBlocked:   "blocked",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the status is final. Terminal tasks are immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusBlocked:
		return true
	default:
		return false
	}
}

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Clamp bounds p to the valid priority range.
func (p Priority) Clamp() Priority {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityCritical {
		return PriorityCritical
	}
	return p
}

// Task is the unit of work tracked by the scheduler. The scheduler never
// inspects Payload; it is an opaque extension point for domain wrappers
// (render jobs, simulations, pipelines).
type Task struct {
	ID       ID
	Name     string
	Owner    string
	Status   Status
	Priority Priority

	// Deadline is optional; the zero value means no deadline.
	Deadline time.Time

	Requirement resource.Requirement

	// EstimatedDuration weighs the task on the critical path.
	EstimatedDuration time.Duration

	CreatedAt time.Time

	// MaxRetries bounds how many times a failed task is re-queued before it
	// transitions to terminal Failed.
	MaxRetries int
	// RetryDelay is the base delay for exponential backoff between retries.
	RetryDelay time.Duration

	// SupportsPause declares the safe-pause capability: the task implementation
	// can stop at a checkpoint boundary when asked. The scheduler cannot force
	// a pause mid-operation on a task that does not declare it.
	SupportsPause bool

	// LastCheckpointSeq references the most recent checkpoint (0 = none).
	LastCheckpointSeq uint64

	// LastError holds the last failure reported for the task, so an operator
	// can diagnose a terminal Failed task together with its checkpoint ref.
	LastError string

	Payload any
}

// HasDeadline reports whether the task carries a deadline.
func (t *Task) HasDeadline() bool {
	return !t.Deadline.IsZero()
}
