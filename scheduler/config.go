package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ornolab/foreman/checkpoint"
	"github.com/ornolab/foreman/queue"
	"github.com/ornolab/foreman/resource"
)

type Config struct {
	Logger *slog.Logger `json:"-"`

	// Pool is the resource pool the scheduler binds tasks against.
	Pool resource.Pool `json:"pool"`

	Preemption queue.PreemptionPolicy `json:"preemption"`

	// AgingInterval is how long a queued task waits before its effective
	// priority is bumped one level (0 disables aging).
	AgingInterval time.Duration `json:"aging-interval"`

	// ForecastWindow and ForecastHorizon drive the advisory admission
	// throttle for low-priority tasks.
	ForecastWindow  time.Duration `json:"forecast-window"`
	ForecastHorizon time.Duration `json:"forecast-horizon"`

	// DefaultMaxRetries and DefaultRetryDelay apply to tasks whose spec does
	// not set a retry policy.
	DefaultMaxRetries int           `json:"default-max-retries"`
	DefaultRetryDelay time.Duration `json:"default-retry-delay"`

	// Executor runs dispatched tasks out of the scheduler's goroutines.
	// Leave nil when an external executor drives ReportCompletion and
	// ReportFailure itself.
	Executor Executor `json:"-"`

	// CheckpointStore defaults to an in-memory store.
	CheckpointStore checkpoint.Store `json:"-"`
}

func Validate(config Config) error {
	if len(config.Pool.Total) == 0 {
		return errors.New("pool must declare at least one resource type")
	}
	for kind, amount := range config.Pool.Total {
		if amount <= 0 {
			return errors.New("pool capacity for '" + kind + "' must be greater than 0")
		}
	}
	if config.DefaultMaxRetries < 0 {
		return errors.New("default-max-retries must not be negative")
	}
	if config.DefaultRetryDelay < 0 {
		return errors.New("default-retry-delay must not be negative")
	}
	return nil
}
