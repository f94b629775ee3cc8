package main

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/ornolab/foreman/checkpoint"
	"github.com/ornolab/foreman/executor"
	"github.com/ornolab/foreman/foreman/flags"
	"github.com/ornolab/foreman/foreman/log"
	"github.com/ornolab/foreman/queue"
	"github.com/ornolab/foreman/resource"
	schedulerpkg "github.com/ornolab/foreman/scheduler"
	"github.com/spf13/viper"
)

func createScheduler() (*schedulerpkg.Scheduler, resource.Pool, error) {
	pool, err := parsePool(viper.GetStringSlice(flags.Pool))
	if err != nil {
		return nil, resource.Pool{}, fmt.Errorf("invalid pool: %w", err)
	}

	policy, err := parsePreemption(viper.GetString(flags.Preemption))
	if err != nil {
		return nil, resource.Pool{}, err
	}

	dataRoot := viper.GetString(flags.Data)
	if err := os.MkdirAll(dataRoot, 0755); err != nil {
		return nil, resource.Pool{}, fmt.Errorf("failed to create data directory: %w", err)
	}
	checkpoints, err := checkpoint.NewFileStore(path.Join(dataRoot, "checkpoints"))
	if err != nil {
		return nil, resource.Pool{}, err
	}

	config := schedulerpkg.Config{
		Logger:            log.Base.With("component", "scheduler"),
		Pool:              pool,
		Preemption:        policy,
		AgingInterval:     viper.GetDuration(flags.AgingInterval),
		ForecastWindow:    viper.GetDuration(flags.ForecastWindow),
		ForecastHorizon:   viper.GetDuration(flags.ForecastHorizon),
		DefaultMaxRetries: viper.GetInt(flags.MaxRetries),
		DefaultRetryDelay: viper.GetDuration(flags.RetryDelay),
		Executor:          executor.NewLocal(log.Base.With("component", "executor")),
		CheckpointStore:   checkpoints,
	}
	if err := schedulerpkg.Validate(config); err != nil {
		return nil, resource.Pool{}, fmt.Errorf("invalid scheduler config: %w", err)
	}

	return schedulerpkg.New(config), pool, nil
}

// parsePool turns kind=amount pairs into a resource pool.
func parsePool(entries []string) (resource.Pool, error) {
	total := make(resource.Capacity, len(entries))
	for _, entry := range entries {
		kind, value, found := strings.Cut(entry, "=")
		if !found || kind == "" {
			return resource.Pool{}, fmt.Errorf("'%s' is not of the form kind=amount", entry)
		}
		amount, err := strconv.Atoi(value)
		if err != nil {
			return resource.Pool{}, fmt.Errorf("'%s' is not of the form kind=amount: %w", entry, err)
		}
		total[kind] = amount
	}
	return resource.NewPool("default", total), nil
}

func parsePreemption(name string) (queue.PreemptionPolicy, error) {
	switch name {
	case "never":
		return queue.PreemptNever, nil
	case "lower-priority":
		return queue.PreemptLowerPriorityOnly, nil
	case "deadline-override":
		return queue.PreemptDeadlineOverride, nil
	default:
		return 0, fmt.Errorf("unknown preemption policy '%s'", name)
	}
}
