package main

import (
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/ornolab/foreman/foreman/flags"
	"github.com/ornolab/foreman/foreman/log"
	"github.com/ornolab/foreman/namegen"
	schedulerpkg "github.com/ornolab/foreman/scheduler"
	"github.com/ornolab/foreman/store"
	"github.com/ornolab/foreman/task"
	"github.com/ornolab/foreman/workfile"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runParams map[string]string

var runCmd = &cobra.Command{
	Use:   "run WORKFILE [ARGS...]",
	Short: "Run a workflow to completion",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		sched, pool, err := createScheduler()
		if err != nil {
			return err
		}

		stateStore := store.NewFileStore(path.Join(viper.GetString(flags.Data), "state.json"))

		var failures atomic.Int64
		channel, unsubscribe := sched.Subscribe()
		defer unsubscribe()
		listenerDone := make(chan any)
		go listenEvents(channel, listenerDone, &failures)

		if viper.GetBool(flags.Resume) {
			state, err := stateStore.Load()
			if err != nil {
				return fmt.Errorf("load state snapshot: %w", err)
			}
			tasks := lo.Map(state.Tasks, func(r store.TaskRecord, _ int) task.Task { return r.TaskOf() })
			edges := lo.Map(state.Edges, func(r store.EdgeRecord, _ int) schedulerpkg.EdgeSpec {
				return schedulerpkg.EdgeSpec{Owner: r.Owner, From: r.From, To: r.To, Kind: r.Kind}
			})
			if err := sched.Recover(tasks, edges, state.Allocations); err != nil {
				return fmt.Errorf("recover: %w", err)
			}
		} else {
			wf, err := workfile.Read(args[0], workfile.ReadOptions{
				Args:   args[1:],
				Params: runParams,
			})
			if err != nil {
				return fmt.Errorf("read workfile: %w", err)
			}

			owner := string(namegen.Prefixed(wf.Name))
			log.Info("Submitting workflow", "workflow", wf.Name, "owner", owner, "tasks", len(wf.Tasks))
			for _, spec := range wf.TaskSpecs(owner, time.Now()) {
				if _, err := sched.Submit(spec); err != nil {
					return fmt.Errorf("submit task '%s': %w", spec.Name, err)
				}
			}
		}

		// On interrupt, stop the scheduler; Wait below returns once running
		// tasks have settled.
		go func() {
			<-cmd.Context().Done()
			log.Info("Shutdown signal received, attempting graceful shutdown")
			sched.Shutdown()
		}()

		sched.Wait()
		close(listenerDone)

		if err := stateStore.Save(store.Snapshot(sched, pool)); err != nil {
			log.Error("Failed to save state snapshot", "error", err)
		}

		if n := failures.Load(); n > 0 {
			return fmt.Errorf("%d task(s) did not complete", n)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringToStringVar(&runParams, "param", nil, "workfile parameters, as key=value")
}

// listenEvents logs scheduler events and counts tasks that ended without
// completing.
func listenEvents(channel <-chan schedulerpkg.Event, done <-chan any, failures *atomic.Int64) {
	for {
		select {
		case event := <-channel:
			logEvent(event, failures)
		case <-done:
			// Drain whatever was emitted before Wait returned.
			for {
				select {
				case event := <-channel:
					logEvent(event, failures)
				default:
					return
				}
			}
		}
	}
}

func logEvent(event schedulerpkg.Event, failures *atomic.Int64) {
	switch e := event.(type) {
	case schedulerpkg.EventTaskQueued:
		log.Debug("Task queued", "task", e.Task, "owner", e.Owner)
	case schedulerpkg.EventTaskRunning:
		log.Info("Task running", "task", e.Task, "owner", e.Owner)
	case schedulerpkg.EventTaskCompleted:
		log.Info("Task completed", "task", e.Task, "owner", e.Owner)
	case schedulerpkg.EventTaskFailed:
		if e.Final {
			failures.Add(1)
			log.Error("Task failed", "task", e.Task, "owner", e.Owner, "attempt", e.Attempt, "error", e.Error)
		} else {
			log.Warn("Task failed, will retry", "task", e.Task, "owner", e.Owner, "attempt", e.Attempt, "error", e.Error)
		}
	case schedulerpkg.EventTaskRetryScheduled:
		log.Info("Task retry scheduled", "task", e.Task, "attempt", e.Attempt, "delay", e.Delay)
	case schedulerpkg.EventTaskBlocked:
		failures.Add(1)
		log.Error("Task blocked by failed dependency", "task", e.Task, "owner", e.Owner, "by", e.By)
	case schedulerpkg.EventTaskCancelled:
		failures.Add(1)
		log.Warn("Task cancelled", "task", e.Task, "owner", e.Owner)
	case schedulerpkg.EventTaskPreempted:
		log.Warn("Task preempted", "task", e.Task, "owner", e.Owner, "by", e.By)
	case schedulerpkg.EventCheckpointSaved:
		log.Debug("Checkpoint saved", "task", e.Task, "seq", e.Seq)
	}
}
