package scheduler

import (
	"fmt"

	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/resource"
	"github.com/ornolab/foreman/task"
)

// EdgeSpec is a dependency edge in a persisted snapshot.
type EdgeSpec struct {
	Owner string
	From  task.ID
	To    task.ID
	Kind  graph.EdgeKind
}

// Owners returns every owner known to the scheduler.
func (s *Scheduler) Owners() []string {
	return s.tracker.Owners()
}

// Tasks returns copies of all tracked tasks, for persistence.
func (s *Scheduler) Tasks() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, *st.task)
	}
	return out
}

// Edges returns the owner's dependency edges, for persistence.
func (s *Scheduler) Edges(owner string) []graph.Edge {
	return s.tracker.Edges(owner)
}

// AllocationLedger returns the allocator's ledger, for persistence.
func (s *Scheduler) AllocationLedger() []resource.LedgerEntry {
	return s.allocator.Ledger()
}

// Recover rebuilds scheduler state from a persisted snapshot, after a
// process restart. Tasks that were Running at the time of the snapshot are
// re-queued: only the unfinished remainder is recomputed, with checkpoint
// references preserved so task implementations can restore instead of
// starting over.
func (s *Scheduler) Recover(tasks []task.Task, edges []EdgeSpec, ledger []resource.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) > 0 {
		return fmt.Errorf("recover requires an empty scheduler, %d tasks already tracked", len(s.tasks))
	}

	for i := range tasks {
		t := tasks[i] // copy out of the snapshot slice
		if err := s.tracker.Register(t.Owner, t.ID, t.EstimatedDuration); err != nil {
			return fmt.Errorf("register task '%s': %w", t.ID, err)
		}
		st := &taskState{task: &t}
		s.tasks[t.ID] = st
		if t.Status.Terminal() {
			st.finished = true
		} else {
			s.wg.Add(1)
		}
	}

	for _, edge := range edges {
		if err := s.tracker.RegisterDependency(edge.Owner, edge.From, edge.To, edge.Kind); err != nil {
			return fmt.Errorf("register edge %s -> %s: %w", edge.From, edge.To, err)
		}
	}

	// Replay terminal statuses first so the tracker's completed set and
	// blocked cascade match the snapshot before anything is re-queued.
	for _, st := range s.tasks {
		t := st.task
		if t.Status.Terminal() || t.Status == task.StatusPaused {
			if _, err := s.tracker.UpdateStatus(t.Owner, t.ID, t.Status); err != nil {
				return fmt.Errorf("replay status of task '%s': %w", t.ID, err)
			}
		}
	}

	for _, st := range s.tasks {
		switch st.task.Status {
		case task.StatusReady, task.StatusQueued, task.StatusRunning:
			// A task caught Running by the snapshot lost its executor; it
			// goes back through the queue.
			st.task.Status = task.StatusReady
			s.promoteLocked(st)
		}
	}

	s.allocator.RestoreLedger(ledger)

	s.log.Info("Recovered scheduler state", "tasks", len(tasks), "edges", len(edges))
	s.requestTick()
	return nil
}
