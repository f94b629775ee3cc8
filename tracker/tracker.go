// Package tracker maintains one dependency graph per owner and propagates
// task status changes through it. Owners are the isolation boundary: each
// owner's graph and status table are guarded by their own mutex, so
// independent workflows never contend.
package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/task"
)

// Propagation is the result of a status update: the dependents that became
// ready, and the dependents (transitively) blocked by a failure.
type Propagation struct {
	NewlyReady []task.ID
	Blocked    []task.ID
}

type ownerState struct {
	mu        sync.Mutex
	graph     *graph.Graph
	status    map[task.ID]task.Status
	completed map[task.ID]struct{}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	owners map[string]*ownerState
}

func New() *Tracker {
	return &Tracker{owners: make(map[string]*ownerState)}
}

func (t *Tracker) owner(name string) *ownerState {
	t.mu.RLock()
	state, ok := t.owners[name]
	t.mu.RUnlock()
	if ok {
		return state
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok = t.owners[name]; ok {
		return state
	}
	state = &ownerState{
		graph:     graph.New(),
		status:    make(map[task.ID]task.Status),
		completed: make(map[task.ID]struct{}),
	}
	t.owners[name] = state
	return state
}

// Owners returns the registered owner names in deterministic order.
func (t *Tracker) Owners() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.owners))
	for name := range t.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a task node to the owner's graph with status Pending.
func (t *Tracker) Register(owner string, id task.ID, estimated time.Duration) error {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	if err := state.graph.AddNode(id, estimated); err != nil {
		return err
	}
	state.status[id] = task.StatusPending
	return nil
}

// RegisterDependency inserts an edge; a *graph.CycleError is surfaced
// synchronously to the caller.
func (t *Tracker) RegisterDependency(owner string, from, to task.ID, kind graph.EdgeKind) error {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	return state.graph.AddEdge(from, to, kind)
}

// Remove drops a task from tracking, cascading edge removal.
func (t *Tracker) Remove(owner string, id task.ID) {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.graph.RemoveNode(id)
	delete(state.status, id)
	delete(state.completed, id)
}

// Status returns the tracked status of a task.
func (t *Tracker) Status(owner string, id task.ID) (task.Status, error) {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	status, ok := state.status[id]
	if !ok {
		return 0, fmt.Errorf("unknown task '%s' for owner '%s'", id, owner)
	}
	return status, nil
}

// UpdateStatus records a task's new status and, on a terminal transition,
// walks the owner's graph: completions may make dependents ready, failures
// mark Sequential dependents Blocked (transitively) while Bypassed
// dependents still proceed.
func (t *Tracker) UpdateStatus(owner string, id task.ID, status task.Status) (Propagation, error) {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.status[id]; !ok {
		return Propagation{}, fmt.Errorf("unknown task '%s' for owner '%s'", id, owner)
	}
	state.status[id] = status

	var propagation Propagation
	switch status {
	case task.StatusCompleted:
		state.completed[id] = struct{}{}
		propagation.NewlyReady = state.promoteReadyDependents(id)

	case task.StatusFailed:
		// Failure is an outcome, so Conditional dependents may still run.
		propagation.Blocked = state.blockDependents(id, true)
		propagation.NewlyReady = state.promoteReadyDependents(id)

	case task.StatusCancelled:
		// Cancellation forecloses any outcome: Conditional dependents are
		// blocked along with Sequential ones.
		propagation.Blocked = state.blockDependents(id, false)
		propagation.NewlyReady = state.promoteReadyDependents(id)
	}

	return propagation, nil
}

// promoteReadyDependents marks every Pending dependent of id whose
// dependencies are now all satisfied as Ready, and returns them in
// deterministic order.
func (s *ownerState) promoteReadyDependents(id task.ID) []task.ID {
	var ready []task.ID
	for dependent := range s.graph.Dependents(id) {
		if s.status[dependent] != task.StatusPending {
			continue
		}
		if s.satisfied(dependent) {
			s.status[dependent] = task.StatusReady
			ready = append(ready, dependent)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

// satisfied reports whether every incoming edge of id is satisfied:
//   - Sequential: upstream completed
//   - Conditional: upstream completed or failed (it ran to an outcome)
//   - Bypassed: upstream reached any terminal state
func (s *ownerState) satisfied(id task.ID) bool {
	for from, kind := range s.graph.Dependencies(id) {
		upstream := s.status[from]
		switch kind {
		case graph.EdgeSequential:
			if upstream != task.StatusCompleted {
				return false
			}
		case graph.EdgeConditional:
			if upstream != task.StatusCompleted && upstream != task.StatusFailed {
				return false
			}
		case graph.EdgeBypassed:
			if !upstream.Terminal() {
				return false
			}
		}
	}
	return true
}

// blockDependents marks Pending dependents reachable from id as Blocked,
// transitively, and returns them in deterministic order. Bypassed edges never
// propagate blocking. Conditional edges from the root are spared only when
// the root produced an outcome (outcome=true, i.e. it Failed rather than was
// Cancelled); Conditional edges from transitively blocked nodes always block,
// since a Blocked upstream will never produce one.
func (s *ownerState) blockDependents(id task.ID, outcome bool) []task.ID {
	var blocked []task.ID
	frontier := []task.ID{id}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for dependent, kind := range s.graph.Dependents(current) {
			if kind == graph.EdgeBypassed {
				continue
			}
			if kind == graph.EdgeConditional && current == id && outcome {
				continue
			}
			if s.status[dependent] != task.StatusPending {
				continue
			}
			s.status[dependent] = task.StatusBlocked
			blocked = append(blocked, dependent)
			frontier = append(frontier, dependent)
		}
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i] < blocked[j] })
	return blocked
}

// IsReady reports whether the task's dependencies are all satisfied and the
// task has not been dispatched yet.
func (t *Tracker) IsReady(owner string, id task.ID) bool {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	status, ok := state.status[id]
	if !ok || (status != task.StatusPending && status != task.StatusReady) {
		return false
	}
	return state.satisfied(id)
}

// ReadySet returns the owner's tasks currently in Ready state, plus any
// Pending task whose dependencies are all satisfied (e.g. a task submitted
// with no dependencies before the first scheduling pass).
func (t *Tracker) ReadySet(owner string) []task.ID {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	var ready []task.ID
	for _, id := range state.graph.NodeIDs() {
		switch state.status[id] {
		case task.StatusReady:
			ready = append(ready, id)
		case task.StatusPending:
			if state.satisfied(id) {
				state.status[id] = task.StatusReady
				ready = append(ready, id)
			}
		}
	}
	return ready
}

// CriticalPath returns the longest weighted path of the owner's graph.
func (t *Tracker) CriticalPath(owner string) []task.ID {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	return state.graph.CriticalPath()
}

// BlockingTasks returns the ancestors of id that have not completed yet, in
// deterministic order. Diagnostics helper.
func (t *Tracker) BlockingTasks(owner string, id task.ID) []task.ID {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	visited := make(map[task.ID]bool)
	var blocking []task.ID
	frontier := []task.ID{id}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for ancestor := range state.graph.Dependencies(current) {
			if visited[ancestor] {
				continue
			}
			visited[ancestor] = true
			if state.status[ancestor] != task.StatusCompleted {
				blocking = append(blocking, ancestor)
			}
			frontier = append(frontier, ancestor)
		}
	}
	sort.Slice(blocking, func(i, j int) bool { return blocking[i] < blocking[j] })
	return blocking
}

// Edges returns the owner's dependency edges for persistence.
func (t *Tracker) Edges(owner string) []graph.Edge {
	state := t.owner(owner)
	state.mu.Lock()
	defer state.mu.Unlock()

	return state.graph.Edges()
}
