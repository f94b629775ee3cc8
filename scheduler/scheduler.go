// Package scheduler binds ready tasks to resource capacity. One Scheduler is
// the single scheduling authority for its pool; submission and status
// reports may come from many goroutines while the scheduling pass runs on a
// dedicated loop goroutine, woken through coalesced tick requests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ornolab/foreman/checkpoint"
	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/namegen"
	"github.com/ornolab/foreman/queue"
	"github.com/ornolab/foreman/resource"
	"github.com/ornolab/foreman/task"
	"github.com/ornolab/foreman/tracker"
)

// UseDefaultRetries selects the scheduler's configured retry policy for a
// task spec that does not set its own.
const UseDefaultRetries = -1

// Dependency declares that the submitted task depends on an already
// submitted task of the same owner.
type Dependency struct {
	On   task.ID
	Kind graph.EdgeKind
}

// TaskSpec is the client-facing description of a task to submit.
type TaskSpec struct {
	// ID is optional; a fresh one is generated when empty. State recovery
	// passes explicit IDs.
	ID                task.ID
	Name              string
	Owner             string
	Priority          task.Priority
	Deadline          time.Time
	Requirement       resource.Requirement
	EstimatedDuration time.Duration
	// MaxRetries set to UseDefaultRetries selects the configured default.
	MaxRetries    int
	RetryDelay    time.Duration
	SupportsPause bool
	Payload       any
	Dependencies  []Dependency
}

type taskState struct {
	task        *task.Task
	attempts    int
	alloc       *resource.Allocation
	cancel      context.CancelFunc
	pause       chan struct{}
	enqueueTime time.Time

	pauseRequested  bool
	cancelRequested bool
	preempted       bool
	finished        bool

	result any
}

type Scheduler struct {
	name   namegen.ID
	config Config
	log    *slog.Logger

	tracker     *tracker.Tracker
	allocator   *resource.Allocator
	forecaster  *resource.Forecaster
	checkpoints *checkpoint.Manager

	mu       sync.Mutex
	tasks    map[task.ID]*taskState
	queues   map[string]*queue.Queue
	running  map[task.ID]*taskState
	shutdown bool

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}

	tickRequests chan any
	deferred     chan func()
	stop         chan any

	wg sync.WaitGroup
}

// New builds a scheduler and starts its loop goroutine.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	store := config.CheckpointStore
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}

	allocator := resource.NewAllocator(config.Pool)

	s := &Scheduler{
		name:   namegen.Get(),
		config: config,

		tracker:     tracker.New(),
		allocator:   allocator,
		forecaster:  resource.NewForecaster(allocator, config.ForecastWindow),
		checkpoints: checkpoint.NewManager(store),

		tasks:   make(map[task.ID]*taskState),
		queues:  make(map[string]*queue.Queue),
		running: make(map[task.ID]*taskState),

		subscribers: make(map[chan Event]struct{}),

		tickRequests: make(chan any, 1),
		deferred:     make(chan func()),
		stop:         make(chan any),
	}
	s.log = config.Logger.With("scheduler", s.name)

	go s.run()
	return s
}

// Name returns the scheduler's generated name.
func (s *Scheduler) Name() namegen.ID {
	return s.name
}

// run is the scheduling loop. All scheduling passes happen here; everything
// else only mutates state under the scheduler mutex and requests a tick.
func (s *Scheduler) run() {
	s.log.Info("Scheduler is running", "pool", s.config.Pool.Name)

	for {
		select {
		case <-s.tickRequests:
			s.tick()

		case f := <-s.deferred:
			f()

		case <-s.stop:
			s.log.Info("Scheduler is stopping")
			s.drainOnShutdown()
			return
		}
	}
}

// requestTick requests a scheduling pass as soon as possible. If a tick is
// already pending, this does nothing. Safe to call from any goroutine.
func (s *Scheduler) requestTick() {
	select {
	case s.tickRequests <- nil:
	default: // a tick is already queued
	}
}

// Tick requests a scheduling pass. Idempotent: a pass with nothing ready and
// no free capacity does no work.
func (s *Scheduler) Tick() {
	s.requestTick()
}

// after schedules f on the loop goroutine once the delay elapses. Dropped
// silently when the scheduler stops first.
func (s *Scheduler) after(d time.Duration, f func()) {
	time.AfterFunc(d, func() {
		select {
		case s.deferred <- f:
		case <-s.stop:
		}
	})
}

// Subscribe returns a channel of scheduler events plus an unsubscribe
// function. Slow subscribers lose events rather than blocking the scheduler.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	channel := make(chan Event, 256)

	s.subMu.Lock()
	s.subscribers[channel] = struct{}{}
	s.subMu.Unlock()

	return channel, func() {
		s.subMu.Lock()
		delete(s.subscribers, channel)
		s.subMu.Unlock()
	}
}

func (s *Scheduler) emit(event Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for channel := range s.subscribers {
		select {
		case channel <- event:
		default:
			s.log.Debug("Dropping event for slow subscriber", "event", fmt.Sprintf("%T", event))
		}
	}
}

// Submit registers a task and its dependency edges. Structural errors
// (unknown dependencies, cycles, impossible resource requirements) are
// returned synchronously.
func (s *Scheduler) Submit(spec TaskSpec) (task.ID, error) {
	if spec.Name == "" {
		return "", errors.New("task name is required")
	}
	if spec.Owner == "" {
		return "", errors.New("task owner is required")
	}
	for kind, amount := range spec.Requirement {
		if amount > s.config.Pool.Total[kind] {
			return "", &resource.CapacityExceededError{
				Pool:        s.config.Pool.Name,
				Kind:        kind,
				Requested:   amount,
				PoolMaximum: s.config.Pool.Total[kind],
			}
		}
	}

	id := spec.ID
	if id == "" {
		id = task.NewID()
	}

	maxRetries := spec.MaxRetries
	if maxRetries == UseDefaultRetries {
		maxRetries = s.config.DefaultMaxRetries
	}
	retryDelay := spec.RetryDelay
	if retryDelay <= 0 {
		retryDelay = s.config.DefaultRetryDelay
	}

	t := &task.Task{
		ID:                id,
		Name:              spec.Name,
		Owner:             spec.Owner,
		Status:            task.StatusPending,
		Priority:          spec.Priority.Clamp(),
		Deadline:          spec.Deadline,
		Requirement:       spec.Requirement,
		EstimatedDuration: spec.EstimatedDuration,
		CreatedAt:         time.Now(),
		MaxRetries:        maxRetries,
		RetryDelay:        retryDelay,
		SupportsPause:     spec.SupportsPause,
		Payload:           spec.Payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return "", errors.New("scheduler is shut down")
	}
	if _, exists := s.tasks[id]; exists {
		return "", fmt.Errorf("task '%s' already submitted", id)
	}

	if err := s.tracker.Register(spec.Owner, id, spec.EstimatedDuration); err != nil {
		return "", err
	}
	for _, dep := range spec.Dependencies {
		upstream, ok := s.tasks[dep.On]
		if !ok || upstream.task.Owner != spec.Owner {
			s.tracker.Remove(spec.Owner, id)
			return "", fmt.Errorf("unknown dependency '%s' for owner '%s'", dep.On, spec.Owner)
		}
		if err := s.tracker.RegisterDependency(spec.Owner, dep.On, id, dep.Kind); err != nil {
			s.tracker.Remove(spec.Owner, id)
			return "", err
		}
	}

	st := &taskState{task: t}
	s.tasks[id] = st
	s.wg.Add(1)
	s.emit(EventTaskSubmitted{Owner: spec.Owner, Task: id, Name: spec.Name})
	s.log.Debug("Task submitted", "task", id, "name", spec.Name, "owner", spec.Owner)

	// A dependency may already have reached a terminal state that makes its
	// edge permanently unsatisfiable; such a task is blocked on arrival
	// instead of dangling forever.
	if by, dead := s.unsatisfiableLocked(spec); dead {
		t.Status = task.StatusBlocked
		lo.Must(s.tracker.UpdateStatus(spec.Owner, id, task.StatusBlocked))
		s.emit(EventTaskBlocked{Owner: spec.Owner, Task: id, By: by})
		s.log.Warn("Task blocked on arrival by terminal dependency", "task", id, "by", by)
		s.finishLocked(st)
		s.requestTick()
		return id, nil
	}

	if s.tracker.IsReady(spec.Owner, id) {
		s.promoteLocked(st)
	}

	s.requestTick()
	return id, nil
}

// unsatisfiableLocked reports whether any declared dependency can never be
// satisfied anymore, and by which upstream task. Caller holds s.mu.
func (s *Scheduler) unsatisfiableLocked(spec TaskSpec) (task.ID, bool) {
	for _, dep := range spec.Dependencies {
		upstream := s.tasks[dep.On].task
		if !upstream.Status.Terminal() {
			continue
		}
		switch dep.Kind {
		case graph.EdgeSequential:
			if upstream.Status != task.StatusCompleted {
				return dep.On, true
			}
		case graph.EdgeConditional:
			if upstream.Status != task.StatusCompleted && upstream.Status != task.StatusFailed {
				return dep.On, true
			}
		}
	}
	return "", false
}

// promoteLocked moves a Pending/Ready task into the owner's queue.
// Caller holds s.mu.
func (s *Scheduler) promoteLocked(st *taskState) {
	t := st.task
	if t.Status != task.StatusPending && t.Status != task.StatusReady {
		return
	}

	if t.Status == task.StatusPending {
		t.Status = task.StatusReady
		lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusReady))
	}
	s.emit(EventTaskReady{Owner: t.Owner, Task: t.ID})

	if st.enqueueTime.IsZero() {
		st.enqueueTime = time.Now()
	}
	t.Status = task.StatusQueued
	lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusQueued))
	s.ownerQueueLocked(t.Owner).EnqueueAt(t, st.enqueueTime)
	s.emit(EventTaskQueued{Owner: t.Owner, Task: t.ID})
}

func (s *Scheduler) ownerQueueLocked(owner string) *queue.Queue {
	q, ok := s.queues[owner]
	if !ok {
		q = queue.New(s.config.AgingInterval)
		s.queues[owner] = q
	}
	return q
}

// tick is a single scheduling pass: drain newly ready tasks into their
// owners' queues, then dispatch as many queued tasks as fit free capacity,
// preempting per policy when nothing fits.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return
	}

	for _, owner := range s.tracker.Owners() {
		for _, id := range s.tracker.ReadySet(owner) {
			if st, ok := s.tasks[id]; ok {
				s.promoteLocked(st)
			}
		}

		q := s.ownerQueueLocked(owner)
		q.Age()

		for {
			t := q.DequeueNext(s.allocator.Free())
			if t == nil {
				s.maybePreemptLocked(q)
				break
			}
			st := s.tasks[t.ID]
			if st == nil || t.Status != task.StatusQueued {
				continue
			}

			// Forecast pressure defers low-priority admission, but never
			// holds back capacity from anything that actually fits now and
			// has waited its way above Low.
			if t.Priority == task.PriorityLow &&
				s.config.ForecastHorizon > 0 &&
				s.forecaster.ShouldThrottle(t.Requirement, s.config.ForecastHorizon) {
				q.EnqueueAt(t, st.enqueueTime)
				break
			}

			alloc, err := s.allocator.TryAllocate(t.ID.String(), t.Requirement)
			if err != nil {
				// Requirements are validated at submit; reaching this is a
				// pool reconfiguration race. Surface as a final failure.
				s.failFinalLocked(st, err)
				continue
			}
			if alloc == nil {
				// Lost the capacity race; try again next tick.
				q.EnqueueAt(t, st.enqueueTime)
				s.maybePreemptLocked(q)
				break
			}

			s.dispatchLocked(st, alloc)
		}
	}
}

// maybePreemptLocked evicts one running task when the queue head is entitled
// to its capacity under the preemption policy. The evicted task settles as
// preempted: its allocation is released and it is re-queued with its
// original enqueue time, so eviction carries no ordering penalty.
func (s *Scheduler) maybePreemptLocked(q *queue.Queue) {
	if s.config.Preemption == queue.PreemptNever {
		return
	}
	entry := q.Peek()
	if entry == nil {
		return
	}

	runningTasks := make([]*task.Task, 0, len(s.running))
	for _, st := range s.running {
		if !st.preempted && !st.cancelRequested {
			runningTasks = append(runningTasks, st.task)
		}
	}
	candidate := queue.PreemptionCandidate(s.config.Preemption, entry, runningTasks)
	if candidate == nil {
		return
	}

	st := s.running[candidate.ID]
	st.preempted = true
	s.emit(EventTaskPreempted{Owner: candidate.Owner, Task: candidate.ID, By: entry.Task.ID})
	s.log.Info("Preempting task", "task", candidate.ID, "by", entry.Task.ID)
	st.cancel()
}

// dispatchLocked binds the allocation and hands the task to the executor on
// a watcher goroutine. Caller holds s.mu.
func (s *Scheduler) dispatchLocked(st *taskState, alloc *resource.Allocation) {
	t := st.task
	ctx, cancel := context.WithCancel(context.Background())

	st.alloc = alloc
	st.cancel = cancel
	st.pause = make(chan struct{})
	st.pauseRequested = false
	st.preempted = false
	s.running[t.ID] = st

	t.Status = task.StatusRunning
	lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusRunning))
	s.emit(EventTaskRunning{Owner: t.Owner, Task: t.ID})
	s.log.Debug("Dispatching task", "task", t.ID, "requirement", t.Requirement)

	if s.config.Executor == nil {
		// External executor mode: the collaborator observes EventTaskRunning
		// and reports back through ReportCompletion / ReportFailure.
		return
	}

	control := Control{
		PauseRequested: st.pause,
		Checkpoint: func(payload []byte, kind checkpoint.Kind) (checkpoint.Checkpoint, error) {
			return s.Checkpoint(t.ID, payload, kind)
		},
	}
	go s.watchTaskExecution(ctx, st, control)
}

func (s *Scheduler) watchTaskExecution(ctx context.Context, st *taskState, control Control) {
	result, err := s.config.Executor.Run(ctx, st.task, control)
	s.settle(st, result, err)
}

// ReportCompletion is called by the task executor when a task finished
// successfully.
func (s *Scheduler) ReportCompletion(id task.ID, result any) error {
	st, err := s.runningState(id)
	if err != nil {
		return err
	}
	s.settle(st, result, nil)
	return nil
}

// ReportFailure is called by the task executor when a task's own logic
// failed. The failure is retried per policy before becoming terminal.
func (s *Scheduler) ReportFailure(id task.ID, taskErr error) error {
	st, err := s.runningState(id)
	if err != nil {
		return err
	}
	s.settle(st, nil, taskErr)
	return nil
}

func (s *Scheduler) runningState(id task.ID) (*taskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.running[id]
	if !ok {
		return nil, fmt.Errorf("task '%s' is not running", id)
	}
	return st, nil
}

// settle processes the outcome of one execution of a task. The allocation
// is always released before any dependent can be dispatched, so the pool
// observes release-before-next-allocate ordering.
func (s *Scheduler) settle(st *taskState, result any, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := st.task
	if st.alloc != nil {
		// Exactly one release per terminal or suspending transition; the
		// allocator rejects a second one.
		lo.Must0(s.allocator.Release(st.alloc))
		st.alloc = nil
	}
	delete(s.running, t.ID)
	st.cancel = nil

	switch {
	case st.preempted:
		st.preempted = false
		t.Status = task.StatusQueued
		lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusQueued))
		s.ownerQueueLocked(t.Owner).EnqueueAt(t, st.enqueueTime)
		s.emit(EventTaskQueued{Owner: t.Owner, Task: t.ID})

	case st.cancelRequested:
		s.cancelFinalLocked(st)

	case runErr == nil:
		t.Status = task.StatusCompleted
		st.result = result
		propagation := lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusCompleted))
		s.emit(EventTaskCompleted{Owner: t.Owner, Task: t.ID})
		s.log.Info("Task completed", "task", t.ID)
		s.finishLocked(st)
		s.applyPropagationLocked(t.ID, propagation)

	case errors.Is(runErr, ErrPaused):
		st.pauseRequested = false
		t.Status = task.StatusPaused
		lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusPaused))
		s.emit(EventTaskPaused{Owner: t.Owner, Task: t.ID})
		s.log.Info("Task paused", "task", t.ID, "checkpoint", t.LastCheckpointSeq)

	default:
		s.handleFailureLocked(st, runErr)
	}

	s.requestTick()
}

func (s *Scheduler) handleFailureLocked(st *taskState, runErr error) {
	t := st.task
	st.attempts++
	t.LastError = runErr.Error()

	if st.attempts <= t.MaxRetries {
		delay := t.RetryDelay * (1 << (st.attempts - 1))
		t.Status = task.StatusFailed
		s.emit(EventTaskFailed{Owner: t.Owner, Task: t.ID, Attempt: st.attempts, Error: runErr.Error()})
		s.emit(EventTaskRetryScheduled{Owner: t.Owner, Task: t.ID, Attempt: st.attempts, Delay: delay})
		s.log.Warn("Task failed, retry scheduled", "task", t.ID, "attempt", st.attempts, "delay", delay, "error", runErr)

		s.after(delay, func() { s.requeueRetry(st) })
		return
	}

	exhausted := &RetryExhaustedError{TaskID: t.ID, Attempts: st.attempts, LastErr: runErr}
	t.LastError = exhausted.Error()
	s.failFinalLocked(st, exhausted)
}

// failFinalLocked transitions a task to terminal Failed and cascades Blocked
// status to its dependents through the tracker.
func (s *Scheduler) failFinalLocked(st *taskState, cause error) {
	t := st.task
	t.Status = task.StatusFailed
	t.LastError = cause.Error()

	propagation := lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusFailed))
	s.emit(EventTaskFailed{Owner: t.Owner, Task: t.ID, Attempt: st.attempts, Error: cause.Error(), Final: true})
	s.log.Error("Task failed", "task", t.ID, "error", cause, "checkpoint", t.LastCheckpointSeq)
	s.finishLocked(st)
	s.applyPropagationLocked(t.ID, propagation)
}

// requeueRetry runs on the loop goroutine after the backoff delay.
func (s *Scheduler) requeueRetry(st *taskState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := st.task
	if st.cancelRequested || t.Status != task.StatusFailed || st.finished || s.shutdown {
		return
	}

	t.Status = task.StatusQueued
	lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusQueued))
	s.ownerQueueLocked(t.Owner).Enqueue(t)
	s.emit(EventTaskQueued{Owner: t.Owner, Task: t.ID})
	s.requestTick()
}

// applyPropagationLocked enacts the tracker's verdict after a terminal
// transition: newly ready dependents are queued, blocked dependents become
// terminal without ever running.
func (s *Scheduler) applyPropagationLocked(byID task.ID, propagation tracker.Propagation) {
	for _, id := range propagation.NewlyReady {
		if st, ok := s.tasks[id]; ok {
			st.task.Status = task.StatusReady
			s.promoteLocked(st)
		}
	}
	for _, id := range propagation.Blocked {
		st, ok := s.tasks[id]
		if !ok {
			continue
		}
		st.task.Status = task.StatusBlocked
		s.emit(EventTaskBlocked{Owner: st.task.Owner, Task: id, By: byID})
		s.log.Warn("Task blocked by failed dependency", "task", id, "by", byID)
		s.finishLocked(st)
	}
}

func (s *Scheduler) cancelFinalLocked(st *taskState) {
	t := st.task
	t.Status = task.StatusCancelled
	propagation := lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusCancelled))
	s.emit(EventTaskCancelled{Owner: t.Owner, Task: t.ID})
	s.log.Info("Task cancelled", "task", t.ID)
	s.finishLocked(st)
	s.applyPropagationLocked(t.ID, propagation)
}

// finishLocked marks the task's terminal transition exactly once.
func (s *Scheduler) finishLocked(st *taskState) {
	if st.finished {
		return
	}
	st.finished = true
	s.wg.Done()
}

// Cancel removes a queued task from its queue, or requests a graceful stop
// of a running task at its next safe boundary.
func (s *Scheduler) Cancel(id task.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task '%s'", id)
	}
	t := st.task

	switch t.Status {
	case task.StatusPending, task.StatusReady, task.StatusPaused, task.StatusFailed:
		// StatusFailed here is a retry awaiting backoff, not a terminal state.
		st.cancelRequested = true
		s.cancelFinalLocked(st)

	case task.StatusQueued:
		s.ownerQueueLocked(t.Owner).Remove(id)
		st.cancelRequested = true
		s.cancelFinalLocked(st)

	case task.StatusRunning:
		st.cancelRequested = true
		st.cancel() // graceful: the executor stops at its next boundary

	default:
		return fmt.Errorf("task '%s' is already %s", id, t.Status)
	}
	return nil
}

// Pause requests a safe pause of a running task. Only tasks that declared
// the safe-pause capability can be paused, and only while Running; the task
// honors the request at its next checkpoint boundary.
func (s *Scheduler) Pause(id task.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task '%s'", id)
	}
	if st.task.Status != task.StatusRunning {
		return fmt.Errorf("task '%s' is %s, only running tasks can be paused", id, st.task.Status)
	}
	if !st.task.SupportsPause {
		return fmt.Errorf("task '%s' does not support safe pause", id)
	}
	if st.pauseRequested {
		return nil
	}
	st.pauseRequested = true
	close(st.pause)
	return nil
}

// Resume re-queues a paused task. The task implementation restores from its
// checkpoint chain when it runs again.
func (s *Scheduler) Resume(id task.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task '%s'", id)
	}
	t := st.task
	if t.Status != task.StatusPaused {
		return fmt.Errorf("task '%s' is %s, only paused tasks can be resumed", id, t.Status)
	}

	t.Status = task.StatusQueued
	lo.Must(s.tracker.UpdateStatus(t.Owner, t.ID, task.StatusQueued))
	s.ownerQueueLocked(t.Owner).Enqueue(t)
	s.emit(EventTaskResumed{Owner: t.Owner, Task: t.ID})
	s.emit(EventTaskQueued{Owner: t.Owner, Task: t.ID})
	s.requestTick()
	return nil
}

// Checkpoint appends a snapshot for the task and updates its checkpoint
// reference.
func (s *Scheduler) Checkpoint(id task.ID, payload []byte, kind checkpoint.Kind) (checkpoint.Checkpoint, error) {
	s.mu.Lock()
	st, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return checkpoint.Checkpoint{}, fmt.Errorf("unknown task '%s'", id)
	}

	cp, err := s.checkpoints.Checkpoint(id, payload, kind)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}

	s.mu.Lock()
	st.task.LastCheckpointSeq = cp.Seq
	s.mu.Unlock()

	s.emit(EventCheckpointSaved{Owner: st.task.Owner, Task: id, Seq: cp.Seq, Kind: kind})
	return cp, nil
}

// Restore returns the task's restorable checkpoint chain.
func (s *Scheduler) Restore(id task.ID) ([]checkpoint.Checkpoint, error) {
	return s.checkpoints.Restore(id)
}

// PurgeCheckpoints bounds checkpoint storage for a task.
func (s *Scheduler) PurgeCheckpoints(id task.ID, keepLastN int) error {
	return s.checkpoints.Purge(id, keepLastN)
}

// Status returns the current status of a task.
func (s *Scheduler) Status(id task.ID) (task.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return 0, fmt.Errorf("unknown task '%s'", id)
	}
	return st.task.Status, nil
}

// Result returns the result reported for a completed task.
func (s *Scheduler) Result(id task.ID) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task '%s'", id)
	}
	if st.task.Status != task.StatusCompleted {
		return nil, fmt.Errorf("task '%s' is %s, not completed", id, st.task.Status)
	}
	return st.result, nil
}

// ReadySet returns the owner's tasks whose dependencies are satisfied and
// which have not been dispatched yet.
func (s *Scheduler) ReadySet(owner string) []task.ID {
	return s.tracker.ReadySet(owner)
}

// CriticalPath returns the longest weighted path of the owner's graph.
func (s *Scheduler) CriticalPath(owner string) []task.ID {
	return s.tracker.CriticalPath(owner)
}

// BlockingTasks returns the unfinished ancestors of a task.
func (s *Scheduler) BlockingTasks(owner string, id task.ID) []task.ID {
	return s.tracker.BlockingTasks(owner, id)
}

// QueueStats returns depth and wait statistics of the owner's queue, for
// fairness auditing.
func (s *Scheduler) QueueStats(owner string) queue.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerQueueLocked(owner).Stats()
}

// Forecast returns the allocator's expected usage over the horizon.
func (s *Scheduler) Forecast(horizon time.Duration) resource.ExpectedUsage {
	return s.forecaster.Forecast(horizon)
}

// FreeCapacity returns a snapshot of the pool's free capacity.
func (s *Scheduler) FreeCapacity() resource.Capacity {
	return s.allocator.Free()
}

// Wait blocks until every submitted task has reached a terminal state.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown stops the scheduler: queued and pending tasks are cancelled,
// running tasks are asked to stop gracefully.
func (s *Scheduler) Shutdown() {
	close(s.stop)
}

func (s *Scheduler) drainOnShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	for _, st := range s.tasks {
		switch st.task.Status {
		case task.StatusPending, task.StatusReady, task.StatusQueued, task.StatusPaused, task.StatusFailed:
			if st.finished {
				continue
			}
			st.cancelRequested = true
			s.ownerQueueLocked(st.task.Owner).Remove(st.task.ID)
			s.cancelFinalLocked(st)

		case task.StatusRunning:
			st.cancelRequested = true
			st.cancel()
		}
	}
}
