// Package queue implements the priority admission queue. Entries are ranked
// by (effective priority desc, deadline asc with no-deadline last, enqueue
// time asc); the three-level tie-break is deterministic, so equal priority
// without deadlines degrades to FIFO.
package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/ornolab/foreman/resource"
	"github.com/ornolab/foreman/task"
)

// PreemptionPolicy controls whether a queued task may evict a running one.
type PreemptionPolicy int

const (
	// PreemptNever disables preemption.
	PreemptNever PreemptionPolicy = iota
	// PreemptLowerPriorityOnly lets a higher-priority task evict a running
	// task of strictly lower priority when no free capacity exists.
	PreemptLowerPriorityOnly
	// PreemptDeadlineOverride additionally lets a task with an earlier
	// deadline evict a same-priority task with a later (or no) deadline.
	PreemptDeadlineOverride
)

func (p PreemptionPolicy) String() string {
	switch p {
	case PreemptNever:
		return "never"
	case PreemptLowerPriorityOnly:
		return "lower-priority-only"
	case PreemptDeadlineOverride:
		return "deadline-override"
	default:
		return "unknown"
	}
}

// Entry is a queued task plus its ranking attributes. EffectivePriority may
// grow through aging but never shrinks, keeping ordering stable within a
// scheduling epoch.
type Entry struct {
	Task              *task.Task
	EffectivePriority task.Priority
	EnqueueTime       time.Time

	index int
}

// Stats exposes queue depth and wait-time figures for fairness auditing.
type Stats struct {
	Depth       int
	Enqueued    int
	Dequeued    int
	MaxWait     time.Duration
	AverageWait time.Duration
}

// Queue is safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	entries entryHeap
	byID    map[task.ID]*Entry

	agingInterval time.Duration

	enqueued  int
	dequeued  int
	maxWait   time.Duration
	totalWait time.Duration

	clock func() time.Time
}

// New builds a queue. agingInterval is how long an entry waits before its
// effective priority is bumped by one level (0 disables aging).
func New(agingInterval time.Duration) *Queue {
	return &Queue{
		byID:  make(map[task.ID]*Entry),
		clock: time.Now,

		agingInterval: agingInterval,
	}
}

// Enqueue admits a task with a fresh enqueue time.
func (q *Queue) Enqueue(t *task.Task) {
	q.EnqueueAt(t, q.now())
}

// EnqueueAt admits a task with an explicit enqueue time. Preempted tasks are
// re-admitted with their original enqueue time so eviction carries no
// ordering penalty.
func (q *Queue) EnqueueAt(t *task.Task, enqueueTime time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := &Entry{
		Task:              t,
		EffectivePriority: t.Priority,
		EnqueueTime:       enqueueTime,
	}
	heap.Push(&q.entries, entry)
	q.byID[t.ID] = entry
	q.enqueued++
}

// DequeueNext returns the highest-ranked task whose requirement fits the
// free capacity, scanning in rank order. This is a best-effort first-fit,
// not a global bin-pack: a large head-of-queue task does not starve smaller
// ones behind it, and typical cost stays logarithmic.
func (q *Queue) DequeueNext(free resource.Capacity) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*Entry
	var picked *Entry
	for q.entries.Len() > 0 {
		entry := heap.Pop(&q.entries).(*Entry)
		if entry.Task.Requirement.Fits(free) {
			picked = entry
			break
		}
		skipped = append(skipped, entry)
	}
	for _, entry := range skipped {
		heap.Push(&q.entries, entry)
	}

	if picked == nil {
		return nil
	}
	delete(q.byID, picked.Task.ID)
	q.recordWait(q.now().Sub(picked.EnqueueTime))
	return picked.Task
}

// Peek returns the highest-ranked entry without removing it.
func (q *Queue) Peek() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() == 0 {
		return nil
	}
	return q.entries[0]
}

// Remove drops a task from the queue, e.g. on cancellation.
func (q *Queue) Remove(id task.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.entries, entry.index)
	delete(q.byID, id)
	return true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Age applies the aging function at a scheduling-epoch boundary: one
// priority level per full aging interval waited, clamped at Critical.
// A task whose deadline has passed is raised to Critical outright.
// Effective priority only ever grows, so ordering stays monotonic.
func (q *Queue) Age() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() == 0 {
		return
	}

	now := q.now()
	changed := false
	for _, entry := range q.entries {
		effective := entry.Task.Priority
		if q.agingInterval > 0 {
			steps := task.Priority(now.Sub(entry.EnqueueTime) / q.agingInterval)
			effective = (effective + steps).Clamp()
		}
		if entry.Task.HasDeadline() && !now.Before(entry.Task.Deadline) {
			effective = task.PriorityCritical
		}
		if effective > entry.EffectivePriority {
			entry.EffectivePriority = effective
			changed = true
		}
	}
	if changed {
		heap.Init(&q.entries)
	}
}

// PreemptionCandidate selects which running task the given entry may evict,
// or nil if the policy forbids preemption. Selection is deterministic:
// candidates are ordered by (priority asc, deadline desc with no-deadline
// first, ID asc) and the first admissible one is returned.
func PreemptionCandidate(policy PreemptionPolicy, entry *Entry, running []*task.Task) *task.Task {
	if policy == PreemptNever || entry == nil || len(running) == 0 {
		return nil
	}

	candidates := make([]*task.Task, len(running))
	copy(candidates, running)
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.HasDeadline() != b.HasDeadline() {
			return !a.HasDeadline()
		}
		if a.HasDeadline() && !a.Deadline.Equal(b.Deadline) {
			return a.Deadline.After(b.Deadline)
		}
		return a.ID < b.ID
	})

	for _, candidate := range candidates {
		if candidate.Priority < entry.EffectivePriority {
			return candidate
		}
		if policy == PreemptDeadlineOverride &&
			candidate.Priority == entry.EffectivePriority &&
			entry.Task.HasDeadline() &&
			(!candidate.HasDeadline() || candidate.Deadline.After(entry.Task.Deadline)) {
			return candidate
		}
	}
	return nil
}

// Stats returns a snapshot of queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Depth:    q.entries.Len(),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		MaxWait:  q.maxWait,
	}
	if q.dequeued > 0 {
		stats.AverageWait = q.totalWait / time.Duration(q.dequeued)
	}
	return stats
}

func (q *Queue) recordWait(wait time.Duration) {
	q.dequeued++
	q.totalWait += wait
	if wait > q.maxWait {
		q.maxWait = wait
	}
}

func (q *Queue) now() time.Time {
	return q.clock()
}

// --- heap implementation ---

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.EffectivePriority != b.EffectivePriority {
		return a.EffectivePriority > b.EffectivePriority
	}
	aDeadline, bDeadline := a.Task.HasDeadline(), b.Task.HasDeadline()
	if aDeadline != bDeadline {
		return aDeadline
	}
	if aDeadline && !a.Task.Deadline.Equal(b.Task.Deadline) {
		return a.Task.Deadline.Before(b.Task.Deadline)
	}
	return a.EnqueueTime.Before(b.EnqueueTime)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	entry := x.(*Entry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
