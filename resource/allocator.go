package resource

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CapacityExceededError reports an allocation request that could never be
// satisfied by the pool, regardless of current usage. This is a programmer
// error, not a transient condition.
type CapacityExceededError struct {
	Pool        string
	Kind        string
	Requested   int
	PoolMaximum int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf(
		"requirement %s:%d exceeds pool '%s' capacity %d",
		e.Kind, e.Requested, e.Pool, e.PoolMaximum,
	)
}

// StaleAllocationError reports a release of an allocation that was already
// released.
type StaleAllocationError struct {
	Allocation string
	TaskID     string
}

func (e *StaleAllocationError) Error() string {
	return fmt.Sprintf("allocation '%s' for task '%s' already released", e.Allocation, e.TaskID)
}

// Allocation is a reservation of pool capacity for one task. It is released
// exactly once, on the task's terminal transition.
type Allocation struct {
	ID        string
	TaskID    string
	Amount    Requirement
	CreatedAt time.Time

	released bool
}

// LedgerEntry records one allocation event for persistence and forecasting.
type LedgerEntry struct {
	Pool       string        `json:"pool"`
	TaskID     string        `json:"task_id"`
	Amount     Requirement   `json:"amount"`
	Allocated  time.Time     `json:"allocated"`
	ReleasedAt time.Time     `json:"released_at,omitempty"`
	Held       time.Duration `json:"held,omitempty"`
}

// Allocator owns all mutation of pool state. TryAllocate is an atomic
// check-and-reserve: two concurrent callers can never over-commit the pool.
type Allocator struct {
	mu sync.Mutex

	pool   Pool
	used   Capacity
	active map[string]*Allocation
	ledger []LedgerEntry

	clock func() time.Time
}

// NewAllocator builds an allocator over a pool.
func NewAllocator(pool Pool) *Allocator {
	return &Allocator{
		pool:   pool,
		used:   make(Capacity, len(pool.Total)),
		active: make(map[string]*Allocation),
		clock:  time.Now,
	}
}

// TryAllocate atomically checks and reserves capacity for the requirement.
// It returns (nil, nil) when the requirement does not fit the currently free
// capacity, and a *CapacityExceededError when it could never fit at all.
func (a *Allocator) TryAllocate(taskID string, req Requirement) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for kind, amount := range req {
		if amount > a.pool.Total[kind] {
			return nil, &CapacityExceededError{
				Pool:        a.pool.Name,
				Kind:        kind,
				Requested:   amount,
				PoolMaximum: a.pool.Total[kind],
			}
		}
	}

	for kind, amount := range req {
		if a.used[kind]+amount > a.pool.Total[kind] {
			return nil, nil
		}
	}

	alloc := &Allocation{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Amount:    req,
		CreatedAt: a.clock(),
	}
	for kind, amount := range req {
		a.used[kind] += amount
	}
	a.active[alloc.ID] = alloc
	a.ledger = append(a.ledger, LedgerEntry{
		Pool:      a.pool.Name,
		TaskID:    taskID,
		Amount:    req,
		Allocated: alloc.CreatedAt,
	})

	return alloc, nil
}

// Release returns the allocation's capacity to the pool. Releasing twice
// fails with *StaleAllocationError.
func (a *Allocator) Release(alloc *Allocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if alloc.released {
		return &StaleAllocationError{Allocation: alloc.ID, TaskID: alloc.TaskID}
	}
	alloc.released = true
	delete(a.active, alloc.ID)

	now := a.clock()
	for kind, amount := range alloc.Amount {
		a.used[kind] -= amount
	}
	for i := len(a.ledger) - 1; i >= 0; i-- {
		entry := &a.ledger[i]
		if entry.TaskID == alloc.TaskID && entry.ReleasedAt.IsZero() {
			entry.ReleasedAt = now
			entry.Held = now.Sub(entry.Allocated)
			break
		}
	}
	return nil
}

// Free returns a snapshot of the currently free capacity.
func (a *Allocator) Free() Capacity {
	a.mu.Lock()
	defer a.mu.Unlock()

	free := a.pool.Total.Clone()
	for kind, amount := range a.used {
		free[kind] -= amount
	}
	return free
}

// Used returns a snapshot of the currently reserved capacity.
func (a *Allocator) Used() Capacity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.Clone()
}

// Pool returns the pool definition.
func (a *Allocator) Pool() Pool {
	return a.pool
}

// RestoreLedger prepends ledger history from a previous run, for forecasting
// continuity across restarts. Entries still held at snapshot time are recorded
// as released then: their capacity died with the old process.
func (a *Allocator) RestoreLedger(entries []LedgerEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	restored := make([]LedgerEntry, 0, len(entries)+len(a.ledger))
	for _, entry := range entries {
		if entry.ReleasedAt.IsZero() {
			entry.ReleasedAt = now
			entry.Held = now.Sub(entry.Allocated)
		}
		restored = append(restored, entry)
	}
	a.ledger = append(restored, a.ledger...)
}

// Ledger returns a copy of the allocation ledger, oldest first.
func (a *Allocator) Ledger() []LedgerEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]LedgerEntry, len(a.ledger))
	copy(out, a.ledger)
	return out
}
