// Package checkpoint persists immutable task snapshots and drives failure
// recovery. Writes are append-only; sequence numbers per task are strictly
// increasing; restore either returns a complete chain (latest Full plus all
// later Incrementals, in order) or fails.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/ornolab/foreman/task"
)

type Kind int

const (
	KindFull Kind = iota
	KindIncremental
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Checkpoint is an immutable snapshot of task state.
type Checkpoint struct {
	TaskID    task.ID   `json:"task_id"`
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// IncompleteCheckpointChainError reports a restore that cannot produce a
// complete chain. Restore never guesses: a chain without a Full checkpoint
// is an error, not a partial result.
type IncompleteCheckpointChainError struct {
	TaskID task.ID
	Reason string
}

func (e *IncompleteCheckpointChainError) Error() string {
	return fmt.Sprintf("incomplete checkpoint chain for task '%s': %s", e.TaskID, e.Reason)
}

// Store is the durable backend. Implementations must preserve append order
// per task.
type Store interface {
	Append(cp Checkpoint) error
	// List returns all checkpoints of a task in ascending sequence order.
	List(id task.ID) ([]Checkpoint, error)
	Delete(id task.ID, seq uint64) error
}

// Manager hands out sequence numbers and enforces chain invariants over a
// Store. Cadence (when to checkpoint) is the caller's policy, not the
// manager's: cost/benefit varies too much between minute-scale tasks and
// multi-day simulations to hardcode.
type Manager struct {
	mu    sync.Mutex
	store Store
	next  map[task.ID]uint64
	clock func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		next:  make(map[task.ID]uint64),
		clock: time.Now,
	}
}

// Checkpoint appends a new snapshot with the next sequence number for the
// task and returns it.
func (m *Manager) Checkpoint(id task.ID, payload []byte, kind Kind) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.nextSeq(id)
	if err != nil {
		return Checkpoint{}, err
	}

	cp := Checkpoint{
		TaskID:    id,
		Seq:       seq,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: m.clock(),
	}
	if err := m.store.Append(cp); err != nil {
		return Checkpoint{}, fmt.Errorf("append checkpoint: %w", err)
	}
	m.next[id] = seq + 1
	return cp, nil
}

// nextSeq resumes numbering from the store when the manager has no memory of
// the task (e.g. after a restart).
func (m *Manager) nextSeq(id task.ID) (uint64, error) {
	if seq, ok := m.next[id]; ok {
		return seq, nil
	}
	existing, err := m.store.List(id)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	var seq uint64 = 1
	if len(existing) > 0 {
		seq = existing[len(existing)-1].Seq + 1
	}
	return seq, nil
}

// Restore returns the chain sufficient to reconstruct task state: the most
// recent Full checkpoint followed by every later Incremental, in sequence
// order. It fails with *IncompleteCheckpointChainError when no Full
// checkpoint exists.
func (m *Manager) Restore(id task.ID) ([]Checkpoint, error) {
	all, err := m.store.List(id)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(all) == 0 {
		return nil, &IncompleteCheckpointChainError{TaskID: id, Reason: "no checkpoints"}
	}

	fullIndex := -1
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == KindFull {
			fullIndex = i
			break
		}
	}
	if fullIndex < 0 {
		return nil, &IncompleteCheckpointChainError{TaskID: id, Reason: "no full checkpoint"}
	}

	chain := all[fullIndex:]
	for i := 1; i < len(chain); i++ {
		if chain[i].Seq <= chain[i-1].Seq {
			return nil, &IncompleteCheckpointChainError{
				TaskID: id,
				Reason: fmt.Sprintf("out-of-order sequence %d after %d", chain[i].Seq, chain[i-1].Seq),
			}
		}
	}
	return chain, nil
}

// Latest returns the most recent checkpoint of the task, if any.
func (m *Manager) Latest(id task.ID) (Checkpoint, bool, error) {
	all, err := m.store.List(id)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(all) == 0 {
		return Checkpoint{}, false, nil
	}
	return Checkpoint{
		TaskID:    all[len(all)-1].TaskID,
		Seq:       all[len(all)-1].Seq,
		Kind:      all[len(all)-1].Kind,
		Payload:   all[len(all)-1].Payload,
		CreatedAt: all[len(all)-1].CreatedAt,
	}, true, nil
}

// Purge bounds storage by deleting old checkpoints, keeping at least the
// last keepLastN and never breaking the latest restorable chain.
func (m *Manager) Purge(id task.ID, keepLastN int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.store.List(id)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(all) <= keepLastN {
		return nil
	}

	cut := len(all) - keepLastN
	// Keep everything from the latest Full checkpoint onward, even when that
	// exceeds keepLastN: the chain must stay restorable.
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == KindFull {
			if i < cut {
				cut = i
			}
			break
		}
	}

	for _, cp := range all[:cut] {
		if err := m.store.Delete(id, cp.Seq); err != nil {
			return fmt.Errorf("delete checkpoint %d: %w", cp.Seq, err)
		}
	}
	return nil
}
