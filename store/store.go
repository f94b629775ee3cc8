// Package store persists scheduler state to disk so a restarted process can
// resume unfinished work instead of recomputing everything.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/resource"
	"github.com/ornolab/foreman/task"
)

// TaskRecord is the persisted form of one task.
type TaskRecord struct {
	ID                task.ID              `json:"id"`
	Name              string               `json:"name"`
	Owner             string               `json:"owner"`
	Status            task.Status          `json:"status"`
	Priority          task.Priority        `json:"priority"`
	Deadline          time.Time            `json:"deadline,omitempty"`
	Requirement       resource.Requirement `json:"requirement,omitempty"`
	EstimatedDuration time.Duration        `json:"estimated_duration,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	MaxRetries        int                  `json:"max_retries"`
	RetryDelay        time.Duration        `json:"retry_delay"`
	SupportsPause     bool                 `json:"supports_pause,omitempty"`
	LastCheckpointSeq uint64               `json:"last_checkpoint_seq,omitempty"`
	LastError         string               `json:"last_error,omitempty"`
}

// EdgeRecord is the persisted form of one dependency edge.
type EdgeRecord struct {
	Owner string         `json:"owner"`
	From  task.ID        `json:"from"`
	To    task.ID        `json:"to"`
	Kind  graph.EdgeKind `json:"kind"`
}

// State is a complete scheduler snapshot.
type State struct {
	SavedAt     time.Time              `json:"saved_at"`
	Pool        resource.Pool          `json:"pool"`
	Tasks       []TaskRecord           `json:"tasks"`
	Edges       []EdgeRecord           `json:"edges"`
	Allocations []resource.LedgerEntry `json:"allocations,omitempty"`
}

// Source is the scheduler-side view a snapshot is built from.
type Source interface {
	Owners() []string
	Tasks() []task.Task
	Edges(owner string) []graph.Edge
	AllocationLedger() []resource.LedgerEntry
}

// Snapshot captures the source's current state.
func Snapshot(src Source, pool resource.Pool) State {
	state := State{
		SavedAt:     time.Now(),
		Pool:        pool,
		Allocations: src.AllocationLedger(),
	}
	for _, t := range src.Tasks() {
		state.Tasks = append(state.Tasks, TaskRecord{
			ID:                t.ID,
			Name:              t.Name,
			Owner:             t.Owner,
			Status:            t.Status,
			Priority:          t.Priority,
			Deadline:          t.Deadline,
			Requirement:       t.Requirement,
			EstimatedDuration: t.EstimatedDuration,
			CreatedAt:         t.CreatedAt,
			MaxRetries:        t.MaxRetries,
			RetryDelay:        t.RetryDelay,
			SupportsPause:     t.SupportsPause,
			LastCheckpointSeq: t.LastCheckpointSeq,
			LastError:         t.LastError,
		})
	}
	for _, owner := range src.Owners() {
		for _, edge := range src.Edges(owner) {
			state.Edges = append(state.Edges, EdgeRecord{
				Owner: owner,
				From:  edge.From,
				To:    edge.To,
				Kind:  edge.Kind,
			})
		}
	}
	return state
}

// TaskOf converts a record back into a task.
func (r TaskRecord) TaskOf() task.Task {
	return task.Task{
		ID:                r.ID,
		Name:              r.Name,
		Owner:             r.Owner,
		Status:            r.Status,
		Priority:          r.Priority,
		Deadline:          r.Deadline,
		Requirement:       r.Requirement,
		EstimatedDuration: r.EstimatedDuration,
		CreatedAt:         r.CreatedAt,
		MaxRetries:        r.MaxRetries,
		RetryDelay:        r.RetryDelay,
		SupportsPause:     r.SupportsPause,
		LastCheckpointSeq: r.LastCheckpointSeq,
		LastError:         r.LastError,
	}
}

// FileStore saves snapshots as a single JSON document, written atomically via
// a temp file and rename so a crash mid-write never corrupts the last good
// snapshot.
type FileStore struct {
	path string
}

// NewFileStore builds a store writing to the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save persists the state, replacing any previous snapshot.
func (s *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Load reads the last saved snapshot. It returns os.ErrNotExist (wrapped) when
// no snapshot was ever saved.
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse state: %w", err)
	}
	return state, nil
}
