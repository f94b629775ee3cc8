package store

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/resource"
	"github.com/ornolab/foreman/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	tasks  []task.Task
	edges  map[string][]graph.Edge
	ledger []resource.LedgerEntry
}

func (s *fakeSource) Owners() []string {
	owners := make([]string, 0, len(s.edges))
	for owner := range s.edges {
		owners = append(owners, owner)
	}
	return owners
}

func (s *fakeSource) Tasks() []task.Task                       { return s.tasks }
func (s *fakeSource) Edges(owner string) []graph.Edge          { return s.edges[owner] }
func (s *fakeSource) AllocationLedger() []resource.LedgerEntry { return s.ledger }

func TestSnapshotCapturesTasksAndEdges(t *testing.T) {
	src := &fakeSource{
		tasks: []task.Task{
			{ID: "a", Name: "build", Owner: "wf", Status: task.StatusCompleted, Priority: task.PriorityHigh},
			{ID: "b", Name: "test", Owner: "wf", Status: task.StatusRunning, LastCheckpointSeq: 3},
		},
		edges: map[string][]graph.Edge{
			"wf": {{From: "a", To: "b", Kind: graph.EdgeSequential}},
		},
		ledger: []resource.LedgerEntry{{Pool: "default", TaskID: "b", Amount: resource.Requirement{"cpu": 2}}},
	}

	state := Snapshot(src, resource.NewPool("default", resource.Capacity{"cpu": 4}))

	require.Len(t, state.Tasks, 2)
	assert.Equal(t, task.ID("a"), state.Tasks[0].ID)
	assert.Equal(t, uint64(3), state.Tasks[1].LastCheckpointSeq)
	require.Len(t, state.Edges, 1)
	assert.Equal(t, EdgeRecord{Owner: "wf", From: "a", To: "b", Kind: graph.EdgeSequential}, state.Edges[0])
	assert.Len(t, state.Allocations, 1)
	assert.False(t, state.SavedAt.IsZero())
}

func TestTaskRecordRoundTrip(t *testing.T) {
	original := task.Task{
		ID:                "t1",
		Name:              "render",
		Owner:             "wf",
		Status:            task.StatusPaused,
		Priority:          task.PriorityCritical,
		Deadline:          time.Now().Add(time.Hour).UTC(),
		Requirement:       resource.Requirement{"gpu": 1},
		EstimatedDuration: time.Minute,
		CreatedAt:         time.Now().UTC(),
		MaxRetries:        2,
		RetryDelay:        time.Second,
		SupportsPause:     true,
		LastCheckpointSeq: 7,
		LastError:         "transient",
	}

	src := &fakeSource{tasks: []task.Task{original}}
	state := Snapshot(src, resource.Pool{})
	restored := state.Tasks[0].TaskOf()

	assert.Equal(t, original, restored)
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	file := path.Join(t.TempDir(), "nested", "state.json")
	fs := NewFileStore(file)

	state := State{
		SavedAt: time.Now().UTC(),
		Pool:    resource.NewPool("default", resource.Capacity{"cpu": 8}),
		Tasks: []TaskRecord{
			{ID: "a", Name: "build", Owner: "wf", Status: task.StatusQueued, CreatedAt: time.Now().UTC()},
		},
		Edges: []EdgeRecord{{Owner: "wf", From: "a", To: "b", Kind: graph.EdgeConditional}},
	}
	require.NoError(t, fs.Save(state))

	loaded, err := fs.Load()
	require.NoError(t, err)
	assert.Equal(t, state.Pool, loaded.Pool)
	assert.Equal(t, state.Tasks, loaded.Tasks)
	assert.Equal(t, state.Edges, loaded.Edges)
}

func TestFileStoreSaveReplacesAtomically(t *testing.T) {
	file := path.Join(t.TempDir(), "state.json")
	fs := NewFileStore(file)

	require.NoError(t, fs.Save(State{Tasks: []TaskRecord{{ID: "old"}}}))
	require.NoError(t, fs.Save(State{Tasks: []TaskRecord{{ID: "new"}}}))

	loaded, err := fs.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Tasks, 1)
	assert.Equal(t, task.ID("new"), loaded.Tasks[0].ID)

	// No temp file is left behind after a committed save.
	_, err = os.Stat(file + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreLoadMissing(t *testing.T) {
	fs := NewFileStore(path.Join(t.TempDir(), "absent.json"))
	_, err := fs.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
