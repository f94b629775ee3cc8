package tracker

import (
	"testing"

	"github.com/ornolab/foreman/graph"
	"github.com/ornolab/foreman/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, tr *Tracker, owner string, ids ...task.ID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, tr.Register(owner, id, 0))
	}
}

func TestRegisterStartsPending(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a")

	status, err := tr.Status("wf", "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, status)
}

func TestStatusUnknownTask(t *testing.T) {
	tr := New()
	_, err := tr.Status("wf", "ghost")
	assert.Error(t, err)
}

func TestRegisterDependencySurfacesCycle(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "b")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))

	err := tr.RegisterDependency("wf", "b", "a", graph.EdgeSequential)
	var cycleErr *graph.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestCompletionPromotesDependents(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "b", "c")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "a", "c", graph.EdgeSequential))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"b", "c"}, propagation.NewlyReady)
	assert.Empty(t, propagation.Blocked)
}

func TestCompletionWaitsForAllDependencies(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "b", "c")
	require.NoError(t, tr.RegisterDependency("wf", "a", "c", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "b", "c", graph.EdgeSequential))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, propagation.NewlyReady, "c still waits on b")

	propagation, err = tr.UpdateStatus("wf", "b", task.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"c"}, propagation.NewlyReady)
}

func TestFailureBlocksSequentialDependentsTransitively(t *testing.T) {
	// a -> b -> c, a -> d; all sequential.
	tr := New()
	register(t, tr, "wf", "a", "b", "c", "d")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "b", "c", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "a", "d", graph.EdgeSequential))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"b", "c", "d"}, propagation.Blocked)
	assert.Empty(t, propagation.NewlyReady)

	for _, id := range []task.ID{"b", "c", "d"} {
		status, err := tr.Status("wf", id)
		require.NoError(t, err)
		assert.Equal(t, task.StatusBlocked, status)
	}
}

func TestFailureLetsBypassedDependentsProceed(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "cleanup")
	require.NoError(t, tr.RegisterDependency("wf", "a", "cleanup", graph.EdgeBypassed))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, propagation.Blocked)
	assert.Equal(t, []task.ID{"cleanup"}, propagation.NewlyReady)
}

func TestFailureSatisfiesConditionalDependents(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "report")
	require.NoError(t, tr.RegisterDependency("wf", "a", "report", graph.EdgeConditional))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, propagation.Blocked)
	assert.Equal(t, []task.ID{"report"}, propagation.NewlyReady)
}

func TestCancellationBlocksConditionalDependents(t *testing.T) {
	// Conditional requires an outcome; a cancelled upstream never produced
	// one and never will, so the dependent is blocked rather than left
	// dangling. Bypassed dependents still proceed.
	tr := New()
	register(t, tr, "wf", "a", "report", "cleanup")
	require.NoError(t, tr.RegisterDependency("wf", "a", "report", graph.EdgeConditional))
	require.NoError(t, tr.RegisterDependency("wf", "a", "cleanup", graph.EdgeBypassed))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"report"}, propagation.Blocked)
	assert.Equal(t, []task.ID{"cleanup"}, propagation.NewlyReady)
}

func TestBlockedUpstreamBlocksConditionalDependents(t *testing.T) {
	// a -> b (sequential), b -> c (conditional): when a fails, b is blocked
	// and will never produce an outcome, so c is blocked in the same cascade.
	tr := New()
	register(t, tr, "wf", "a", "b", "c")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "b", "c", graph.EdgeConditional))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"b", "c"}, propagation.Blocked)
}

func TestBlockedCascadeStopsAtBypassedEdge(t *testing.T) {
	// a -> b (sequential), b -> c (bypassed): a failing blocks b, but c is
	// only unblocked once b reaches a terminal state.
	tr := New()
	register(t, tr, "wf", "a", "b", "c")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "b", "c", graph.EdgeBypassed))

	propagation, err := tr.UpdateStatus("wf", "a", task.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []task.ID{"b"}, propagation.Blocked)

	// Blocked is terminal, so the bypassed dependent may now proceed.
	propagation, err = tr.UpdateStatus("wf", "b", task.StatusBlocked)
	require.NoError(t, err)
	assert.Empty(t, propagation.Blocked)
	assert.True(t, tr.IsReady("wf", "c"))
}

func TestReadySetPromotesSatisfiedPending(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "b")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))

	assert.Equal(t, []task.ID{"a"}, tr.ReadySet("wf"))

	status, err := tr.Status("wf", "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusReady, status)
}

func TestOwnersAreIsolated(t *testing.T) {
	tr := New()
	register(t, tr, "one", "a")
	register(t, tr, "two", "a")

	_, err := tr.UpdateStatus("one", "a", task.StatusCompleted)
	require.NoError(t, err)

	status, err := tr.Status("two", "a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, status)
	assert.Equal(t, []string{"one", "two"}, tr.Owners())
}

func TestBlockingTasks(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "b", "c", "d")
	require.NoError(t, tr.RegisterDependency("wf", "a", "c", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "b", "c", graph.EdgeSequential))
	require.NoError(t, tr.RegisterDependency("wf", "c", "d", graph.EdgeSequential))

	_, err := tr.UpdateStatus("wf", "a", task.StatusCompleted)
	require.NoError(t, err)

	assert.Equal(t, []task.ID{"b", "c"}, tr.BlockingTasks("wf", "d"))
	assert.Empty(t, tr.BlockingTasks("wf", "a"))
}

func TestRemoveDropsTaskAndEdges(t *testing.T) {
	tr := New()
	register(t, tr, "wf", "a", "b")
	require.NoError(t, tr.RegisterDependency("wf", "a", "b", graph.EdgeSequential))

	tr.Remove("wf", "a")

	_, err := tr.Status("wf", "a")
	assert.Error(t, err)
	assert.Empty(t, tr.Edges("wf"))
	assert.Equal(t, []task.ID{"b"}, tr.ReadySet("wf"))
}
