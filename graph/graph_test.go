package graph

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/ornolab/foreman/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, ids ...task.ID) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		require.NoError(t, g.AddNode(id, 0))
	}
	return g
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("a", 0))
	assert.Error(t, g.AddNode("a", 0))
	assert.Equal(t, 1, g.Len())
}

func TestAddEdgeRejectsUnknownNodes(t *testing.T) {
	g := newTestGraph(t, "a")
	assert.Error(t, g.AddEdge("a", "ghost", EdgeSequential))
	assert.Error(t, g.AddEdge("ghost", "a", EdgeSequential))
}

func TestAddEdgeRejectsSelfEdge(t *testing.T) {
	g := newTestGraph(t, "a")

	err := g.AddEdge("a", "a", EdgeSequential)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestAddEdgeRejectsDuplicates(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.AddEdge("a", "b", EdgeSequential))
	assert.Error(t, g.AddEdge("a", "b", EdgeConditional))
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	require.NoError(t, g.AddEdge("a", "b", EdgeSequential))
	require.NoError(t, g.AddEdge("b", "c", EdgeSequential))

	err := g.AddEdge("c", "a", EdgeSequential)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, task.ID("c"), cycleErr.From)
	assert.Equal(t, task.ID("a"), cycleErr.To)

	// The rejected edge must leave the graph untouched.
	assert.Len(t, g.Edges(), 2)
}

// TestAddEdgeRejectsCycleInRandomDAG builds random DAGs (edges only ever point
// from lower to higher index, so they cannot cycle) and verifies that closing
// any path back to its origin is rejected.
func TestAddEdgeRejectsCycleInRandomDAG(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		const n = 12
		g := New()
		ids := make([]task.ID, n)
		for i := range ids {
			ids[i] = task.ID(fmt.Sprintf("task-%02d", i))
			require.NoError(t, g.AddNode(ids[i], 0))
		}

		type pair struct{ from, to int }
		var inserted []pair
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Intn(3) == 0 {
					require.NoError(t, g.AddEdge(ids[i], ids[j], EdgeSequential))
					inserted = append(inserted, pair{i, j})
				}
			}
		}

		// Any edge going backwards along an existing edge closes a cycle.
		for _, p := range inserted {
			err := g.AddEdge(ids[p.to], ids[p.from], EdgeSequential)
			var cycleErr *CycleError
			require.ErrorAs(t, err, &cycleErr, "edge %s -> %s should close a cycle", ids[p.to], ids[p.from])
		}
	}
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	require.NoError(t, g.AddEdge("a", "b", EdgeSequential))
	require.NoError(t, g.AddEdge("b", "c", EdgeSequential))

	g.RemoveNode("b")

	assert.False(t, g.HasNode("b"))
	assert.Empty(t, g.Edges())
	assert.Empty(t, g.Dependents("a"))
	assert.Empty(t, g.Dependencies("c"))
}

func TestDependenciesAndDependentsReturnCopies(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.AddEdge("a", "b", EdgeConditional))

	deps := g.Dependencies("b")
	assert.Equal(t, map[task.ID]EdgeKind{"a": EdgeConditional}, deps)

	// Mutating the returned map must not affect the graph.
	deps["x"] = EdgeSequential
	assert.Equal(t, map[task.ID]EdgeKind{"a": EdgeConditional}, g.Dependencies("b"))
}

// bruteForceReadySet recomputes the ready set from scratch by checking every
// node's dependencies against the completed set.
func bruteForceReadySet(g *Graph, completed map[task.ID]struct{}) []task.ID {
	var ready []task.ID
	for _, id := range g.NodeIDs() {
		if _, done := completed[id]; done {
			continue
		}
		satisfied := true
		for from := range g.Dependencies(id) {
			if _, done := completed[from]; !done {
				satisfied = false
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

func TestReadySetMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		const n = 15
		g := New()
		ids := make([]task.ID, n)
		for i := range ids {
			ids[i] = task.ID(fmt.Sprintf("task-%02d", i))
			require.NoError(t, g.AddNode(ids[i], 0))
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Intn(4) == 0 {
					require.NoError(t, g.AddEdge(ids[i], ids[j], EdgeSequential))
				}
			}
		}

		// Completion always flows forward, like a real execution would.
		completed := map[task.ID]struct{}{}
		for i := 0; i < n; i++ {
			assert.Equal(t, bruteForceReadySet(g, completed), g.ReadySet(completed))
			if rng.Intn(2) == 0 {
				completed[ids[i]] = struct{}{}
			}
		}
	}
}

func TestReadySetOrderIsDeterministic(t *testing.T) {
	g := newTestGraph(t, "c", "a", "b")

	for i := 0; i < 10; i++ {
		assert.Equal(t, []task.ID{"a", "b", "c"}, g.ReadySet(nil))
	}
}

func TestCriticalPath(t *testing.T) {
	//      a(1s) -> b(5s) -> d(1s)
	//      a(1s) -> c(2s) ---^
	g := New()
	require.NoError(t, g.AddNode("a", 1*time.Second))
	require.NoError(t, g.AddNode("b", 5*time.Second))
	require.NoError(t, g.AddNode("c", 2*time.Second))
	require.NoError(t, g.AddNode("d", 1*time.Second))
	require.NoError(t, g.AddEdge("a", "b", EdgeSequential))
	require.NoError(t, g.AddEdge("a", "c", EdgeSequential))
	require.NoError(t, g.AddEdge("b", "d", EdgeSequential))
	require.NoError(t, g.AddEdge("c", "d", EdgeSequential))

	assert.Equal(t, []task.ID{"a", "b", "d"}, g.CriticalPath())
}

func TestCriticalPathOnEmptyGraph(t *testing.T) {
	assert.Nil(t, New().CriticalPath())
}

func TestCriticalPathSingleNode(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode("only", time.Minute))
	assert.Equal(t, []task.ID{"only"}, g.CriticalPath())
}
