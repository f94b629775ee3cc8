// Package graph implements the per-owner dependency DAG. The adjacency
// structures are owned exclusively by the Graph; callers only ever see
// copies.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/ornolab/foreman/task"
)

// EdgeKind controls how a dependency edge is satisfied.
type EdgeKind int

const (
	// Sequential edges require the upstream task to complete successfully.
	EdgeSequential EdgeKind = iota
	// Conditional edges are satisfied once the upstream task reaches any
	// terminal state, successful or not.
	EdgeConditional
	// Bypassed edges let dependents proceed even when the upstream task
	// failed.
	EdgeBypassed
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeSequential:
		return "sequential"
	case EdgeConditional:
		return "conditional"
	case EdgeBypassed:
		return "bypassed"
	default:
		return "unknown"
	}
}

// CycleError reports an edge insertion that would create a cycle.
type CycleError struct {
	From task.ID
	To   task.ID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("edge %s -> %s would create a cycle", e.From, e.To)
}

// Edge is a directed dependency relation: To cannot become ready until the
// edge is satisfied by From.
type Edge struct {
	From task.ID
	To   task.ID
	Kind EdgeKind
}

type node struct {
	in     map[task.ID]EdgeKind
	out    map[task.ID]EdgeKind
	weight time.Duration
}

// Graph is a directed acyclic graph of task IDs. It is not safe for
// concurrent use; the tracker serializes access per owner.
type Graph struct {
	nodes map[task.ID]*node
}

func New() *Graph {
	return &Graph{nodes: make(map[task.ID]*node)}
}

// AddNode registers a task with its estimated duration (the weight used for
// critical path computation).
func (g *Graph) AddNode(id task.ID, weight time.Duration) error {
	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("node '%s' already exists", id)
	}
	g.nodes[id] = &node{
		in:     make(map[task.ID]EdgeKind),
		out:    make(map[task.ID]EdgeKind),
		weight: weight,
	}
	return nil
}

// HasNode reports whether the task is part of the graph.
func (g *Graph) HasNode(id task.ID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddEdge inserts a dependency edge. It fails with *CycleError when the edge
// would close a cycle. The check walks only nodes reachable from 'to', so
// insertion cost stays proportional to the edges actually touched rather
// than the whole graph.
func (g *Graph) AddEdge(from, to task.ID, kind EdgeKind) error {
	fromNode, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("unknown node '%s'", from)
	}
	toNode, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("unknown node '%s'", to)
	}
	if from == to {
		return &CycleError{From: from, To: to}
	}
	if _, dup := fromNode.out[to]; dup {
		return fmt.Errorf("edge %s -> %s already exists", from, to)
	}

	if g.reaches(to, from) {
		return &CycleError{From: from, To: to}
	}

	fromNode.out[to] = kind
	toNode.in[from] = kind
	return nil
}

// reaches reports whether target is reachable from start following out-edges.
func (g *Graph) reaches(start, target task.ID) bool {
	visited := map[task.ID]bool{start: true}
	frontier := []task.ID{start}
	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		for next := range g.nodes[current].out {
			if next == target {
				return true
			}
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false
}

// RemoveNode deletes the node and cascades removal of every edge touching it.
func (g *Graph) RemoveNode(id task.ID) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for from := range n.in {
		delete(g.nodes[from].out, id)
	}
	for to := range n.out {
		delete(g.nodes[to].in, id)
	}
	delete(g.nodes, id)
}

// Dependencies returns the sources of all incoming edges of id, with their
// kinds.
func (g *Graph) Dependencies(id task.ID) map[task.ID]EdgeKind {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make(map[task.ID]EdgeKind, len(n.in))
	for from, kind := range n.in {
		out[from] = kind
	}
	return out
}

// Dependents returns the targets of all outgoing edges of id, with their
// kinds.
func (g *Graph) Dependents(id task.ID) map[task.ID]EdgeKind {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make(map[task.ID]EdgeKind, len(n.out))
	for to, kind := range n.out {
		out[to] = kind
	}
	return out
}

// Edges returns every edge in the graph, ordered deterministically.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for from, n := range g.nodes {
		for to, kind := range n.out {
			edges = append(edges, Edge{From: from, To: to, Kind: kind})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// NodeIDs returns all node IDs in deterministic order.
func (g *Graph) NodeIDs() []task.ID {
	ids := make([]task.ID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Weight returns the node's estimated duration.
func (g *Graph) Weight(id task.ID) time.Duration {
	if n, ok := g.nodes[id]; ok {
		return n.weight
	}
	return 0
}

// ReadySet returns the nodes whose every incoming edge's source is in the
// completed set. Output order is deterministic. Status filtering (only
// Pending tasks may become ready) is the tracker's concern.
func (g *Graph) ReadySet(completed map[task.ID]struct{}) []task.ID {
	var ready []task.ID
	for id, n := range g.nodes {
		if _, done := completed[id]; done {
			continue
		}
		satisfied := true
		for from := range n.in {
			if _, done := completed[from]; !done {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}

// CriticalPath returns the longest weighted path through the graph, by
// estimated duration. Used as a scheduling hint.
func (g *Graph) CriticalPath() []task.ID {
	order, ok := g.topoOrder()
	if !ok {
		// The insertion invariant keeps the graph acyclic; an inconsistency
		// here would be a bug in AddEdge.
		return nil
	}

	distance := make(map[task.ID]time.Duration, len(g.nodes))
	previous := make(map[task.ID]task.ID, len(g.nodes))
	for _, id := range order {
		distance[id] = g.nodes[id].weight
	}
	for _, id := range order {
		for next := range g.nodes[id].out {
			if candidate := distance[id] + g.nodes[next].weight; candidate > distance[next] {
				distance[next] = candidate
				previous[next] = id
			}
		}
	}

	var endpoint task.ID
	var longest time.Duration = -1
	for _, id := range g.NodeIDs() {
		if distance[id] > longest {
			longest = distance[id]
			endpoint = id
		}
	}
	if longest < 0 {
		return nil
	}

	var path []task.ID
	for current := endpoint; ; {
		path = append([]task.ID{current}, path...)
		prev, ok := previous[current]
		if !ok {
			break
		}
		current = prev
	}
	return path
}

// topoOrder returns a deterministic topological order via Kahn's algorithm.
func (g *Graph) topoOrder() ([]task.ID, bool) {
	indegree := make(map[task.ID]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.in)
	}

	var frontier []task.ID
	for _, id := range g.NodeIDs() {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	order := make([]task.ID, 0, len(g.nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		next := make([]task.ID, 0)
		for to := range g.nodes[id].out {
			indegree[to]--
			if indegree[to] == 0 {
				next = append(next, to)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		frontier = append(frontier, next...)
	}

	return order, len(order) == len(g.nodes)
}
