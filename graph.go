package loom

import (
	"fmt"
	"sort"

	"github.com/TheBitDrifter/bark"
)

// Graph is a directed weighted scheduling graph over system vertices: at
// most one edge between any ordered pair, positive weight meaning "priority
// of this ordering", negative weight meaning a denial edge that forbids the
// opposite direction without itself constraining order (§4.7). Grounded on
// the corpus's only graph implementation, simon-lentz/yammm's graph.go
// (other_examples) for the general shape of a sealed, query-friendly graph
// type, with the edge/seal/traversal algorithms themselves taken from
// spec §4.7 since yammm's graph solves an unrelated (schema-instance)
// problem.
type Graph struct {
	vertices []string
	index    map[string]int

	weight [][]float64 // weight[a][b], 0 means no edge

	sealed    bool
	allPairs  [][]float64 // strongest-path weight, seal phase output
	inDegree  []int
	successors [][]int

	traversalRemaining []int
	traversalStarted   bool
}

// NewGraph returns an empty graph ready to accept vertices and edges.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddVertex registers name if not already present and returns its index.
func (g *Graph) AddVertex(name string) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	i := len(g.vertices)
	g.vertices = append(g.vertices, name)
	g.index[name] = i
	for a := range g.weight {
		g.weight[a] = append(g.weight[a], 0)
	}
	g.weight = append(g.weight, make([]float64, len(g.vertices)))
	return i
}

// setEdge installs weight w at a->b per the stronger-wins rule (§4.7): let
// w' be the stronger (larger magnitude) of the current a->b and b->a
// weights; if |w| < |w'| the call is ignored, otherwise w is installed at
// a->b and the opposite direction is zeroed if it was weaker.
func (g *Graph) setEdge(a, b int, w float64) {
	if a == b {
		return
	}
	cur := g.weight[a][b]
	rev := g.weight[b][a]
	strongest := cur
	if abs(rev) > abs(strongest) {
		strongest = rev
	}
	if abs(w) < abs(strongest) {
		return
	}
	g.weight[a][b] = w
	if abs(rev) < abs(w) {
		g.weight[b][a] = 0
	}
}

// addEdge installs a positive-priority ordering edge a before b.
func (g *Graph) addEdge(a, b int, priority float64) {
	if priority < 0 {
		priority = -priority
	}
	g.setEdge(a, b, priority)
}

// denyEdge installs a denial edge: a and b may run in either order, but
// nothing weaker may reorder them.
func (g *Graph) denyEdge(a, b int, priority float64) {
	if priority < 0 {
		priority = -priority
	}
	g.setEdge(a, b, -priority)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Seal runs the seal phase (§4.7): all-pairs strongest paths, cycle
// detection, transitive reduction, and in-degree counting. Returns a
// PrecedenceCycleError naming the offending systems if a cycle is found.
func (g *Graph) Seal() error {
	n := len(g.vertices)

	// 1. All-pairs paths: a Floyd-Warshall variant where combining two edges
	// takes the minimum (weakest) weight along the path, and combining two
	// candidate paths keeps the one with the larger minimum (the stronger
	// overall path). Denial edges (negative weight) don't compose into
	// positive-order paths; only positive edges with weight > 0 propagate.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			if i == j {
				continue
			}
			if g.weight[i][j] > 0 {
				dist[i][j] = g.weight[i][j]
			}
		}
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if dist[i][k] <= 0 {
				continue
			}
			for j := 0; j < n; j++ {
				if dist[k][j] <= 0 {
					continue
				}
				candidate := min64(dist[i][k], dist[k][j])
				if candidate > dist[i][j] {
					dist[i][j] = candidate
				}
			}
		}
	}
	g.allPairs = dist

	// 2. Cycle detection: a positive path i->j and j->i both existing is a
	// cycle (path-based SCC detection, per §4.7's "Johnson's algorithm on
	// strongly connected components").
	for i := 0; i < n; i++ {
		if dist[i][i] > 0 {
			cycle := g.findCycleThrough(i)
			return bark.AddTrace(PrecedenceCycleError{Cycle: cycle})
		}
	}

	// 3. Transitive reduction: drop a direct edge i->j if some intermediate
	// k lies on a positive path i->k->j, whatever that path's strength.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if g.weight[i][j] <= 0 {
				continue
			}
			for k := 0; k < n; k++ {
				if k == i || k == j {
					continue
				}
				if dist[i][k] > 0 && dist[k][j] > 0 {
					g.weight[i][j] = 0
					break
				}
			}
		}
	}

	// 4. In-degree and successor lists, for traverse().
	g.inDegree = make([]int, n)
	g.successors = make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if g.weight[i][j] > 0 {
				g.inDegree[j]++
				g.successors[i] = append(g.successors[i], j)
			}
		}
	}

	g.sealed = true
	return nil
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// findCycleThrough returns the vertex names on a cycle passing through
// start, found via DFS.
func (g *Graph) findCycleThrough(start int) []string {
	n := len(g.vertices)
	visited := make([]bool, n)
	stack := []int{start}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}
	var found []int
	var dfs func(v int) bool
	dfs = func(v int) bool {
		visited[v] = true
		for j := 0; j < n; j++ {
			if g.weight[v][j] <= 0 {
				continue
			}
			if j == start {
				found = append(stack, start)
				return true
			}
			if visited[j] {
				continue
			}
			parent[j] = v
			stack = append(stack, j)
			if dfs(j) {
				return true
			}
			stack = stack[:len(stack)-1]
		}
		return false
	}
	dfs(start)
	names := make([]string, 0, len(found))
	for _, v := range found {
		names = append(names, g.vertices[v])
	}
	return names
}

// resetTraversal clears the traversal state so the next traverse(nil) call
// starts a fresh pass over the sealed graph. Every consumer of traverse must
// call this before its own first traverse(nil) of a pass, since traversal
// state is shared on the graph and otherwise only the first consumer each
// frame would see any vertices at all.
func (g *Graph) resetTraversal() {
	g.traversalStarted = false
	g.traversalRemaining = nil
}

// traverse implements §4.7's traversal API. A nil completedVertex call
// initialises per-vertex counters to in-degree and returns all zero-in-
// degree vertices; subsequent calls pass a just-completed vertex name and
// get back the vertices newly unblocked by it. Returns nil once every
// vertex has been returned.
func (g *Graph) traverse(completedVertex *string) []string {
	if !g.traversalStarted {
		g.traversalRemaining = append([]int(nil), g.inDegree...)
		g.traversalStarted = true
		var ready []string
		for i, deg := range g.traversalRemaining {
			if deg == 0 {
				ready = append(ready, g.vertices[i])
			}
		}
		sort.Strings(ready)
		return ready
	}
	if completedVertex == nil {
		return nil
	}
	v, ok := g.index[*completedVertex]
	if !ok {
		return nil
	}
	var ready []string
	for _, succ := range g.successors[v] {
		g.traversalRemaining[succ]--
		if g.traversalRemaining[succ] == 0 {
			ready = append(ready, g.vertices[succ])
		}
	}
	sort.Strings(ready)
	return ready
}

// String reports the graph's edges, for diagnostics.
func (g *Graph) String() string {
	s := ""
	for i, name := range g.vertices {
		for j, w := range g.weight[i] {
			if w > 0 {
				s += fmt.Sprintf("%s -(%.1f)-> %s\n", name, w, g.vertices[j])
			}
		}
	}
	return s
}
