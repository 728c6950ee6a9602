package workflow

import (
	"fmt"
	"strings"
)

// Graph validation failure kinds. Callers branch on Kind rather than on
// string matching.
type ValidationKind string

const (
	NoStartNode       ValidationKind = "no_start_node"
	CycleDetected     ValidationKind = "cycle_detected"
	UnreachableNode   ValidationKind = "unreachable_node"
	DisconnectedGraph ValidationKind = "disconnected_graph"
)

// ValidationError is a typed graph-validation failure. Nodes carries a
// bounded sample of offending node ids for diagnostics.
type ValidationError struct {
	Kind    ValidationKind
	Message string
	Nodes   []string
}

func (e *ValidationError) Error() string {
	if len(e.Nodes) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (nodes: %s)", e.Message, strings.Join(e.Nodes, ", "))
}

// sampleSize bounds how many node ids a validation error names.
const sampleSize = 5

// GraphResult is the outcome of a successful validation.
type GraphResult struct {
	StartNodes  []string
	SortedNodes []string
	Reachable   map[string]bool
	Unreachable []string
}

// buildAdjacency returns the forward adjacency map. Every node id gets an
// entry, including isolated nodes. Edges referencing unknown sources are
// ignored.
func buildAdjacency(nodes []Node, edges []Edge) map[string][]string {
	adj := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		adj[n.ID] = nil
	}
	for _, e := range edges {
		if _, ok := adj[e.SourceNodeID]; ok {
			adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
		}
	}
	return adj
}

// buildReverseAdjacency maps each node id to its parents.
func buildReverseAdjacency(nodes []Node, edges []Edge) map[string][]string {
	rev := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		rev[n.ID] = nil
	}
	for _, e := range edges {
		if _, ok := rev[e.TargetNodeID]; ok {
			rev[e.TargetNodeID] = append(rev[e.TargetNodeID], e.SourceNodeID)
		}
	}
	return rev
}

// findStartNodes returns node ids with no incoming edges, in the order the
// nodes were given.
func findStartNodes(nodes []Node, rev map[string][]string) []string {
	var starts []string
	for _, n := range nodes {
		if len(rev[n.ID]) == 0 {
			starts = append(starts, n.ID)
		}
	}
	return starts
}

// TopologicalSort orders node ids so every edge's source precedes its target,
// using Kahn's algorithm. Ties among simultaneously-ready nodes break by the
// node list's order, so the result is reproducible for a given input.
// A cycle yields a CycleDetected error naming a sample of unresolved nodes.
func TopologicalSort(nodes []Node, edges []Edge) ([]string, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	adj := buildAdjacency(nodes, edges)
	rev := buildReverseAdjacency(nodes, edges)

	inDegree := make(map[string]int, len(nodes))
	for id, parents := range rev {
		inDegree[id] = len(parents)
	}

	// Seed the queue in input order to keep the sort stable.
	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	if len(queue) == 0 {
		return nil, &ValidationError{
			Kind:    NoStartNode,
			Message: "workflow has no start node; every node has an incoming edge",
		}
	}

	sorted := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		for _, child := range adj[current] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(sorted) != len(nodes) {
		done := make(map[string]bool, len(sorted))
		for _, id := range sorted {
			done[id] = true
		}
		var unresolved []string
		for _, n := range nodes {
			if !done[n.ID] {
				unresolved = append(unresolved, n.ID)
			}
		}
		return nil, &ValidationError{
			Kind:    CycleDetected,
			Message: fmt.Sprintf("cycle detected in workflow graph; %d nodes could not be ordered", len(unresolved)),
			Nodes:   sample(unresolved),
		}
	}

	return sorted, nil
}

// HasCycle reports whether the graph contains a cycle, using DFS with a
// recursion stack. Redundant with TopologicalSort's detection; kept as an
// independent check for edge previews, where no ordering is wanted.
func HasCycle(nodes []Node, edges []Edge) bool {
	adj := buildAdjacency(nodes, edges)

	visited := make(map[string]bool, len(nodes))
	onStack := make(map[string]bool, len(nodes))

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range adj[id] {
			if !visited[next] {
				if dfs(next) {
					return true
				}
			} else if onStack[next] {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, n := range nodes {
		if !visited[n.ID] && dfs(n.ID) {
			return true
		}
	}
	return false
}

// findReachable walks breadth-first from the start set over the forward
// adjacency map.
func findReachable(starts []string, adj map[string][]string) map[string]bool {
	reachable := make(map[string]bool)
	queue := append([]string(nil), starts...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if reachable[current] {
			continue
		}
		reachable[current] = true
		for _, child := range adj[current] {
			if !reachable[child] {
				queue = append(queue, child)
			}
		}
	}
	return reachable
}

// ValidateGraph checks the structural invariants required before execution:
// at least one start node, no cycles, and (unless allowDisconnected) every
// node reachable from a start node. An empty graph is valid and yields empty
// result sets. The returned SortedNodes is the authoritative execution order.
func ValidateGraph(nodes []Node, edges []Edge, allowDisconnected bool) (*GraphResult, error) {
	if len(nodes) == 0 {
		return &GraphResult{Reachable: map[string]bool{}}, nil
	}

	adj := buildAdjacency(nodes, edges)
	rev := buildReverseAdjacency(nodes, edges)

	starts := findStartNodes(nodes, rev)
	if len(starts) == 0 {
		return nil, &ValidationError{
			Kind:    NoStartNode,
			Message: "workflow has no start node; every node has an incoming edge",
		}
	}

	sorted, err := TopologicalSort(nodes, edges)
	if err != nil {
		return nil, err
	}

	reachable := findReachable(starts, adj)
	var unreachable []string
	for _, n := range nodes {
		if !reachable[n.ID] {
			unreachable = append(unreachable, n.ID)
		}
	}

	if !allowDisconnected {
		if len(unreachable) > 0 {
			return nil, &ValidationError{
				Kind:    UnreachableNode,
				Message: fmt.Sprintf("%d node(s) are not reachable from any start node", len(unreachable)),
				Nodes:   sample(unreachable),
			}
		}
		if len(reachable) != len(nodes) {
			return nil, &ValidationError{
				Kind:    DisconnectedGraph,
				Message: fmt.Sprintf("workflow has %d disconnected node(s)", len(nodes)-len(reachable)),
			}
		}
	}

	return &GraphResult{
		StartNodes:  starts,
		SortedNodes: sorted,
		Reachable:   reachable,
		Unreachable: unreachable,
	}, nil
}

func sample(ids []string) []string {
	if len(ids) > sampleSize {
		return ids[:sampleSize]
	}
	return ids
}
