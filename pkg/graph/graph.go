package graph

import (
	"fmt"
	"sort"

	"github.com/groundwork-io/groundctl/pkg/errors"
)

// Graph is a dependency graph of resource instances. Edges point from
// a dependent instance to the instances it needs applied first.
type Graph struct {
	// All nodes in the graph
	Nodes map[string]*Node
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(node *Node) error {
	if _, exists := g.Nodes[node.ID]; exists {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	g.Nodes[node.ID] = node
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// AddEdge adds a dependency edge from dependent to dependency.
func (g *Graph) AddEdge(dependentID, dependencyID string) error {
	dependent := g.GetNode(dependentID)
	if dependent == nil {
		return fmt.Errorf("dependent node %s not found", dependentID)
	}

	dependency := g.GetNode(dependencyID)
	if dependency == nil {
		return fmt.Errorf("dependency node %s not found", dependencyID)
	}

	dependent.AddDependency(dependencyID)
	dependency.AddDependent(dependentID)

	return nil
}

// TopologicalSort returns nodes in execution order, dependencies first.
// The order is a pure function of the declarations: ties between
// independent nodes break on declaration rank, so the same stack always
// yields the same order.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	// Kahn's algorithm over a rank-sorted ready queue
	inDegree := make(map[string]int)
	for id := range g.Nodes {
		inDegree[id] = len(g.Nodes[id].DependsOn)
	}

	var queue []*Node
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, g.Nodes[id])
		}
	}
	sortByRank(queue)

	var result []*Node
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependentID := range node.DependedOnBy {
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				queue = append(queue, g.Nodes[dependentID])
				sortByRank(queue)
			}
		}
	}

	// Any node left unprocessed sits on a cycle.
	if len(result) != len(g.Nodes) {
		processed := make(map[string]bool)
		for _, n := range result {
			processed[n.ID] = true
		}

		var cycleNodes []string
		for id := range g.Nodes {
			if !processed[id] {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)

		return nil, errors.CycleError(cycleNodes)
	}

	return result, nil
}

// ReverseTopologicalSort returns nodes in reverse order (dependents first).
// Deletes walk the graph this way.
func (g *Graph) ReverseTopologicalSort() ([]*Node, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}

	return sorted, nil
}

// SortedIDs returns all node IDs in lexical order.
func (g *Graph) SortedIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortByRank(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].rank.less(nodes[j].rank)
	})
}
