package dependency

import (
	"fmt"
	"strings"
)

// NodeID is the unique identifier for a node inside a dependency graph.
type NodeID string

// Node is a service together with the services it depends on.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
}

// Graph answers dependency queries over a set of services. It remembers the
// order in which nodes were added and uses it to break ties, so a graph
// without edges orders its nodes exactly as they were registered.
//
// Graph is not safe for concurrent writes.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph. A replaced node keeps its
// original position.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	// Copy to avoid external mutations
	copied := n
	copied.DependsOn = append([]NodeID(nil), n.DependsOn...)
	g.nodes[n.ID] = &copied
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependencies returns a slice of immediate dependency IDs for the given node.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	if n, ok := g.nodes[id]; ok {
		depsCopy := make([]NodeID, len(n.DependsOn))
		copy(depsCopy, n.DependsOn)
		return depsCopy
	}
	return nil
}

// Dependents returns the nodes that depend directly on id, in registration order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var res []NodeID
	for _, nid := range g.order {
		for _, dep := range g.nodes[nid].DependsOn {
			if dep == id {
				res = append(res, nid)
				break
			}
		}
	}
	return res
}

// TransitiveDependents returns every node that depends on id directly or
// indirectly, in registration order.
func (g *Graph) TransitiveDependents(id NodeID) []NodeID {
	seen := map[NodeID]bool{id: true}
	queue := []NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.Dependents(cur) {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}

	var res []NodeID
	for _, nid := range g.order {
		if nid != id && seen[nid] {
			res = append(res, nid)
		}
	}
	return res
}

// Validate checks that every dependency refers to a known node.
func (g *Graph) Validate() error {
	for _, nid := range g.order {
		for _, dep := range g.nodes[nid].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("node %s depends on unknown node %s", nid, dep)
			}
		}
	}
	return nil
}

// Order returns a start order in which every node comes after its
// dependencies. Among nodes that are ready at the same time the one
// registered first wins.
func (g *Graph) Order() ([]NodeID, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	placed := make(map[NodeID]bool, len(g.order))
	result := make([]NodeID, 0, len(g.order))

	for len(result) < len(g.order) {
		progressed := false
		for _, nid := range g.order {
			if placed[nid] || !g.ready(nid, placed) {
				continue
			}
			placed[nid] = true
			result = append(result, nid)
			progressed = true
			break
		}
		if !progressed {
			var remaining []NodeID
			for _, nid := range g.order {
				if !placed[nid] {
					remaining = append(remaining, nid)
				}
			}
			return nil, &CycleError{Nodes: remaining}
		}
	}
	return result, nil
}

func (g *Graph) ready(id NodeID, placed map[NodeID]bool) bool {
	for _, dep := range g.nodes[id].DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// CycleError reports nodes that could not be ordered because they depend on
// each other.
type CycleError struct {
	Nodes []NodeID
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Nodes))
	for i, n := range e.Nodes {
		names[i] = string(n)
	}
	return fmt.Sprintf("dependency cycle between: %s", strings.Join(names, ", "))
}
