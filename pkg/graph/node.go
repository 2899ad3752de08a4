// Package graph provides dependency graph construction and traversal for groundctl.
package graph

import (
	"github.com/hashicorp/hcl/v2"

	"github.com/groundwork-io/groundctl/pkg/schema/stack"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

// Node represents one resource instance in the dependency graph. A
// template with count N expands to N nodes; a template gated off by
// when expands to none.
type Node struct {
	// Unique identifier within the graph: module/template[index]
	ID string

	// Module the instance belongs to
	Module string

	// Template the instance was expanded from
	Template string

	// Index within the template's expansion; 0 for single instances
	Index int

	// Kind is the provider-facing resource kind
	Kind string

	// AttributeExprs are the template's attribute expressions. They are
	// evaluated late, so values that depend on other instances pick up
	// whatever is known at evaluation time.
	AttributeExprs map[string]hcl.Expression

	Lifecycle stack.LifecyclePolicy

	// Dependencies - IDs of nodes this node depends on
	DependsOn []string

	// Dependents - IDs of nodes that depend on this node
	DependedOnBy []string

	// rank orders nodes deterministically when the graph permits more
	// than one valid topological order: module declaration order, then
	// template declaration order, then instance index.
	rank nodeRank
}

type nodeRank struct {
	module   int
	template int
	index    int
}

func (a nodeRank) less(b nodeRank) bool {
	if a.module != b.module {
		return a.module < b.module
	}
	if a.template != b.template {
		return a.template < b.template
	}
	return a.index < b.index
}

// NewNode creates a graph node for one instance of a template.
func NewNode(m *stack.Module, tmpl *stack.ResourceTemplate, index int) *Node {
	return &Node{
		ID:             types.InstanceID(m.Name, tmpl.Name, index),
		Module:         m.Name,
		Template:       tmpl.Name,
		Index:          index,
		Kind:           tmpl.Kind,
		AttributeExprs: tmpl.AttributeExprs,
		Lifecycle:      tmpl.Lifecycle,
		DependsOn:      []string{},
		DependedOnBy:   []string{},
		rank: nodeRank{
			module:   m.DeclOrder,
			template: tmpl.DeclOrder,
			index:    index,
		},
	}
}

// AddDependency adds a dependency to this node.
func (n *Node) AddDependency(nodeID string) {
	for _, dep := range n.DependsOn {
		if dep == nodeID {
			return // Already exists
		}
	}
	n.DependsOn = append(n.DependsOn, nodeID)
}

// AddDependent adds a dependent to this node.
func (n *Node) AddDependent(nodeID string) {
	for _, dep := range n.DependedOnBy {
		if dep == nodeID {
			return // Already exists
		}
	}
	n.DependedOnBy = append(n.DependedOnBy, nodeID)
}
