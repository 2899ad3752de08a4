// Package stack implements the groundctl module declaration schema.
package stack

import (
	"github.com/hashicorp/hcl/v2"
)

// Stack is a full set of module declarations, loaded from one or more
// HCL files. Immutable once loaded.
type Stack struct {
	// Modules in declaration order. Declaration order is load-bearing:
	// it breaks ties in the execution order so plans are reproducible.
	Modules []*Module
}

// Module represents one module "<name>" block.
type Module struct {
	Name string

	// DeclOrder is the position of this module across all loaded files.
	DeclOrder int

	// Inputs in declaration order.
	Inputs []*Input

	// Resources in declaration order.
	Resources []*ResourceTemplate

	// Outputs in declaration order.
	Outputs []*Output

	SourceFile string
	DeclRange  hcl.Range
}

// Input represents one input "<name>" block: a typed module parameter.
type Input struct {
	Name string

	// Type is one of string, number, bool, list, map. Empty means any.
	Type string

	Description string

	// DefaultExpr is the default value expression, nil if none.
	DefaultExpr hcl.Expression

	// ValueExpr wires the input to another module's output
	// (module.<name>.<output>). Module-level wiring is always evaluated,
	// even when every consumer of the input is behind a cardinality gate.
	ValueExpr hcl.Expression

	// Validation is the optional validator predicate.
	Validation *Validation

	Sensitive bool

	DeclRange hcl.Range
}

// Validation is a boolean predicate over the input's value.
type Validation struct {
	ConditionExpr hcl.Expression
	ErrorMessage  string
}

// ResourceTemplate represents one resource "<name>" block.
type ResourceTemplate struct {
	Name string

	// Kind is the opaque resource kind handled by a provider
	// (e.g. "network", "compute-instance").
	Kind string

	// CountExpr yields the number of instances. Nil means one.
	CountExpr hcl.Expression

	// WhenExpr gates the template. Nil means always. Evaluating to
	// false yields zero instances; that is not an error.
	WhenExpr hcl.Expression

	// AttributeExprs are the attribute expressions from the attributes
	// block, keyed by attribute name.
	AttributeExprs map[string]hcl.Expression

	// SelfReferential permits expressions in this template to reference
	// the template itself (e.g. a firewall rule granting egress to its
	// own group id). The self edge is dropped instead of being reported
	// as a cycle.
	SelfReferential bool

	Lifecycle LifecyclePolicy

	// DeclOrder is the position of this template within its module.
	DeclOrder int

	DeclRange hcl.Range
}

// LifecyclePolicy controls how the planner treats a template's instances.
type LifecyclePolicy struct {
	// CreateBeforeDestroy orders a replacement's create before the
	// delete of the old instance.
	CreateBeforeDestroy bool

	// PreventDestroy fails plan generation instead of producing a
	// delete action for this template's instances.
	PreventDestroy bool

	// IgnoreOnUpdate lists attributes whose drift alone does not
	// produce an update.
	IgnoreOnUpdate []string
}

// Output represents one output "<name>" block.
type Output struct {
	Name string

	// ValueExpr is the output expression over local resources and inputs.
	ValueExpr hcl.Expression

	DeclRange hcl.Range
}

// ModuleByName returns the module with the given name, or nil.
func (s *Stack) ModuleByName(name string) *Module {
	for _, m := range s.Modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// InputByName returns the input with the given name, or nil.
func (m *Module) InputByName(name string) *Input {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

// ResourceByName returns the resource template with the given name, or nil.
func (m *Module) ResourceByName(name string) *ResourceTemplate {
	for _, r := range m.Resources {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// OutputByName returns the output with the given name, or nil.
func (m *Module) OutputByName(name string) *Output {
	for _, o := range m.Outputs {
		if o.Name == name {
			return o
		}
	}
	return nil
}
