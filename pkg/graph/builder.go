package graph

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"

	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/schema/stack"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

// Builder expands a resolved stack into a dependency graph of resource
// instances.
type Builder struct {
	stack      *stack.Stack
	resolution *expression.Resolution
	graph      *Graph
}

// NewBuilder creates a new graph builder over a resolved stack.
func NewBuilder(s *stack.Stack, res *expression.Resolution) *Builder {
	return &Builder{
		stack:      s,
		resolution: res,
		graph:      NewGraph(),
	}
}

// Build expands every template by its cardinality and connects the
// instances. Expansion happens in two passes so edges never race node
// creation: all nodes first, then all edges.
func (b *Builder) Build() (*Graph, error) {
	for _, m := range b.stack.Modules {
		if err := b.addModuleNodes(m); err != nil {
			return nil, err
		}
	}

	for _, m := range b.stack.Modules {
		if err := b.checkAbsentWiring(m); err != nil {
			return nil, err
		}
	}

	for _, m := range b.stack.Modules {
		if err := b.addLocalEdges(m); err != nil {
			return nil, err
		}
	}

	for _, m := range b.stack.Modules {
		if err := b.addWiringEdges(m); err != nil {
			return nil, err
		}
	}

	return b.graph, nil
}

func (b *Builder) addModuleNodes(m *stack.Module) error {
	for _, tmpl := range m.Resources {
		n, ok := b.resolution.Cardinality(m.Name, tmpl.Name)
		if !ok {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("no cardinality for resource %q in module %q", tmpl.Name, m.Name))
		}
		for i := 0; i < n; i++ {
			if err := b.graph.AddNode(NewNode(m, tmpl, i)); err != nil {
				return errors.LoadError(m.SourceFile, err.Error())
			}
		}
	}
	return nil
}

// addLocalEdges connects instances within a module based on which
// sibling templates their attribute expressions reference.
func (b *Builder) addLocalEdges(m *stack.Module) error {
	for _, tmpl := range m.Resources {
		n, _ := b.resolution.Cardinality(m.Name, tmpl.Name)
		if n == 0 {
			continue
		}

		for _, target := range b.localTargets(m, tmpl) {
			if target == tmpl.Name {
				// A self_referential template's reference to itself is
				// dropped rather than reported as a cycle.
				continue
			}

			targetN, _ := b.resolution.Cardinality(m.Name, target)
			if targetN == 0 {
				return errors.LoadError(m.SourceFile,
					fmt.Sprintf("resource %q in module %q references %q, which expands to zero instances",
						tmpl.Name, m.Name, target))
			}

			for i := 0; i < n; i++ {
				from := types.InstanceID(m.Name, tmpl.Name, i)
				for j := 0; j < targetN; j++ {
					to := types.InstanceID(m.Name, target, j)
					if err := b.graph.AddEdge(from, to); err != nil {
						return errors.LoadError(m.SourceFile, err.Error())
					}
				}
			}
		}
	}
	return nil
}

// localTargets returns the sibling template names referenced anywhere in
// a template's expressions, deduplicated, in sorted order.
func (b *Builder) localTargets(m *stack.Module, tmpl *stack.ResourceTemplate) []string {
	seen := make(map[string]bool)
	var targets []string

	collect := func(expr hcl.Expression) {
		for _, ref := range expression.References(expr) {
			if ref.Kind != expression.RefResource {
				continue
			}
			if m.ResourceByName(ref.Name) == nil || seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			targets = append(targets, ref.Name)
		}
	}

	for _, name := range sortedAttrNames(tmpl.AttributeExprs) {
		collect(tmpl.AttributeExprs[name])
	}
	sort.Strings(targets)
	return targets
}

// checkAbsentWiring rejects consumers of inputs that can never resolve.
// An input wired to a module output is absent when every instance the
// output draws from was expanded away; a template that still reads that
// input must itself be gated down to zero instances, otherwise it would
// plan as a create and die at apply time.
func (b *Builder) checkAbsentWiring(m *stack.Module) error {
	for _, in := range m.Inputs {
		if in.ValueExpr == nil {
			continue
		}
		if val, ok := b.resolution.Vars(m.Name)[in.Name]; ok && val.IsKnown() {
			continue
		}
		source, absent := b.absentWiringSource(in)
		if !absent {
			continue
		}
		for _, tmpl := range m.Resources {
			if !referencesInput(tmpl, in.Name) {
				continue
			}
			if n, _ := b.resolution.Cardinality(m.Name, tmpl.Name); n > 0 {
				return errors.LoadError(m.SourceFile,
					fmt.Sprintf("resource %q in module %q reads input %q, but %s draws only from instances that expanded to zero; gate the resource on the same condition or drop the reference",
						tmpl.Name, m.Name, in.Name, source))
			}
		}
	}
	return nil
}

// absentWiringSource reports whether an input's wiring draws on a module
// output backed entirely by zero-cardinality templates, naming the first
// such reference. An output that touches at least one live instance can
// still become known at apply time and is not absent.
func (b *Builder) absentWiringSource(in *stack.Input) (string, bool) {
	for _, ref := range expression.References(in.ValueExpr) {
		if ref.Kind != expression.RefModule {
			continue
		}
		src := b.stack.ModuleByName(ref.Name)
		if src == nil {
			continue
		}
		out := src.OutputByName(ref.Attr)
		if out == nil {
			continue
		}
		referenced, alive := 0, 0
		for _, outRef := range expression.References(out.ValueExpr) {
			if outRef.Kind != expression.RefResource || src.ResourceByName(outRef.Name) == nil {
				continue
			}
			referenced++
			if n, _ := b.resolution.Cardinality(src.Name, outRef.Name); n > 0 {
				alive++
			}
		}
		if referenced > 0 && alive == 0 {
			return fmt.Sprintf("module.%s.%s", ref.Name, ref.Attr), true
		}
	}
	return "", false
}

// addWiringEdges connects instances across modules. A consumer instance
// that reads var.<input>, where the input is wired to another module's
// output, depends on every instance that output's expression draws from.
func (b *Builder) addWiringEdges(m *stack.Module) error {
	for _, in := range m.Inputs {
		if in.ValueExpr == nil {
			continue
		}

		sources := b.wiringSources(in)
		if len(sources) == 0 {
			continue
		}

		for _, tmpl := range m.Resources {
			if !referencesInput(tmpl, in.Name) {
				continue
			}
			n, _ := b.resolution.Cardinality(m.Name, tmpl.Name)
			for i := 0; i < n; i++ {
				from := types.InstanceID(m.Name, tmpl.Name, i)
				for _, to := range sources {
					if err := b.graph.AddEdge(from, to); err != nil {
						return errors.LoadError(m.SourceFile, err.Error())
					}
				}
			}
		}
	}
	return nil
}

// wiringSources resolves an input wiring expression to the instance IDs
// feeding it: the instances of every template referenced by the source
// module's output expression.
func (b *Builder) wiringSources(in *stack.Input) []string {
	var sources []string
	for _, ref := range expression.References(in.ValueExpr) {
		if ref.Kind != expression.RefModule {
			continue
		}
		src := b.stack.ModuleByName(ref.Name)
		if src == nil {
			continue
		}
		out := src.OutputByName(ref.Attr)
		if out == nil {
			continue
		}
		for _, outRef := range expression.References(out.ValueExpr) {
			if outRef.Kind != expression.RefResource {
				continue
			}
			n, _ := b.resolution.Cardinality(src.Name, outRef.Name)
			for i := 0; i < n; i++ {
				sources = append(sources, types.InstanceID(src.Name, outRef.Name, i))
			}
		}
	}
	return sources
}

// referencesInput reports whether any expression in the template reads
// the given input.
func referencesInput(tmpl *stack.ResourceTemplate, input string) bool {
	for _, expr := range tmpl.AttributeExprs {
		for _, ref := range expression.References(expr) {
			if ref.Kind == expression.RefVar && ref.Name == input {
				return true
			}
		}
	}
	return false
}

func sortedAttrNames(exprs map[string]hcl.Expression) []string {
	names := make([]string, 0, len(exprs))
	for name := range exprs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
