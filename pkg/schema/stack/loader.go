package stack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"

	"github.com/groundwork-io/groundctl/pkg/errors"
)

// LoadDir loads every *.hcl file in the given directory into a single
// stack. Loading is all or nothing: any structural problem in any file
// fails the whole load and no partial stack is returned.
func LoadDir(dir string) (*Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.LoadError(dir, fmt.Sprintf("failed to read directory: %v", err))
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".hcl") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, errors.LoadError(dir, "no .hcl declaration files found")
	}

	return LoadFiles(files)
}

// LoadFiles loads the given declaration files, in order, into a single stack.
func LoadFiles(files []string) (*Stack, error) {
	parser := NewParser()
	stack := &Stack{}

	for _, file := range files {
		modules, diags, err := parser.Parse(file)
		if err != nil {
			if diags.HasErrors() {
				return nil, errors.LoadError(file, diags.Error())
			}
			return nil, errors.LoadError(file, err.Error())
		}
		for _, m := range modules {
			m.DeclOrder = len(stack.Modules)
			stack.Modules = append(stack.Modules, m)
		}
	}

	if err := validate(stack); err != nil {
		return nil, err
	}

	return stack, nil
}

// validate checks name uniqueness and that every expression reference
// points at something that is declared.
func validate(s *Stack) error {
	seen := make(map[string]string)
	for _, m := range s.Modules {
		if prev, ok := seen[m.Name]; ok {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("module %q is declared twice (also in %s)", m.Name, prev))
		}
		seen[m.Name] = m.SourceFile

		if err := validateModule(s, m); err != nil {
			return err
		}
	}
	return nil
}

func validateModule(s *Stack, m *Module) error {
	inputs := make(map[string]bool)
	for _, in := range m.Inputs {
		if inputs[in.Name] {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("module %q declares input %q twice", m.Name, in.Name))
		}
		inputs[in.Name] = true
	}

	resources := make(map[string]bool)
	for _, r := range m.Resources {
		if resources[r.Name] {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("module %q declares resource %q twice", m.Name, r.Name))
		}
		resources[r.Name] = true
		if r.Kind == "" {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("resource %q in module %q has no kind", r.Name, m.Name))
		}
	}

	outputs := make(map[string]bool)
	for _, o := range m.Outputs {
		if outputs[o.Name] {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("module %q declares output %q twice", m.Name, o.Name))
		}
		outputs[o.Name] = true
	}

	// Input wiring may only reference other modules' outputs. Defaults
	// must be self-contained literals.
	for _, in := range m.Inputs {
		if in.DefaultExpr != nil {
			for _, trav := range in.DefaultExpr.Variables() {
				return errors.LoadError(m.SourceFile,
					fmt.Sprintf("default for input %q in module %q references %q; defaults must be literal",
						in.Name, m.Name, trav.RootName()))
			}
		}
		if in.ValueExpr != nil {
			for _, trav := range in.ValueExpr.Variables() {
				if err := validateModuleRef(s, m, in.Name, trav); err != nil {
					return err
				}
			}
		}
		if in.Validation != nil && in.Validation.ConditionExpr != nil {
			for _, trav := range in.Validation.ConditionExpr.Variables() {
				if trav.RootName() != "var" {
					return errors.LoadError(m.SourceFile,
						fmt.Sprintf("validation for input %q in module %q may only reference var", in.Name, m.Name))
				}
			}
		}
	}

	// Resource attributes and cardinality reference inputs, sibling
	// resources, or the count index.
	for _, r := range m.Resources {
		exprs := []hcl.Expression{r.CountExpr, r.WhenExpr}
		for _, expr := range r.AttributeExprs {
			exprs = append(exprs, expr)
		}
		for _, expr := range exprs {
			if expr == nil {
				continue
			}
			for _, trav := range expr.Variables() {
				if err := validateLocalRef(m, r, trav); err != nil {
					return err
				}
			}
		}

		// Cardinality must be computable before the graph exists, so it
		// may not depend on sibling resources.
		for _, expr := range []hcl.Expression{r.CountExpr, r.WhenExpr} {
			if expr == nil {
				continue
			}
			for _, trav := range expr.Variables() {
				if trav.RootName() != "var" {
					return errors.LoadError(m.SourceFile,
						fmt.Sprintf("cardinality of resource %q in module %q may only reference var, not %q",
							r.Name, m.Name, trav.RootName()))
				}
			}
		}
	}

	// Outputs reference inputs or local resources.
	for _, o := range m.Outputs {
		if o.ValueExpr == nil {
			continue
		}
		for _, trav := range o.ValueExpr.Variables() {
			if err := validateLocalRef(m, nil, trav); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateModuleRef checks a module.<name>.<output> traversal used by
// input wiring.
func validateModuleRef(s *Stack, m *Module, input string, trav hcl.Traversal) error {
	if trav.RootName() != "module" {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("value for input %q in module %q may only reference module outputs, not %q",
				input, m.Name, trav.RootName()))
	}
	if len(trav) < 3 {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("value for input %q in module %q must use module.<name>.<output>", input, m.Name))
	}

	srcName, ok := traverseAttrName(trav[1])
	if !ok {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("value for input %q in module %q must use module.<name>.<output>", input, m.Name))
	}
	src := s.ModuleByName(srcName)
	if src == nil {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("input %q in module %q references unknown module %q", input, m.Name, srcName))
	}
	if src.Name == m.Name {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("input %q in module %q references its own module", input, m.Name))
	}

	outName, ok := traverseAttrName(trav[2])
	if !ok {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("value for input %q in module %q must use module.<name>.<output>", input, m.Name))
	}
	if src.OutputByName(outName) == nil {
		return errors.LoadError(m.SourceFile,
			fmt.Sprintf("input %q in module %q references unknown output %q of module %q",
				input, m.Name, outName, srcName))
	}

	return nil
}

// validateLocalRef checks a traversal used inside a module body. When
// within is non-nil the traversal appears inside that resource template.
func validateLocalRef(m *Module, within *ResourceTemplate, trav hcl.Traversal) error {
	root := trav.RootName()
	switch root {
	case "var":
		if len(trav) < 2 {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("bare var reference in module %q; use var.<input>", m.Name))
		}
		name, ok := traverseAttrName(trav[1])
		if !ok || m.InputByName(name) == nil {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("module %q references undeclared input %q", m.Name, name))
		}
		return nil

	case "count":
		if within == nil || within.CountExpr == nil {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("count.index used outside a counted resource in module %q", m.Name))
		}
		return nil

	default:
		target := m.ResourceByName(root)
		if target == nil {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("module %q references undeclared resource %q", m.Name, root))
		}
		if within != nil && target.Name == within.Name && !within.SelfReferential {
			return errors.LoadError(m.SourceFile,
				fmt.Sprintf("resource %q in module %q references itself without self_referential", within.Name, m.Name))
		}
		return nil
	}
}

// traverseAttrName extracts the attribute name from a traversal step.
func traverseAttrName(step hcl.Traverser) (string, bool) {
	if attr, ok := step.(hcl.TraverseAttr); ok {
		return attr.Name, true
	}
	return "", false
}
