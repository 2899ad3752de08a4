package expression

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/schema/stack"
)

// InstanceReader supplies last-known data for resource instances. The
// planner backs it with the state snapshot; the executor backs it with
// the snapshot as it evolves during apply. A false return means the
// instance has never been applied, so its values are unknown.
type InstanceReader interface {
	Instance(module, template string, index int) (map[string]interface{}, bool)
}

// InstanceReaderFunc adapts a function to the InstanceReader interface.
type InstanceReaderFunc func(module, template string, index int) (map[string]interface{}, bool)

func (f InstanceReaderFunc) Instance(module, template string, index int) (map[string]interface{}, bool) {
	return f(module, template, index)
}

// Resolver resolves a stack's inputs, cardinalities, and outputs against
// profile values and instance data.
type Resolver struct {
	stack  *stack.Stack
	values map[string]map[string]cty.Value
	reader InstanceReader
}

// NewResolver creates a resolver. values carries externally supplied
// input values keyed by module then input name; it may be nil.
func NewResolver(s *stack.Stack, values map[string]map[string]cty.Value, reader InstanceReader) *Resolver {
	if reader == nil {
		reader = InstanceReaderFunc(func(string, string, int) (map[string]interface{}, bool) {
			return nil, false
		})
	}
	return &Resolver{stack: s, values: values, reader: reader}
}

// Resolution is the result of resolving a stack: every module's input
// values, every template's instance count, and every module's outputs.
type Resolution struct {
	stack  *stack.Stack
	reader InstanceReader

	vars        map[string]map[string]cty.Value
	cardinality map[string]map[string]int
	outputs     map[string]map[string]cty.Value
}

// Resolve resolves all modules in wiring order. Input wiring across
// modules is always evaluated, regardless of whether any consumer of
// the input survives its cardinality gate.
func (r *Resolver) Resolve() (*Resolution, error) {
	order, err := r.wiringOrder()
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		stack:       r.stack,
		reader:      r.reader,
		vars:        make(map[string]map[string]cty.Value),
		cardinality: make(map[string]map[string]int),
		outputs:     make(map[string]map[string]cty.Value),
	}

	for _, m := range order {
		if err := r.resolveModule(res, m); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// wiringOrder orders modules so that every module follows the modules
// whose outputs its inputs consume.
func (r *Resolver) wiringOrder() ([]*stack.Module, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var order []*stack.Module

	var visit func(m *stack.Module, trail []string) error
	visit = func(m *stack.Module, trail []string) error {
		switch state[m.Name] {
		case done:
			return nil
		case visiting:
			return errors.CycleError(append(trail, m.Name))
		}
		state[m.Name] = visiting

		for _, in := range m.Inputs {
			for _, ref := range References(in.ValueExpr) {
				if ref.Kind != RefModule {
					continue
				}
				src := r.stack.ModuleByName(ref.Name)
				if src == nil {
					continue
				}
				if err := visit(src, append(trail, m.Name)); err != nil {
					return err
				}
			}
		}

		state[m.Name] = done
		order = append(order, m)
		return nil
	}

	for _, m := range r.stack.Modules {
		if err := visit(m, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (r *Resolver) resolveModule(res *Resolution, m *stack.Module) error {
	vars := make(map[string]cty.Value)

	for _, in := range m.Inputs {
		val, err := r.resolveInput(res, m, in)
		if err != nil {
			return err
		}
		vars[in.Name] = val
	}

	// Validations run after all inputs resolve so conditions may relate
	// inputs to each other. Unknown values skip validation; they are
	// checked again once known.
	varCtx := &hcl.EvalContext{Variables: map[string]cty.Value{"var": cty.ObjectVal(vars)}}
	for _, in := range m.Inputs {
		if in.Validation == nil || in.Validation.ConditionExpr == nil {
			continue
		}
		if !vars[in.Name].IsKnown() {
			continue
		}
		ok, diags := in.Validation.ConditionExpr.Value(varCtx)
		if diags.HasErrors() {
			return errors.ValidationError(m.Name, in.Name, diags.Error())
		}
		if !ok.IsKnown() {
			continue
		}
		if ok.False() {
			msg := in.Validation.ErrorMessage
			if msg == "" {
				msg = fmt.Sprintf("value for input %q failed validation", in.Name)
			}
			return errors.ValidationError(m.Name, in.Name, msg)
		}
	}

	res.vars[m.Name] = vars

	card := make(map[string]int)
	for _, tmpl := range m.Resources {
		n, err := r.resolveCardinality(m, tmpl, varCtx)
		if err != nil {
			return err
		}
		card[tmpl.Name] = n
	}
	res.cardinality[m.Name] = card

	outputs := make(map[string]cty.Value)
	ctx := res.moduleEvalContext(m, nil)
	for _, out := range m.Outputs {
		val, diags := out.ValueExpr.Value(ctx)
		if diags.HasErrors() {
			return errors.ExpressionError(fmt.Sprintf("output %s.%s", m.Name, out.Name),
				fmt.Errorf("%s", diags.Error()))
		}
		outputs[out.Name] = val
	}
	res.outputs[m.Name] = outputs

	return nil
}

// resolveInput applies the precedence order: external value, then
// wiring expression, then default.
func (r *Resolver) resolveInput(res *Resolution, m *stack.Module, in *stack.Input) (cty.Value, error) {
	if moduleValues, ok := r.values[m.Name]; ok {
		if val, ok := moduleValues[in.Name]; ok {
			if err := checkInputType(m, in, val); err != nil {
				return cty.NilVal, err
			}
			return val, nil
		}
	}

	if in.ValueExpr != nil {
		ctx := &hcl.EvalContext{Variables: map[string]cty.Value{"module": res.moduleOutputsValue()}}
		val, diags := in.ValueExpr.Value(ctx)
		if diags.HasErrors() {
			return cty.NilVal, errors.ExpressionError(fmt.Sprintf("input %s.%s", m.Name, in.Name),
				fmt.Errorf("%s", diags.Error()))
		}
		if err := checkInputType(m, in, val); err != nil {
			return cty.NilVal, err
		}
		return val, nil
	}

	if in.DefaultExpr != nil {
		val, diags := in.DefaultExpr.Value(nil)
		if diags.HasErrors() {
			return cty.NilVal, errors.ExpressionError(fmt.Sprintf("input %s.%s default", m.Name, in.Name),
				fmt.Errorf("%s", diags.Error()))
		}
		return val, nil
	}

	return cty.NilVal, errors.ValidationError(m.Name, in.Name, "input has no value and no default")
}

func checkInputType(m *stack.Module, in *stack.Input, val cty.Value) error {
	if in.Type == "" || !val.IsKnown() || val.IsNull() {
		return nil
	}
	ty := val.Type()
	ok := true
	switch in.Type {
	case "string":
		ok = ty == cty.String
	case "number":
		ok = ty == cty.Number
	case "bool":
		ok = ty == cty.Bool
	case "list":
		ok = ty.IsTupleType() || ty.IsListType() || ty.IsSetType()
	case "map":
		ok = ty.IsObjectType() || ty.IsMapType()
	}
	if !ok {
		return errors.ValidationError(m.Name, in.Name,
			fmt.Sprintf("expected %s, got %s", in.Type, ty.FriendlyName()))
	}
	return nil
}

// resolveCardinality evaluates a template's count or when expression.
// Cardinality must be known before the graph can be built; an unknown
// value here is a structural error, not something to defer.
func (r *Resolver) resolveCardinality(m *stack.Module, tmpl *stack.ResourceTemplate, ctx *hcl.EvalContext) (int, error) {
	if tmpl.WhenExpr != nil {
		val, diags := tmpl.WhenExpr.Value(ctx)
		if diags.HasErrors() {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("when for resource %q in module %q: %s", tmpl.Name, m.Name, diags.Error()))
		}
		if !val.IsKnown() {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("when for resource %q in module %q depends on a value not known until apply", tmpl.Name, m.Name))
		}
		if val.Type() != cty.Bool {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("when for resource %q in module %q must be a bool", tmpl.Name, m.Name))
		}
		if val.False() {
			return 0, nil
		}
		return 1, nil
	}

	if tmpl.CountExpr != nil {
		val, diags := tmpl.CountExpr.Value(ctx)
		if diags.HasErrors() {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("count for resource %q in module %q: %s", tmpl.Name, m.Name, diags.Error()))
		}
		if !val.IsKnown() {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("count for resource %q in module %q depends on a value not known until apply", tmpl.Name, m.Name))
		}
		if val.Type() != cty.Number {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("count for resource %q in module %q must be a number", tmpl.Name, m.Name))
		}
		n, _ := val.AsBigFloat().Int64()
		if n < 0 {
			return 0, errors.LoadError(m.SourceFile,
				fmt.Sprintf("count for resource %q in module %q is negative", tmpl.Name, m.Name))
		}
		return int(n), nil
	}

	return 1, nil
}

// Vars returns a module's resolved input values.
func (res *Resolution) Vars(module string) map[string]cty.Value {
	return res.vars[module]
}

// Cardinality returns the instance count for a template. The second
// return is false when the module or template is unknown.
func (res *Resolution) Cardinality(module, template string) (int, bool) {
	card, ok := res.cardinality[module]
	if !ok {
		return 0, false
	}
	n, ok := card[template]
	return n, ok
}

// Output returns a module output value, which may be unknown.
func (res *Resolution) Output(module, output string) (cty.Value, bool) {
	outs, ok := res.outputs[module]
	if !ok {
		return cty.NilVal, false
	}
	val, ok := outs[output]
	return val, ok
}

// EvalAttributes evaluates a template instance's attribute expressions.
// Values that depend on not-yet-applied resources come back as the
// Unknown sentinel.
func (res *Resolution) EvalAttributes(module, template string, index int) (map[string]interface{}, error) {
	m := res.stack.ModuleByName(module)
	if m == nil {
		return nil, errors.NotFoundError("module", module)
	}
	tmpl := m.ResourceByName(template)
	if tmpl == nil {
		return nil, errors.NotFoundError("resource", template)
	}

	var countVal *cty.Value
	if tmpl.CountExpr != nil {
		v := cty.ObjectVal(map[string]cty.Value{"index": cty.NumberIntVal(int64(index))})
		countVal = &v
	}
	ctx := res.moduleEvalContext(m, countVal)

	attrs := make(map[string]interface{}, len(tmpl.AttributeExprs))
	for name, expr := range tmpl.AttributeExprs {
		val, diags := expr.Value(ctx)
		if diags.HasErrors() {
			return nil, errors.ExpressionError(
				fmt.Sprintf("%s.%s.%s", module, template, name),
				fmt.Errorf("%s", diags.Error()))
		}
		attrs[name] = CtyToGo(val)
	}
	return attrs, nil
}

// moduleEvalContext builds the evaluation context for expressions inside
// a module body: var.* plus one value per resource template built from
// instance data.
func (res *Resolution) moduleEvalContext(m *stack.Module, countVal *cty.Value) *hcl.EvalContext {
	vars := map[string]cty.Value{
		"var": cty.ObjectVal(res.vars[m.Name]),
	}
	if countVal != nil {
		vars["count"] = *countVal
	}

	for _, tmpl := range m.Resources {
		vars[tmpl.Name] = res.resourceValue(m, tmpl)
	}

	return &hcl.EvalContext{Variables: vars}
}

// resourceValue builds the value a template is referenced as: a single
// object for plain templates, a tuple of objects for counted ones.
// Instances without recorded data are unknown.
func (res *Resolution) resourceValue(m *stack.Module, tmpl *stack.ResourceTemplate) cty.Value {
	n, ok := res.Cardinality(m.Name, tmpl.Name)
	if !ok {
		return cty.UnknownVal(cty.DynamicPseudoType)
	}

	instance := func(index int) cty.Value {
		data, ok := res.reader.Instance(m.Name, tmpl.Name, index)
		if !ok {
			return cty.UnknownVal(cty.DynamicPseudoType)
		}
		return GoToCty(data)
	}

	if tmpl.CountExpr == nil {
		if n == 0 {
			return cty.UnknownVal(cty.DynamicPseudoType)
		}
		return instance(0)
	}

	elems := make([]cty.Value, n)
	for i := 0; i < n; i++ {
		elems[i] = instance(i)
	}
	if n == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(elems)
}

// moduleOutputsValue exposes already-resolved module outputs as the
// module.* value used by input wiring expressions.
func (res *Resolution) moduleOutputsValue() cty.Value {
	if len(res.outputs) == 0 {
		return cty.EmptyObjectVal
	}
	mods := make(map[string]cty.Value, len(res.outputs))
	for name, outs := range res.outputs {
		if len(outs) == 0 {
			mods[name] = cty.EmptyObjectVal
			continue
		}
		mods[name] = cty.ObjectVal(outs)
	}
	return cty.ObjectVal(mods)
}
