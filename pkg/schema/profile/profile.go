// Package profile loads externally supplied input values: named profile
// blocks, YAML var-files, and individual command line overrides.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/errors"
)

// Values holds input values keyed by module name then input name.
type Values map[string]map[string]cty.Value

// Profile is a named set of input values.
type Profile struct {
	Name   string
	Values Values
}

// ParseFile parses every profile block in an HCL file.
func ParseFile(path string) ([]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ParseError(path, err)
	}
	return Parse(data, path)
}

// Parse parses profile blocks from raw HCL bytes.
func Parse(data []byte, filename string) ([]*Profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	bodySchema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "profile", LabelNames: []string{"name"}},
		},
	}
	content, diags := file.Body.Content(bodySchema)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	var profiles []*Profile
	for _, block := range content.Blocks.OfType("profile") {
		p, err := parseProfile(block, filename)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func parseProfile(block *hcl.Block, filename string) (*Profile, error) {
	schema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "values", Required: true},
		},
	}
	content, diags := block.Body.Content(schema)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}

	p := &Profile{Name: block.Labels[0], Values: make(Values)}

	attr, ok := content.Attributes["values"]
	if !ok {
		return p, nil
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, errors.ParseError(filename, fmt.Errorf("%s", diags.Error()))
	}
	if !val.CanIterateElements() {
		return nil, errors.ParseError(filename,
			fmt.Errorf("profile %q values must map module names to input values", p.Name))
	}

	for it := val.ElementIterator(); it.Next(); {
		moduleKey, moduleVal := it.Element()
		if !moduleVal.CanIterateElements() {
			return nil, errors.ParseError(filename,
				fmt.Errorf("profile %q values for module %q must be a map of inputs", p.Name, moduleKey.AsString()))
		}
		inputs := make(map[string]cty.Value)
		for inner := moduleVal.ElementIterator(); inner.Next(); {
			inputKey, inputVal := inner.Element()
			inputs[inputKey.AsString()] = inputVal
		}
		p.Values[moduleKey.AsString()] = inputs
	}

	return p, nil
}

// Select returns the named profile, or an empty value set when name is
// empty. An unknown name is an error.
func Select(profiles []*Profile, name string) (Values, error) {
	if name == "" {
		return make(Values), nil
	}
	for _, p := range profiles {
		if p.Name == name {
			return p.Values, nil
		}
	}
	return nil, errors.NotFoundError("profile", name)
}

// LoadVarFile reads a YAML var-file of the shape
// <module>: {<input>: <value>}.
func LoadVarFile(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ParseError(path, err)
	}

	var raw map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.ParseError(path, err)
	}

	values := make(Values, len(raw))
	for module, inputs := range raw {
		moduleValues := make(map[string]cty.Value, len(inputs))
		for input, v := range inputs {
			moduleValues[input] = expression.GoToCty(normalizeYAML(v))
		}
		values[module] = moduleValues
	}
	return values, nil
}

// ParseVar parses a single -var flag of the form <module>.<input>=<value>.
// The value is read as JSON when it parses as JSON, else as a string.
func ParseVar(spec string) (module, input string, value cty.Value, err error) {
	eq := strings.Index(spec, "=")
	if eq < 0 {
		return "", "", cty.NilVal, fmt.Errorf("invalid var %q: expected <module>.<input>=<value>", spec)
	}
	key, raw := spec[:eq], spec[eq+1:]

	dot := strings.Index(key, ".")
	if dot <= 0 || dot == len(key)-1 {
		return "", "", cty.NilVal, fmt.Errorf("invalid var %q: expected <module>.<input>=<value>", spec)
	}
	module, input = key[:dot], key[dot+1:]

	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = raw
	}
	return module, input, expression.GoToCty(parsed), nil
}

// Merge layers value sets; later sets win per input.
func Merge(sets ...Values) Values {
	out := make(Values)
	for _, set := range sets {
		for module, inputs := range set {
			if out[module] == nil {
				out[module] = make(map[string]cty.Value, len(inputs))
			}
			for input, v := range inputs {
				out[module][input] = v
			}
		}
	}
	return out
}

// normalizeYAML converts yaml.v3 decoding artifacts into the plain Go
// shapes expression.GoToCty understands.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return float64(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	default:
		return v
	}
}
