package stack

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Parser parses module declaration files.
type Parser struct {
	parser *hclparse.Parser
}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{parser: hclparse.NewParser()}
}

// Parse parses module declarations from the given file path.
func (p *Parser) Parse(path string) ([]*Module, hcl.Diagnostics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseBytes(data, path)
}

// ParseBytes parses module declarations from raw bytes.
func (p *Parser) ParseBytes(data []byte, filename string) ([]*Module, hcl.Diagnostics, error) {
	file, diags := p.parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	bodySchema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "module", LabelNames: []string{"name"}},
		},
	}

	content, moreDiags := file.Body.Content(bodySchema)
	diags = append(diags, moreDiags...)

	var modules []*Module
	for _, block := range content.Blocks.OfType("module") {
		module, blockDiags := p.parseModule(block, filename)
		diags = append(diags, blockDiags...)
		if module != nil {
			modules = append(modules, module)
		}
	}

	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("failed to decode %s: %s", filename, diags.Error())
	}

	return modules, diags, nil
}

func (p *Parser) parseModule(block *hcl.Block, filename string) (*Module, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	moduleSchema := &hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "input", LabelNames: []string{"name"}},
			{Type: "resource", LabelNames: []string{"name"}},
			{Type: "output", LabelNames: []string{"name"}},
		},
	}

	content, moreDiags := block.Body.Content(moduleSchema)
	diags = append(diags, moreDiags...)

	module := &Module{
		Name:       block.Labels[0],
		SourceFile: filename,
		DeclRange:  block.DefRange,
	}

	for _, inputBlock := range content.Blocks.OfType("input") {
		input, blockDiags := p.parseInput(inputBlock)
		diags = append(diags, blockDiags...)
		if input != nil {
			module.Inputs = append(module.Inputs, input)
		}
	}

	for i, resourceBlock := range content.Blocks.OfType("resource") {
		resource, blockDiags := p.parseResource(resourceBlock)
		diags = append(diags, blockDiags...)
		if resource != nil {
			resource.DeclOrder = i
			module.Resources = append(module.Resources, resource)
		}
	}

	for _, outputBlock := range content.Blocks.OfType("output") {
		output, blockDiags := p.parseOutput(outputBlock)
		diags = append(diags, blockDiags...)
		if output != nil {
			module.Outputs = append(module.Outputs, output)
		}
	}

	return module, diags
}

func (p *Parser) parseInput(block *hcl.Block) (*Input, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	inputSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "type"},
			{Name: "description"},
			{Name: "default"},
			{Name: "value"},
			{Name: "sensitive"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "validation"},
		},
	}

	content, moreDiags := block.Body.Content(inputSchema)
	diags = append(diags, moreDiags...)

	input := &Input{
		Name:      block.Labels[0],
		DeclRange: block.DefRange,
	}

	if attr, ok := content.Attributes["type"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			input.Type = val.AsString()
		}
	}

	if attr, ok := content.Attributes["description"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			input.Description = val.AsString()
		}
	}

	if attr, ok := content.Attributes["default"]; ok {
		input.DefaultExpr = attr.Expr
	}

	if attr, ok := content.Attributes["value"]; ok {
		input.ValueExpr = attr.Expr
	}

	if attr, ok := content.Attributes["sensitive"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Bool {
			input.Sensitive = val.True()
		}
	}

	for _, validationBlock := range content.Blocks.OfType("validation") {
		validation, blockDiags := p.parseValidation(validationBlock)
		diags = append(diags, blockDiags...)
		input.Validation = validation
		break // Only one validation block allowed
	}

	return input, diags
}

func (p *Parser) parseValidation(block *hcl.Block) (*Validation, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	validationSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "condition", Required: true},
			{Name: "error_message"},
		},
	}

	content, moreDiags := block.Body.Content(validationSchema)
	diags = append(diags, moreDiags...)

	validation := &Validation{}

	if attr, ok := content.Attributes["condition"]; ok {
		validation.ConditionExpr = attr.Expr
	}

	if attr, ok := content.Attributes["error_message"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			validation.ErrorMessage = val.AsString()
		}
	}

	return validation, diags
}

func (p *Parser) parseResource(block *hcl.Block) (*ResourceTemplate, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	resourceSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "kind", Required: true},
			{Name: "count"},
			{Name: "when"},
			{Name: "self_referential"},
		},
		Blocks: []hcl.BlockHeaderSchema{
			{Type: "attributes"},
			{Type: "lifecycle"},
		},
	}

	content, moreDiags := block.Body.Content(resourceSchema)
	diags = append(diags, moreDiags...)

	resource := &ResourceTemplate{
		Name:           block.Labels[0],
		AttributeExprs: make(map[string]hcl.Expression),
		DeclRange:      block.DefRange,
	}

	if attr, ok := content.Attributes["kind"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			resource.Kind = val.AsString()
		}
	}

	if attr, ok := content.Attributes["count"]; ok {
		resource.CountExpr = attr.Expr
	}

	if attr, ok := content.Attributes["when"]; ok {
		resource.WhenExpr = attr.Expr
	}

	if attr, ok := content.Attributes["self_referential"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Bool {
			resource.SelfReferential = val.True()
		}
	}

	if resource.CountExpr != nil && resource.WhenExpr != nil {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Conflicting cardinality expressions",
			Detail:   fmt.Sprintf("Resource %q declares both count and when; use one.", resource.Name),
			Subject:  &block.DefRange,
		})
	}

	for _, attrsBlock := range content.Blocks.OfType("attributes") {
		attrs, attrDiags := attrsBlock.Body.JustAttributes()
		diags = append(diags, attrDiags...)
		for name, attr := range attrs {
			resource.AttributeExprs[name] = attr.Expr
		}
		break // Only one attributes block allowed
	}

	for _, lifecycleBlock := range content.Blocks.OfType("lifecycle") {
		lifecycle, blockDiags := p.parseLifecycle(lifecycleBlock)
		diags = append(diags, blockDiags...)
		resource.Lifecycle = lifecycle
		break // Only one lifecycle block allowed
	}

	return resource, diags
}

func (p *Parser) parseLifecycle(block *hcl.Block) (LifecyclePolicy, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	lifecycleSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "create_before_destroy"},
			{Name: "prevent_destroy"},
			{Name: "ignore_on_update"},
		},
	}

	content, moreDiags := block.Body.Content(lifecycleSchema)
	diags = append(diags, moreDiags...)

	var policy LifecyclePolicy

	if attr, ok := content.Attributes["create_before_destroy"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Bool {
			policy.CreateBeforeDestroy = val.True()
		}
	}

	if attr, ok := content.Attributes["prevent_destroy"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Bool {
			policy.PreventDestroy = val.True()
		}
	}

	if attr, ok := content.Attributes["ignore_on_update"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.CanIterateElements() {
			for it := val.ElementIterator(); it.Next(); {
				_, elem := it.Element()
				if elem.Type() == cty.String {
					policy.IgnoreOnUpdate = append(policy.IgnoreOnUpdate, elem.AsString())
				}
			}
		}
	}

	return policy, diags
}

func (p *Parser) parseOutput(block *hcl.Block) (*Output, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	outputSchema := &hcl.BodySchema{
		Attributes: []hcl.AttributeSchema{
			{Name: "value", Required: true},
		},
	}

	content, moreDiags := block.Body.Content(outputSchema)
	diags = append(diags, moreDiags...)

	output := &Output{
		Name:      block.Labels[0],
		DeclRange: block.DefRange,
	}

	if attr, ok := content.Attributes["value"]; ok {
		output.ValueExpr = attr.Expr
	}

	return output, diags
}
