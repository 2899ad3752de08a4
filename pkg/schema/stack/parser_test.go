package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModule = `
module "network" {
  input "cidr" {
    type    = "string"
    default = "10.0.0.0/16"

    validation {
      condition     = var.cidr != ""
      error_message = "cidr must not be empty"
    }
  }

  input "subnet_count" {
    type    = "number"
    default = 2
  }

  resource "vpc" {
    kind = "network"

    attributes {
      cidr = var.cidr
    }

    lifecycle {
      prevent_destroy  = true
      ignore_on_update = ["tags"]
    }
  }

  resource "subnet" {
    kind  = "subnet"
    count = var.subnet_count

    attributes {
      network_id = vpc.id
      index      = count.index
    }
  }

  output "vpc_id" {
    value = vpc.id
  }
}
`

func TestParseModule(t *testing.T) {
	modules, _, err := NewParser().ParseBytes([]byte(sampleModule), "network.hcl")
	require.NoError(t, err)
	require.Len(t, modules, 1)

	m := modules[0]
	assert.Equal(t, "network", m.Name)
	assert.Equal(t, "network.hcl", m.SourceFile)

	require.Len(t, m.Inputs, 2)
	cidr := m.InputByName("cidr")
	require.NotNil(t, cidr)
	assert.Equal(t, "string", cidr.Type)
	assert.NotNil(t, cidr.DefaultExpr)
	require.NotNil(t, cidr.Validation)
	assert.Equal(t, "cidr must not be empty", cidr.Validation.ErrorMessage)

	require.Len(t, m.Resources, 2)
	vpc := m.ResourceByName("vpc")
	require.NotNil(t, vpc)
	assert.Equal(t, "network", vpc.Kind)
	assert.True(t, vpc.Lifecycle.PreventDestroy)
	assert.Equal(t, []string{"tags"}, vpc.Lifecycle.IgnoreOnUpdate)
	assert.Contains(t, vpc.AttributeExprs, "cidr")
	assert.Equal(t, 0, vpc.DeclOrder)

	subnet := m.ResourceByName("subnet")
	require.NotNil(t, subnet)
	assert.NotNil(t, subnet.CountExpr)
	assert.Equal(t, 1, subnet.DeclOrder)

	require.Len(t, m.Outputs, 1)
	assert.Equal(t, "vpc_id", m.Outputs[0].Name)
}

func TestParseRejectsCountAndWhenTogether(t *testing.T) {
	src := `
module "app" {
  resource "server" {
    kind  = "compute"
    count = 2
    when  = true
  }
}
`
	_, diags, err := NewParser().ParseBytes([]byte(src), "app.hcl")
	require.Error(t, err)
	assert.True(t, diags.HasErrors())
	assert.Contains(t, diags.Error(), "count and when")
}

func TestParseRejectsMissingKind(t *testing.T) {
	src := `
module "app" {
  resource "server" {
    attributes {
      size = "small"
    }
  }
}
`
	_, diags, err := NewParser().ParseBytes([]byte(src), "app.hcl")
	require.Error(t, err)
	assert.True(t, diags.HasErrors())
}

func TestParseRejectsMalformedHCL(t *testing.T) {
	_, _, err := NewParser().ParseBytes([]byte(`module "x" {`), "broken.hcl")
	require.Error(t, err)
}

func TestParseSelfReferential(t *testing.T) {
	src := `
module "fw" {
  resource "group" {
    kind             = "security-group"
    self_referential = true

    attributes {
      allow_from = group.id
    }
  }
}
`
	modules, _, err := NewParser().ParseBytes([]byte(src), "fw.hcl")
	require.NoError(t, err)
	require.Len(t, modules, 1)
	assert.True(t, modules[0].Resources[0].SelfReferential)
}
