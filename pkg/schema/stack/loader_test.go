package stack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-io/groundctl/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDirMergesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-network.hcl", `
module "network" {
  resource "vpc" {
    kind = "network"
  }

  output "vpc_id" {
    value = vpc.id
  }
}
`)
	writeFile(t, dir, "20-app.hcl", `
module "app" {
  input "network_id" {
    value = module.network.vpc_id
  }

  resource "server" {
    kind = "compute"

    attributes {
      network_id = var.network_id
    }
  }
}
`)

	s, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, s.Modules, 2)
	assert.Equal(t, "network", s.Modules[0].Name)
	assert.Equal(t, 0, s.Modules[0].DeclOrder)
	assert.Equal(t, "app", s.Modules[1].Name)
	assert.Equal(t, 1, s.Modules[1].DeclOrder)
}

func TestLoadDirRejectsEmptyDir(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeLoad))
}

func TestLoadRejectsDuplicateModules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `module "app" {}`)
	writeFile(t, dir, "b.hcl", `module "app" {}`)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeLoad))
	assert.Contains(t, err.Error(), "declared twice")
}

func TestLoadRejectsDuplicateResources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "app" {
  resource "server" {
    kind = "compute"
  }
  resource "server" {
    kind = "compute"
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `resource "server" twice`)
}

func TestLoadRejectsUndeclaredInputReference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "app" {
  resource "server" {
    kind = "compute"

    attributes {
      size = var.size
    }
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared input")
}

func TestLoadRejectsUndeclaredResourceReference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "app" {
  output "id" {
    value = server.id
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared resource")
}

func TestLoadRejectsSelfReferenceWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "fw" {
  resource "group" {
    kind = "security-group"

    attributes {
      allow_from = group.id
    }
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "self_referential")
}

func TestLoadAllowsSelfReferenceWithFlag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "fw" {
  resource "group" {
    kind             = "security-group"
    self_referential = true

    attributes {
      allow_from = group.id
    }
  }
}
`)
	_, err := LoadDir(dir)
	require.NoError(t, err)
}

func TestLoadRejectsUnknownWiringTarget(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "app" {
  input "network_id" {
    value = module.network.vpc_id
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module")
}

func TestLoadRejectsNonLiteralDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "app" {
  input "a" {
    default = "x"
  }
  input "b" {
    default = var.a
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be literal")
}

func TestLoadRejectsResourceRefInCardinality(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.hcl", `
module "app" {
  resource "vpc" {
    kind = "network"
  }
  resource "server" {
    kind  = "compute"
    count = vpc.size
  }
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "may only reference var")
}

func TestLoadIgnoresNonHCLFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", "# not hcl")
	writeFile(t, dir, "main.hcl", `
module "app" {
  resource "server" {
    kind = "compute"
  }
}
`)
	s, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, s.Modules, 1)
}
