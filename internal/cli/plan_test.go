package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/engine/planner"
)

func TestRenderPlanEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderPlan(&buf, &planner.Plan{})
	assert.Contains(t, buf.String(), "No changes.")
}

func TestRenderPlanActions(t *testing.T) {
	plan := &planner.Plan{
		Changes: []*planner.ResourceChange{
			{ID: "old/bucket[0]", Action: planner.ActionDelete, Reason: "no longer declared"},
			{ID: "net/vpc[0]", Action: planner.ActionCreate},
			{
				ID:     "app/server[0]",
				Action: planner.ActionUpdate,
				Reason: "1 attribute(s) changed",
				PropertyChanges: []planner.PropertyChange{
					{Path: "size", OldValue: "small", NewValue: "large"},
					{Path: "network_id", OldValue: "vpc-1", NewValue: expression.Unknown},
				},
			},
			{ID: "app/db[0]", Action: planner.ActionReplace, Reason: `immutable attribute "engine" changed`},
			{ID: "app/cache[0]", Action: planner.ActionNoop},
		},
		ToCreate:  1,
		ToUpdate:  1,
		ToReplace: 1,
		ToDelete:  1,
		NoChange:  1,
	}

	var buf bytes.Buffer
	renderPlan(&buf, plan)
	out := buf.String()

	assert.Contains(t, out, "  + net/vpc[0]")
	assert.Contains(t, out, "  ~ app/server[0] (1 attribute(s) changed)")
	assert.Contains(t, out, " +/- app/db[0]")
	assert.Contains(t, out, "  - old/bucket[0] (no longer declared)")
	assert.NotContains(t, out, "app/cache[0]")
	assert.Contains(t, out, "size: small -> large")
	assert.Contains(t, out, "network_id: vpc-1 -> (known after apply)")
	assert.Contains(t, out, "Plan: 1 to create, 1 to update, 1 to replace, 1 to delete, 1 unchanged.")
}

func TestValueFlagsLayering(t *testing.T) {
	dir := t.TempDir()

	profilePath := filepath.Join(dir, "profiles.hcl")
	require.NoError(t, os.WriteFile(profilePath, []byte(`
profile "dev" {
  values = {
    app = {
      size     = "small"
      replicas = 1
    }
  }
}
`), 0644))

	varFilePath := filepath.Join(dir, "vars.yaml")
	require.NoError(t, os.WriteFile(varFilePath, []byte("app:\n  size: medium\n"), 0644))

	flags := valueFlags{
		profileFile: profilePath,
		profileName: "dev",
		varFiles:    []string{varFilePath},
		vars:        []string{"app.size=large"},
	}

	values, err := flags.resolve()
	require.NoError(t, err)

	// -var beats the var-file, which beats the profile.
	assert.Equal(t, cty.StringVal("large"), values["app"]["size"])
	replicas, _ := values["app"]["replicas"].AsBigFloat().Int64()
	assert.Equal(t, int64(1), replicas)
}

func TestValueFlagsUnknownProfile(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profiles.hcl")
	require.NoError(t, os.WriteFile(profilePath, []byte(`
profile "dev" {
  values = {}
}
`), 0644))

	flags := valueFlags{profileFile: profilePath, profileName: "prod"}
	_, err := flags.resolve()
	require.Error(t, err)
}
