package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/groundwork-io/groundctl/pkg/errors"
)

const sampleProfiles = `
profile "dev" {
  values = {
    app = {
      size     = "small"
      replicas = 1
    }
  }
}

profile "prod" {
  values = {
    app = {
      size     = "large"
      replicas = 5
    }
    network = {
      cidr = "10.0.0.0/16"
    }
  }
}
`

func TestParseProfiles(t *testing.T) {
	profiles, err := Parse([]byte(sampleProfiles), "profiles.hcl")
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, "dev", profiles[0].Name)
	assert.Equal(t, cty.StringVal("small"), profiles[0].Values["app"]["size"])

	prod := profiles[1]
	assert.Equal(t, "prod", prod.Name)
	assert.Equal(t, cty.StringVal("10.0.0.0/16"), prod.Values["network"]["cidr"])
	replicas, _ := prod.Values["app"]["replicas"].AsBigFloat().Int64()
	assert.Equal(t, int64(5), replicas)
}

func TestParseRejectsScalarValues(t *testing.T) {
	_, err := Parse([]byte(`
profile "bad" {
  values = "nope"
}
`), "profiles.hcl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
}

func TestParseRejectsMissingValues(t *testing.T) {
	_, err := Parse([]byte(`profile "empty" {}`), "profiles.hcl")
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	profiles, err := Parse([]byte(sampleProfiles), "profiles.hcl")
	require.NoError(t, err)

	values, err := Select(profiles, "prod")
	require.NoError(t, err)
	assert.Equal(t, cty.StringVal("large"), values["app"]["size"])

	// Empty name selects nothing rather than failing.
	values, err = Select(profiles, "")
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = Select(profiles, "staging")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestLoadVarFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  size: medium
  replicas: 3
  tags:
    - web
    - edge
network:
  nested:
    cidr: 10.1.0.0/16
`), 0644))

	values, err := LoadVarFile(path)
	require.NoError(t, err)

	assert.Equal(t, cty.StringVal("medium"), values["app"]["size"])
	replicas, _ := values["app"]["replicas"].AsBigFloat().Int64()
	assert.Equal(t, int64(3), replicas)

	tags := values["app"]["tags"]
	require.True(t, tags.CanIterateElements())
	assert.Equal(t, 2, tags.LengthInt())

	nested := values["network"]["nested"]
	assert.Equal(t, cty.StringVal("10.1.0.0/16"), nested.GetAttr("cidr"))
}

func TestLoadVarFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0644))

	_, err := LoadVarFile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
}

func TestParseVar(t *testing.T) {
	module, input, value, err := ParseVar("app.size=large")
	require.NoError(t, err)
	assert.Equal(t, "app", module)
	assert.Equal(t, "size", input)
	assert.Equal(t, cty.StringVal("large"), value)

	// JSON values keep their type.
	_, _, value, err = ParseVar("app.replicas=3")
	require.NoError(t, err)
	n, _ := value.AsBigFloat().Int64()
	assert.Equal(t, int64(3), n)

	_, _, value, err = ParseVar("app.enabled=true")
	require.NoError(t, err)
	assert.Equal(t, cty.True, value)

	// Values containing = split on the first one.
	_, input, value, err = ParseVar("app.conn=host=db;port=5432")
	require.NoError(t, err)
	assert.Equal(t, "conn", input)
	assert.Equal(t, cty.StringVal("host=db;port=5432"), value)
}

func TestParseVarRejectsMalformedSpecs(t *testing.T) {
	for _, spec := range []string{"nodot=value", "app.size", "app.=value", ".size=value"} {
		_, _, _, err := ParseVar(spec)
		assert.Error(t, err, spec)
	}
}

func TestMergeLaterWins(t *testing.T) {
	base := Values{
		"app": {"size": cty.StringVal("small"), "replicas": cty.NumberIntVal(1)},
	}
	override := Values{
		"app": {"size": cty.StringVal("large")},
		"net": {"cidr": cty.StringVal("10.0.0.0/16")},
	}

	merged := Merge(base, override)
	assert.Equal(t, cty.StringVal("large"), merged["app"]["size"])
	assert.Equal(t, cty.NumberIntVal(1), merged["app"]["replicas"])
	assert.Equal(t, cty.StringVal("10.0.0.0/16"), merged["net"]["cidr"])
}
