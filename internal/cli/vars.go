package cli

import (
	"github.com/spf13/cobra"
	"github.com/zclconf/go-cty/cty"

	"github.com/groundwork-io/groundctl/pkg/schema/profile"
)

// valueFlags holds the flags every stack-consuming command shares for
// supplying input values.
type valueFlags struct {
	profileFile string
	profileName string
	varFiles    []string
	vars        []string
}

func (f *valueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.profileFile, "profile-file", "", "HCL file holding profile blocks")
	cmd.Flags().StringVar(&f.profileName, "profile", "", "Profile to select from the profile file")
	cmd.Flags().StringArrayVar(&f.varFiles, "var-file", nil, "YAML var-file of <module>: {<input>: <value>} (repeatable)")
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "Set one input: <module>.<input>=<value> (repeatable)")
}

// resolve layers the value sources: profile first, then var-files in
// order, then individual -var flags. Later sources win per input.
func (f *valueFlags) resolve() (profile.Values, error) {
	var layers []profile.Values

	if f.profileFile != "" {
		profiles, err := profile.ParseFile(f.profileFile)
		if err != nil {
			return nil, err
		}
		selected, err := profile.Select(profiles, f.profileName)
		if err != nil {
			return nil, err
		}
		layers = append(layers, selected)
	}

	for _, path := range f.varFiles {
		values, err := profile.LoadVarFile(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, values)
	}

	if len(f.vars) > 0 {
		overrides := make(profile.Values)
		for _, spec := range f.vars {
			module, input, value, err := profile.ParseVar(spec)
			if err != nil {
				return nil, err
			}
			if overrides[module] == nil {
				overrides[module] = make(map[string]cty.Value)
			}
			overrides[module][input] = value
		}
		layers = append(layers, overrides)
	}

	return profile.Merge(layers...), nil
}
