package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundwork-io/groundctl/pkg/engine"
	"github.com/groundwork-io/groundctl/pkg/provider"
	"github.com/groundwork-io/groundctl/pkg/provider/null"
	"github.com/rs/zerolog"
)

func newValidateCmd() *cobra.Command {
	var (
		dir    string
		values valueFlags
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check declarations without touching state",
		Long: `Parse and resolve the declaration files, expand cardinalities, and
check the dependency graph for cycles. No backend is contacted and
nothing is changed.

Examples:
  groundctl validate
  groundctl validate -d ./infra --var network.enabled=true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := values.resolve()
			if err != nil {
				return err
			}

			registry := provider.NewRegistry()
			registry.RegisterFallback(null.New())
			eng := engine.NewEngine(nil, registry, zerolog.Nop())

			result, err := eng.Validate(engine.Options{Dir: dir, Values: vals})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d module(s), %d resource instance(s).\n",
				len(result.Stack.Modules), len(result.Graph.Nodes))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory holding declaration files")
	values.register(cmd)

	return cmd
}
