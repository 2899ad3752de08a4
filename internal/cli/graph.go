package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/groundwork-io/groundctl/pkg/engine"
	"github.com/groundwork-io/groundctl/pkg/graph/visual"
	"github.com/groundwork-io/groundctl/pkg/provider"
	"github.com/groundwork-io/groundctl/pkg/provider/null"
)

func newGraphCmd() *cobra.Command {
	var (
		dir       string
		direction string
		grouped   bool
		title     string
		values    valueFlags
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the dependency graph as Mermaid",
		Long: `Expand the declarations and print the resource instance graph as a
Mermaid flowchart. Paste the output into any Mermaid renderer.

Examples:
  groundctl graph
  groundctl graph -d ./infra --group --direction LR`,
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

			rendered, err := visual.RenderMermaid(result.Graph, visual.MermaidOptions{
				GroupByModule: grouped,
				Direction:     direction,
				Title:         title,
			})
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory holding declaration files")
	cmd.Flags().StringVar(&direction, "direction", "TD", "Flowchart direction (TD or LR)")
	cmd.Flags().BoolVar(&grouped, "group", false, "Group instances by module")
	cmd.Flags().StringVar(&title, "title", "", "Diagram title")
	values.register(cmd)

	return cmd
}
