package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundwork-io/groundctl/pkg/engine"
	"github.com/groundwork-io/groundctl/pkg/engine/expression"
	"github.com/groundwork-io/groundctl/pkg/engine/planner"
)

func newPlanCmd() *cobra.Command {
	var (
		dir           string
		key           string
		lockWait      time.Duration
		backendType   string
		backendConfig []string
		values        valueFlags
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what an apply would change",
		Long: `Compute the changes needed to reach the declared state.

The plan is computed against the current state snapshot and reports one
action per resource instance: create, update, replace, delete, or noop.
Nothing is changed.

Examples:
  groundctl plan -k production
  groundctl plan -k staging -d ./infra --profile staging --profile-file profiles.hcl
  groundctl plan -k dev --var network.cidr=10.1.0.0/16`,
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := values.resolve()
			if err != nil {
				return err
			}

			stateManager, err := createStateManagerWithConfig(backendType, backendConfig)
			if err != nil {
				return err
			}

			eng := createEngine(stateManager)
			result, err := eng.Plan(context.Background(), engine.Options{
				Key:      key,
				Dir:      dir,
				Values:   vals,
				Who:      whoAmI(),
				LockWait: lockWait,
			})
			if err != nil {
				return err
			}

			renderPlan(cmd.OutOrStdout(), result.Plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory holding declaration files")
	cmd.Flags().StringVarP(&key, "key", "k", "default", "State key")
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 0, "How long to retry when the state is locked")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")
	values.register(cmd)

	return cmd
}

func renderPlan(w io.Writer, plan *planner.Plan) {
	if plan.IsEmpty() {
		fmt.Fprintln(w, "No changes. The declared state matches the recorded state.")
		return
	}

	for _, change := range plan.Changes {
		switch change.Action {
		case planner.ActionCreate:
			fmt.Fprintf(w, "  + %s\n", change.ID)
		case planner.ActionUpdate:
			fmt.Fprintf(w, "  ~ %s (%s)\n", change.ID, change.Reason)
		case planner.ActionReplace:
			fmt.Fprintf(w, " +/- %s (%s)\n", change.ID, change.Reason)
		case planner.ActionDelete:
			fmt.Fprintf(w, "  - %s (%s)\n", change.ID, change.Reason)
		default:
			continue
		}
		for _, pc := range change.PropertyChanges {
			fmt.Fprintf(w, "        %s: %s -> %s\n", pc.Path, formatValue(pc.OldValue), formatValue(pc.NewValue))
		}
	}

	fmt.Fprintf(w, "\nPlan: %d to create, %d to update, %d to replace, %d to delete, %d unchanged.\n",
		plan.ToCreate, plan.ToUpdate, plan.ToReplace, plan.ToDelete, plan.NoChange)
}

func formatValue(v interface{}) string {
	if v == nil {
		return "(none)"
	}
	if expression.IsUnknown(v) {
		return "(known after apply)"
	}
	return fmt.Sprintf("%v", v)
}
