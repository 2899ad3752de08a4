package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundwork-io/groundctl/pkg/engine"
)

func newDestroyCmd() *cobra.Command {
	var (
		key           string
		lockWait      time.Duration
		autoApprove   bool
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy everything recorded under a state key",
		Long: `Remove every recorded resource, dependents before dependencies.

A resource protected by prevent_destroy blocks the whole destroy.

Examples:
  groundctl destroy -k staging
  groundctl destroy -k dev --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stateManager, err := createStateManagerWithConfig(backendType, backendConfig)
			if err != nil {
				return err
			}

			if !autoApprove {
				fmt.Fprintf(cmd.OutOrStdout(),
					"This will destroy every resource recorded under state %q.\n", key)
				fmt.Fprint(cmd.OutOrStdout(), "Continue? Only 'yes' is accepted: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil || strings.TrimSpace(line) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Destroy cancelled.")
					return nil
				}
			}

			eng := createEngine(stateManager)
			result, err := eng.Destroy(context.Background(), engine.Options{
				Key:      key,
				Who:      whoAmI(),
				LockWait: lockWait,
			})
			if result != nil && result.Execution != nil {
				renderExecution(cmd.OutOrStdout(), result.Execution)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "default", "State key")
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 0, "How long to retry when the state is locked")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip the confirmation prompt")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}
