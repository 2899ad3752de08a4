package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundwork-io/groundctl/pkg/engine"
	"github.com/groundwork-io/groundctl/pkg/engine/executor"
)

func newApplyCmd() *cobra.Command {
	var (
		dir           string
		key           string
		lockWait      time.Duration
		autoApprove   bool
		backendType   string
		backendConfig []string
		values        valueFlags
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the declared state",
		Long: `Plan and apply in one run under a single state lock.

Changes execute strictly one at a time, in dependency order, and the
state snapshot is written back after every completed action. A failure
stops the run; everything already applied stays recorded, and a rerun
picks up from where this one stopped.

Examples:
  groundctl apply -k production
  groundctl apply -k staging -d ./infra --auto-approve
  groundctl apply -k dev --var-file dev.yaml`,
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
			opts := engine.Options{
				Key:      key,
				Dir:      dir,
				Values:   vals,
				Who:      whoAmI(),
				LockWait: lockWait,
			}

			if !autoApprove {
				preview, err := eng.Plan(context.Background(), opts)
				if err != nil {
					return err
				}
				renderPlan(cmd.OutOrStdout(), preview.Plan)
				if preview.Plan.IsEmpty() {
					return nil
				}
				if !confirm(cmd.OutOrStdout(), cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Apply cancelled.")
					return nil
				}
			}

			result, err := eng.Apply(context.Background(), opts)
			if result != nil && result.Execution != nil {
				renderExecution(cmd.OutOrStdout(), result.Execution)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory holding declaration files")
	cmd.Flags().StringVarP(&key, "key", "k", "default", "State key")
	cmd.Flags().DurationVar(&lockWait, "lock-wait", 0, "How long to retry when the state is locked")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip the confirmation prompt")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")
	values.register(cmd)

	return cmd
}

func confirm(w io.Writer, r io.Reader) bool {
	fmt.Fprint(w, "\nApply these changes? Only 'yes' is accepted: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

func renderExecution(w io.Writer, result *executor.Result) {
	for _, id := range result.Completed {
		fmt.Fprintf(w, "  applied %s\n", id)
	}
	for _, id := range result.Failed {
		fmt.Fprintf(w, "  FAILED  %s\n", id)
	}
	for _, id := range result.Remaining {
		fmt.Fprintf(w, "  skipped %s\n", id)
	}
	if result.Canceled {
		fmt.Fprintln(w, "Apply interrupted; completed actions are recorded.")
		return
	}
	fmt.Fprintf(w, "Applied %d change(s) in %s.\n", len(result.Completed), result.Duration.Round(time.Millisecond))
}
