package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newUnlockCmd() *cobra.Command {
	var (
		key           string
		force         bool
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Force-release the lock on a state key",
		Long: `Remove the lock record for a state key regardless of who holds it.

This is an escape hatch for locks left behind by crashed runs. Releasing
a lock that another process still holds invites concurrent writes; the
snapshot digest check is the last line of defense after that.

The command asks for the state key to be typed back before releasing;
pass --force to skip the prompt.

Examples:
  groundctl unlock -k production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stateManager, err := createStateManagerWithConfig(backendType, backendConfig)
			if err != nil {
				return err
			}

			ctx := context.Background()
			if info, err := stateManager.ReadLock(ctx, key); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Releasing lock held by %s (%s) since %s.\n",
					info.Who, info.Operation, info.Created.Format(time.RFC3339))
			}

			if !force && !confirmUnlock(cmd.OutOrStdout(), cmd.InOrStdin(), key) {
				fmt.Fprintln(cmd.OutOrStdout(), "Unlock cancelled.")
				return nil
			}

			if err := stateManager.ForceUnlock(ctx, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "State %q unlocked.\n", key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "default", "State key")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}

func confirmUnlock(w io.Writer, r io.Reader, key string) bool {
	fmt.Fprintf(w, "\nType the state key %q to confirm the release: ", key)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == key
}
