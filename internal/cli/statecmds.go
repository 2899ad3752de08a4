package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect recorded state",
	}

	cmd.AddCommand(newStateListCmd())
	cmd.AddCommand(newStateShowCmd())

	return cmd
}

func newStateListCmd() *cobra.Command {
	var (
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List state keys known to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateManager, err := createStateManagerWithConfig(backendType, backendConfig)
			if err != nil {
				return err
			}

			keys, err := stateManager.ListKeys(context.Background())
			if err != nil {
				return err
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}

func newStateShowCmd() *cobra.Command {
	var (
		key           string
		asJSON        bool
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the snapshot for a state key",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateManager, err := createStateManagerWithConfig(backendType, backendConfig)
			if err != nil {
				return err
			}

			snap, digest, err := stateManager.ReadSnapshot(context.Background(), key)
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Key:     %s\n", snap.Key)
			fmt.Fprintf(cmd.OutOrStdout(), "Serial:  %d\n", snap.Serial)
			fmt.Fprintf(cmd.OutOrStdout(), "Digest:  %s\n", digest)
			fmt.Fprintf(cmd.OutOrStdout(), "Resources (%d):\n", len(snap.Resources))
			for _, id := range snap.SortedIDs() {
				record := snap.Resources[id]
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  kind=%s status=%s\n", id, record.Kind, record.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "default", "State key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw snapshot as JSON")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}
