package main

import (
	"fmt"

	"github.com/matcontt/tindercam/disposition"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Release image files no stored photo references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *disposition.App) error {
				released, err := app.Orchestrator.Reconcile(cmd.Context())
				for _, uri := range released {
					fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", uri)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d orphaned files released\n", len(released))
				return nil
			})
		},
	}
}
