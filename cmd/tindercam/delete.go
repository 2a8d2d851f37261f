package main

import (
	"fmt"

	"github.com/matcontt/tindercam/disposition"
	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently delete a stored photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *disposition.App) error {
				photo, collection, err := app.Store.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", photo.ID, collection)
				return nil
			})
		},
	}
}
