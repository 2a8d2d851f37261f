package main

import (
	"fmt"

	"github.com/matcontt/tindercam/disposition"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show how full the gallery and the trash are",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *disposition.App) error {
				tr := disposition.NewTranslator(app.Config.Server.Language)
				counts := app.Store.Counts()
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, tr.GalleryCounter(counts))
				fmt.Fprintln(out, tr.TrashCounter(counts))
				if counts.GalleryFull {
					alert := tr.AlertFor(disposition.SignalGalleryFull, counts)
					fmt.Fprintf(out, "%s: %s\n", alert.Title, alert.Body)
				}
				if counts.TrashFull {
					alert := tr.AlertFor(disposition.SignalTrashEviction, counts)
					fmt.Fprintf(out, "%s: %s\n", alert.Title, alert.Body)
				}
				return nil
			})
		},
	}
}
