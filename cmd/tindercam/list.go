package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/matcontt/tindercam/disposition"
	"github.com/matcontt/tindercam/internal/domain"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "list gallery|trash",
		Short:     "List a collection, newest first",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.Gallery), string(domain.Trash)},
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, err := domain.ParseCollection(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(app *disposition.App) error {
				photos := app.Store.List(collection)
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCAPTURED\tSIZE")
				for i := len(photos) - 1; i >= 0; i-- {
					p := photos[i]
					fmt.Fprintf(w, "%s\t%s\t%dx%d\n", p.ID, p.CapturedAt.Format(time.RFC3339), p.Width, p.Height)
				}
				return w.Flush()
			})
		},
	}
}
