package main

import (
	"github.com/matcontt/tindercam/disposition"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status page and the JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *disposition.App) error {
				addr := app.Config.Server.Addr
				if cmd.Flags().Changed("addr") {
					addr, _ = cmd.Flags().GetString("addr")
				}
				return app.Serve(cmd.Context(), addr)
			})
		},
	}
	cmd.Flags().StringP("addr", "a", "", "Address to bind the webserver (overrides server.addr)")
	return cmd
}
