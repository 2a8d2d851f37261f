package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matcontt/tindercam/disposition"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a config file and an empty database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("while creating '%s': %w", dir, err)
			}
			configFile := filepath.Join(dir, defaultConfigFile)
			out := cmd.OutOrStdout()

			if _, err := os.Stat(configFile); err == nil {
				fmt.Fprintf(out, "Config file already exists: %s\n", configFile)
			} else {
				if err := disposition.WriteSampleConfig(configFile, disposition.DefaultConfig()); err != nil {
					return err
				}
				fmt.Fprintf(out, "Created config: %s\n", configFile)
			}

			if err := cmd.Flags().Set("config", configFile); err != nil {
				return err
			}
			return withApp(cmd, func(app *disposition.App) error {
				fmt.Fprintf(out, "Database ready: %s\n", app.Config.Storage.Database)
				fmt.Fprintf(out, "Photos dir: %s\n", app.Config.Storage.PhotosDir)
				return nil
			})
		},
	}
}
