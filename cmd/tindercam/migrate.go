package main

import (
	"fmt"

	"github.com/matcontt/tindercam/internal/repository"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := repository.Open(cfg.Storage.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repository.Migrate(db); err != nil {
				return err
			}
			version, dirty, err := repository.SchemaVersion(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}
