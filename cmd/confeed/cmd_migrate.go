package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"confeed/internal/app"
	pkgdatabase "confeed/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and validate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			setupLogging(os.Stderr, cfg.LogLevel)

			dbManager, err := app.OpenDatabase(cfg)
			if err != nil {
				return err
			}
			defer dbManager.Close()

			applied, err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), pkgdatabase.Migrations()).ApplyMigrations()
			if err != nil {
				return err
			}
			if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
				return fmt.Errorf("schema validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(out, "applied %s\n", v)
			}
			return nil
		},
	}
}
