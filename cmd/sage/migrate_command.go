package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/internal/app"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply canonical store migrations",
		Long:  "Apply the embedded schema migrations for DB_DRIVER. DB_MIGRATION_VERSION and DB_MIGRATION_FORCE pin or repair the version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				if err := app.Migrate(a.Config, a.DB, a.Logger); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s database is up to date\n", a.DB.DriverName())
				return nil
			}, app.WithoutSinks(), app.WithoutMigrations())
		},
	}
}
