package main

import (
	"fmt"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/db"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			switch c.cfg.StoreDriver {
			case db.DriverPostgres, db.DriverPostgresPool:
				return nil
			default:
				return fmt.Errorf("migrations apply to postgres drivers only, %s creates its schema on open", c.cfg.StoreDriver)
			}
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.Up(cmd.Context(), c.cfg.DSN); err != nil {
					return err
				}
				c.logger.Info("Migrations applied", nil)
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.Down(cmd.Context(), c.cfg.DSN); err != nil {
					return err
				}
				c.logger.Info("Migration rolled back", nil)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				versions, err := migrate.Versions()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "embedded migrations: %v\n", versions)
				return migrate.Status(cmd.Context(), c.cfg.DSN)
			},
		},
	)
	return cmd
}
