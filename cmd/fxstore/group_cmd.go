package main

import (
	"fmt"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/config"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/groups"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newGroupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Resolve and manage tenant groups",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "resolve EMAIL",
			Short: "Print the group ID an email address belongs to",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd, func(a *app) error {
					resolver, err := a.groupResolver(cmd.Context())
					if err != nil {
						return err
					}
					id, ok, err := resolver.ResolveGroupForEmail(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no group for %s", args[0])
					}
					fmt.Fprintln(cmd.OutOrStdout(), id.String())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add KEY GROUP_ID",
			Short: "Map an email address or @domain to a group (postgres backend)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if c.cfg.GroupBackend != config.GroupBackendPostgres {
					return fmt.Errorf("group add requires FXSTORE_GROUP_BACKEND=postgres")
				}
				groupID, err := uuid.Parse(args[1])
				if err != nil {
					return fmt.Errorf("invalid group id %q: %w", args[1], err)
				}

				return c.withApp(cmd, func(a *app) error {
					pool, err := a.postgresPool(cmd.Context())
					if err != nil {
						return err
					}
					return groups.NewPostgresResolver(pool).AddMember(cmd.Context(), args[0], groupID)
				})
			},
		},
	)
	return cmd
}
