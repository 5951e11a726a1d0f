package main

import (
	"github.com/damon-houk/fx-rate-snapshot-store/internal/config"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

// cli carries state shared between the root command and its children
type cli struct {
	cfg    *config.Config
	logger logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "fxstore",
		Short:        "Store and serve exchange-rate snapshots",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = newLogger(cfg, cmd.ErrOrStderr())
			return nil
		},
	}

	root.AddCommand(
		newSaveCmd(c),
		newLatestCmd(c),
		newHistoryCmd(c),
		newRefreshCmd(c),
		newConvertCmd(c),
		newWorkerCmd(c),
		newMigrateCmd(c),
		newGroupCmd(c),
	)
	return root
}

// withApp opens the application for the duration of fn
func (c *cli) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd.Context(), c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			c.logger.Warn("Failed to close resources", map[string]interface{}{"error": cerr.Error()})
		}
	}()
	return fn(a)
}
