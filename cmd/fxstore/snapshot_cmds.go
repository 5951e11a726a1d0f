package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/application/refresher"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func parseRates(pairs []string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		code, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q, expected CODE=VALUE", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate value in %q: %w", pair, err)
		}
		rates[code] = rate
	}
	return rates, nil
}

func newSaveCmd(c *cli) *cobra.Command {
	var (
		base       string
		pairs      []string
		capturedAt string
	)

	cmd := &cobra.Command{
		Use:     "save",
		Short:   "Record a snapshot from the command line",
		Example: `  fxstore save --base USD --rate EUR=0.92 --rate GBP=0.79`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rates, err := parseRates(pairs)
			if err != nil {
				return err
			}
			var at time.Time
			if capturedAt != "" {
				if at, err = time.Parse(time.RFC3339, capturedAt); err != nil {
					return fmt.Errorf("invalid --captured-at: %w", err)
				}
			}

			return c.withApp(cmd, func(a *app) error {
				id, err := a.rates.RecordSnapshot(cmd.Context(), base, rates, at)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id.String())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "base currency code")
	cmd.Flags().StringArrayVar(&pairs, "rate", nil, "rate as CODE=VALUE, repeatable")
	cmd.Flags().StringVar(&capturedAt, "captured-at", "", "observation time (RFC3339), defaults to the save time")
	return cmd
}

func newLatestCmd(c *cli) *cobra.Command {
	var fetch bool

	cmd := &cobra.Command{
		Use:   "latest BASE",
		Short: "Print the latest snapshot of a base currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app) error {
				if fetch {
					snap, err := a.rates.GetLatestRates(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), snap)
				}

				snap, err := a.store.GetLatest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if snap == nil {
					return fmt.Errorf("no snapshot stored for %s", strings.ToUpper(strings.TrimSpace(args[0])))
				}
				return writeJSON(cmd.OutOrStdout(), snap)
			})
		},
	}

	cmd.Flags().BoolVar(&fetch, "fetch", false, "fetch from the provider when absent or stale")
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [BASE]",
		Short: "List stored snapshots newest first, or the stored base codes when BASE is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app) error {
				if len(args) == 0 {
					codes, err := a.store.ListBaseCodes(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), codes)
				}

				history, err := a.store.ListHistory(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), history)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of snapshots, 0 for all")
	return cmd
}

func newRefreshCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [BASE...]",
		Short: "Fetch and store fresh rates once",
		Long:  "Fetch and store fresh rates for the given base codes, or for FXSTORE_REFRESH_BASES when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bases := c.cfg.RefreshBases
			if len(args) > 0 {
				bases = args
			}

			return c.withApp(cmd, func(a *app) error {
				r, err := refresher.New(a.rates, refresher.Config{
					Schedule:    c.cfg.RefreshSchedule,
					BaseCodes:   bases,
					Concurrency: c.cfg.RefreshConcurrency,
				}, a.logger)
				if err != nil {
					return err
				}
				return r.RunOnce(cmd.Context())
			})
		},
	}
}

func newConvertCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "convert AMOUNT FROM TO",
		Short:   "Convert an amount with the latest stored rates",
		Example: `  fxstore convert 100 USD EUR`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}

			return c.withApp(cmd, func(a *app) error {
				conv, err := a.rates.Convert(cmd.Context(), amount, args[1], args[2])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), conv)
			})
		},
	}
}
