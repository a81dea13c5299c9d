package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atmx/wager-engine/internal/config"
	"github.com/atmx/wager-engine/internal/payout"
)

// FeeCmd converts between fee percentages and basis points and previews a
// settlement split.
func FeeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fee",
		Short: "Convert a house fee and preview its split of a pool",
		Args:  cobra.NoArgs,
		RunE:  fee,
	}
	addFeeFlags(cmd)
	return cmd
}

func addFeeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("percent", "p", "", "fee as a percentage, e.g. 2.5")
	cmd.Flags().Uint16P("bps", "b", 0, "fee in basis points")
	cmd.Flags().Uint64("pool", 0, "pool to split (base units)")
	cmd.Flags().Int("winners", 1, "number of tied winners")
}

func fee(cmd *cobra.Command, _ []string) error {
	percent, _ := cmd.Flags().GetString("percent")
	bps, _ := cmd.Flags().GetUint16("bps")
	pool, _ := cmd.Flags().GetUint64("pool")
	winners, _ := cmd.Flags().GetInt("winners")

	switch {
	case percent != "" && cmd.Flags().Changed("bps"):
		return errors.New("set --percent or --bps, not both")
	case percent != "":
		var err error
		if bps, err = payout.ParseFeePercent(strings.TrimSuffix(percent, "%")); err != nil {
			return err
		}
	case !cmd.Flags().Changed("bps"):
		return errors.New("one of --percent or --bps is required")
	}

	splitter, err := payout.NewSplitter(bps)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fee_bps = %d (%s)\n", splitter.FeeBps(), payout.FormatBps(bps))
	if pool == 0 {
		return nil
	}

	f, shares, err := splitter.Distribute(pool, winners)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pool    = %d\nfee     = %d\nshares  = %v\n", pool, f, shares)
	return nil
}

// ConfigCmd validates a server configuration.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Server configuration helpers",
		Args:  cobra.NoArgs,
	}
	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Load a TOML config with environment overrides and validate it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			store := "memory"
			switch {
			case cfg.Store.DatabaseURL != "":
				store = "postgres"
			case cfg.Store.LevelDBPath != "":
				store = "leveldb"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: port=%s store=%s oracle=%s timeout=%s\n",
				cfg.Server.Port, store, cfg.Oracle.Mode, cfg.Game.Timeout)
			return nil
		},
	}
	cmd.AddCommand(check)
	return cmd
}
