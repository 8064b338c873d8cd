package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/moneynudge/internal/testdata"
)

var (
	flagSeedMonths int
	flagSeedValue  int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo users and transactions",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&flagSeedMonths, "months", 4, "months of history to generate")
	seedCmd.Flags().Int64Var(&flagSeedValue, "seed", 1, "random seed for everyday spending")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := testdata.Seed(ctx, testdata.Repos{Users: a.users, Templates: a.templates, Transactions: a.txns}, testdata.Options{
		Today:    a.today(),
		Months:   flagSeedMonths,
		Seed:     flagSeedValue,
		Defaults: a.cfg.Templates.Defaults,
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d transactions\n", n)
	return nil
}
