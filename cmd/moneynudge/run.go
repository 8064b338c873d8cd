package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jask/moneynudge/internal/cli"
	"github.com/jask/moneynudge/internal/templates"
)

var (
	flagRunSource   string
	flagRetrySource string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan every active user once and send what is due",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

var retryCmd = &cobra.Command{
	Use:   "retry <user-id> <template>",
	Short: "Retry today's failed send of a template once",
	Args:  cobra.ExactArgs(2),
	RunE:  runRetry,
}

func init() {
	runCmd.Flags().StringVar(&flagRunSource, "source", "cli", "trigger name recorded in the ledger")
	retryCmd.Flags().StringVar(&flagRetrySource, "source", "retry", "trigger name recorded in the ledger")
	rootCmd.AddCommand(runCmd, retryCmd)
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.runner.Run(ctx, flagRunSource)
	fmt.Fprint(cmd.OutOrStdout(), cli.RenderRun(sum))
	return err
}

func runRetry(cmd *cobra.Command, args []string) error {
	t, err := templates.ParseType(args[1])
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.runner.Retry(ctx, args[0], t, flagRetrySource)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s %s: %s", res.UserID, res.Template, cli.Status(string(res.Status)))
	switch {
	case res.Err != nil:
		line += " " + cli.Muted(res.Err.Error())
	case res.Reason != "":
		line += " " + cli.Muted(res.Reason)
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
	return nil
}
