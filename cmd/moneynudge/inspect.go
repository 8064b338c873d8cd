package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jask/moneynudge/internal/cli"
	"github.com/jask/moneynudge/internal/database/repository"
	"github.com/jask/moneynudge/internal/dates"
	"github.com/jask/moneynudge/internal/pacing"
)

var (
	flagLogUser   string
	flagLogDay    string
	flagLogStatus string
	flagLogLimit  int

	flagTrackBy    string
	flagTrackClear bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List notification ledger rows",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

var trackCmd = &cobra.Command{
	Use:   "track <user-id> [key...]",
	Short: "Show or set the spending keys a user's pacing tracks",
	Long: "With only a user id, shows the user's recurring merchants and pacing.\n" +
		"With keys, replaces the tracked keys with a manual selection; --clear\n" +
		"returns the user to automatic top-K selection.",
	Args: cobra.MinimumNArgs(1),
	RunE: runTrack,
}

func init() {
	logCmd.Flags().StringVar(&flagLogUser, "user", "", "only this user")
	logCmd.Flags().StringVar(&flagLogDay, "day", "", "only this send day (YYYY-MM-DD)")
	logCmd.Flags().StringVar(&flagLogStatus, "status", "", "only this status (claimed, sent, failed, skipped)")
	logCmd.Flags().IntVar(&flagLogLimit, "limit", 50, "maximum rows")

	trackCmd.Flags().StringVar(&flagTrackBy, "by", "", "key type for manual keys: merchant or category (default pacing.track_by)")
	trackCmd.Flags().BoolVar(&flagTrackClear, "clear", false, "drop the manual selection")
	rootCmd.AddCommand(logCmd, trackCmd)
}

func runLog(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f := repository.LogFilters{UserID: flagLogUser, Limit: flagLogLimit}
	if flagLogDay != "" {
		day, err := dates.Parse(flagLogDay)
		if err != nil {
			return err
		}
		f.Day = day
	}
	if flagLogStatus != "" {
		f.Status = repository.NotificationStatus(flagLogStatus)
	}
	rows, err := a.log.List(ctx, f)
	if err != nil {
		return fmt.Errorf("list log: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), cli.RenderLedger(rows))
	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	userID, keys := args[0], args[1:]
	u, err := a.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("unknown user %q", userID)
	}
	today := a.today()

	if len(keys) > 0 || flagTrackClear {
		kt := a.scanner.TrackBy
		if flagTrackBy != "" {
			if kt, err = pacing.ParseKeyType(flagTrackBy); err != nil {
				return err
			}
		}
		if flagTrackClear {
			keys = nil
		}
		if err := a.scanner.SetManualSelection(ctx, userID, kt, keys, today); err != nil {
			return err
		}
		if len(keys) == 0 {
			// auto-select again now rather than on the next scan
			if _, err := a.scanner.Refresh(ctx, userID, today); err != nil {
				return err
			}
		}
	}

	recs, err := a.recurring.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	paces, err := a.pacing.ListByUser(ctx, userID, true)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.RenderTitle(u.Name+" ("+u.ID+")"))
	fmt.Fprint(out, cli.RenderRecurring(recs, a.predictor))
	fmt.Fprint(out, cli.RenderPacing(paces, a.tracker, today))
	return nil
}
