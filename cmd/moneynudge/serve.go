package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scans on the configured cron schedule until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	c := cron.New(cron.WithLocation(a.loc), cron.WithLogger(cron.VerbosePrintfLogger(log.Default())))
	// Overlapping runs are allowed; the ledger admits each send once.
	id, err := c.AddFunc(a.cfg.Run.Schedule, func() {
		if _, err := a.runner.Run(ctx, "cron"); err != nil {
			log.Printf("scheduled run aborted err=%v", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	log.Printf("serve started schedule=%q tz=%s next=%s", a.cfg.Run.Schedule, a.loc, c.Entry(id).Next.Format("Mon Jan 2 15:04"))

	<-ctx.Done()
	log.Printf("serve stopping, waiting for running scans")
	<-c.Stop().Done()
	return nil
}
