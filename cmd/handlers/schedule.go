package handlers

import (
	"context"
	"os/signal"
	"syscall"

	"cyberbrief/internal/logger"
	"cyberbrief/internal/scheduler"

	"github.com/spf13/cobra"
)

// NewScheduleCmd creates the schedule command for the long-running scheduler.
func NewScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the hourly digest scheduler",
		Long: `Run the scheduler loop that delivers digests on each user's cadence.

Every hour the scheduler:
  • Determines which users are due based on frequency and preferred hour
  • Pre-warms the feed cache for all due users' sources
  • Runs the digest pipeline for each due user in isolation
  • Sends the digest email when the user has email delivery enabled

One user's failure never blocks the others. The loop runs until interrupted.

Examples:
  # Run the scheduler in the foreground
  cyberbrief schedule`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context())
		},
	}
}

func runSchedule(ctx context.Context) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(app.db, app.pipeline, app.scraper, app.digestMailer())

	logger.Info("scheduler starting")
	sched.Start(ctx)
	logger.Info("scheduler stopped")

	return nil
}
