package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/willemave/news-app-sub001/internal/watchdog"
)

var (
	watchdogLoop     bool
	watchdogInterval int
	watchdogDryRun   bool
)

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Recover abandoned tasks and stale checkouts",
	Long: `Run the recovery cycle: move mis-queued transcribe tasks, requeue
processing tasks whose worker went away, and release stale content checkouts.
One cycle by default; --loop runs it periodically.

Examples:
  pipeline watchdog                       # one cycle
  pipeline watchdog --dry-run             # report without mutating
  pipeline watchdog --loop --interval 300 # every 5 minutes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		wd := watchdog.New(st, cfg, logger)

		if watchdogLoop {
			if watchdogDryRun {
				return fmt.Errorf("--dry-run and --loop are mutually exclusive")
			}
			return wd.RunLoop(ctx, time.Duration(watchdogInterval)*time.Second)
		}

		run, err := wd.RunOnce(ctx, watchdogDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("moved=%d requeued=%d released=%d dry_run=%v duration=%s\n",
			run.MovedTasks, run.RequeuedTasks, run.ReleasedItems, run.DryRun, run.Duration)
		return nil
	},
}

func init() {
	watchdogCmd.Flags().BoolVar(&watchdogLoop, "loop", false, "run periodically instead of once")
	watchdogCmd.Flags().IntVar(&watchdogInterval, "interval", 300, "loop interval in seconds")
	watchdogCmd.Flags().BoolVar(&watchdogDryRun, "dry-run", false, "report actions without mutating")
	rootCmd.AddCommand(watchdogCmd)
}
