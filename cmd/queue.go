package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/willemave/news-app-sub001/internal/coordination"
	"github.com/willemave/news-app-sub001/internal/queue"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/watchdog"
)

var (
	queueYes         bool
	cleanupDaysFlag  int
	enqueueContentID int64
	enqueuePayload   string
	requeueDryRun    bool
	moveDryRun       bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the task queues",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task counts per status, type, and queue partition",
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

		stats, err := queue.NewService(st, logger).Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Println("By status:")
		printCounts(stats.ByStatus)
		fmt.Println("Pending by queue:")
		printCounts(stats.PendingByQueue)
		fmt.Println("Pending by type:")
		printCounts(stats.PendingByType)
		if len(stats.RecentFailures) > 0 {
			fmt.Println("Recent failures:")
			for _, t := range stats.RecentFailures {
				fmt.Printf("  #%d %s: %s\n", t.ID, t.Type, t.ErrorMessage)
			}
		}

		hb := coordination.NewHeartbeat(cfg.RedisAddr, "cli", logger)
		defer hb.Close()
		if workers, err := hb.LiveWorkers(ctx); err != nil {
			logger.WithError(err).Warn("worker registry unavailable")
		} else if workers != nil {
			fmt.Printf("Live workers (%d):\n", len(workers))
			sort.Strings(workers)
			for _, id := range workers {
				fmt.Printf("  %s\n", id)
			}
		}
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all pending tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !queueYes {
			return fmt.Errorf("clear deletes every pending task; pass --yes to confirm")
		}
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

		n, err := queue.NewService(st, logger).Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d pending tasks\n", n)
		return nil
	},
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed tasks older than the retention window",
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

		days := cleanupDaysFlag
		if days == 0 {
			days = cfg.CleanupDays
		}
		n, err := queue.NewService(st, logger).CleanupOld(ctx, days)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d completed tasks older than %d days\n", n, days)
		return nil
	},
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <task-type>",
	Short: "Enqueue one task by type",
	Args:  cobra.ExactArgs(1),
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

		var payload map[string]any
		if enqueuePayload != "" {
			if err := json.Unmarshal([]byte(enqueuePayload), &payload); err != nil {
				return fmt.Errorf("parse payload: %w", err)
			}
		}
		var contentID *int64
		if enqueueContentID != 0 {
			contentID = &enqueueContentID
		}

		id, err := queue.NewService(st, logger).
			Enqueue(ctx, store.TaskType(args[0]), contentID, payload)
		if err != nil {
			return err
		}
		fmt.Printf("task %d enqueued\n", id)
		return nil
	},
}

var queueRequeueStaleCmd = &cobra.Command{
	Use:   "requeue-stale",
	Short: "Requeue processing tasks abandoned past their staleness threshold",
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

		n, err := watchdog.New(st, cfg, logger).RequeueStale(ctx, requeueDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("requeued=%d dry_run=%v\n", n, requeueDryRun)
		return nil
	},
}

var queueMoveTranscribeCmd = &cobra.Command{
	Use:   "move-transcribe",
	Short: "Move mis-queued transcribe tasks back to the transcribe partition",
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

		n, err := watchdog.New(st, cfg, logger).MoveMisrouted(ctx, moveDryRun)
		if err != nil {
			return err
		}
		fmt.Printf("moved=%d dry_run=%v\n", n, moveDryRun)
		return nil
	},
}

func printCounts[K ~string](m map[K]int64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, m[K(k)])
	}
}

func init() {
	queueClearCmd.Flags().BoolVar(&queueYes, "yes", false, "confirm deletion")
	queueCleanupCmd.Flags().IntVar(&cleanupDaysFlag, "days", 0,
		"retention window in days (default from config)")
	queueEnqueueCmd.Flags().Int64Var(&enqueueContentID, "content-id", 0, "content row id")
	queueEnqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "payload as JSON")
	queueRequeueStaleCmd.Flags().BoolVar(&requeueDryRun, "dry-run", false, "report without mutating")
	queueMoveTranscribeCmd.Flags().BoolVar(&moveDryRun, "dry-run", false, "report without mutating")

	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueCleanupCmd)
	queueCmd.AddCommand(queueEnqueueCmd)
	queueCmd.AddCommand(queueRequeueStaleCmd)
	queueCmd.AddCommand(queueMoveTranscribeCmd)
	rootCmd.AddCommand(queueCmd)
}
