package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/willemave/news-app-sub001/internal/coordination"
	"github.com/willemave/news-app-sub001/internal/gateway"
	"github.com/willemave/news-app-sub001/internal/handlers"
	"github.com/willemave/news-app-sub001/internal/observability"
	"github.com/willemave/news-app-sub001/internal/queue"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
	"github.com/willemave/news-app-sub001/internal/worker"
)

var (
	workerQueue    string
	workerTaskType string
	workerMaxTasks int
	workerID       string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a sequential task worker",
	Long: `Run one sequential worker loop: poll the queue, claim the next visible
task, dispatch it to its handler, and settle the outcome. SIGINT/SIGTERM
finish the in-flight task before exiting.

Examples:
  pipeline worker                          # consume every queue partition
  pipeline worker --queue transcribe       # transcription partition only
  pipeline worker --max-tasks 100          # drain 100 tasks, then exit`,
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

		dispatcher, err := task.NewDispatcher(handlers.All()...)
		if err != nil {
			return err
		}

		q := queue.NewService(st, logger)
		tc := &task.Context{
			Store:  st,
			Queue:  q,
			Config: cfg,
			Log:    logger,
			Gateways: task.Gateways{
				HTTP: gateway.NewClient(gateway.ClientOptions{
					Timeout:    time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
					PerHostRPS: cfg.HTTPPerHostRPS,
				}),
			},
		}

		hub := observability.NewEventHub(logger)
		go hub.Run(ctx)

		w := worker.New(q, dispatcher, tc, cfg, hub, logger, worker.Options{
			Queue:    store.QueueName(workerQueue),
			TaskType: store.TaskType(workerTaskType),
			MaxTasks: workerMaxTasks,
			WorkerID: workerID,
		})

		hb := coordination.NewHeartbeat(cfg.RedisAddr, w.ID(), logger)
		go hb.Run(ctx)
		defer hb.Close()

		if cfg.MetricsAddr != "" {
			srv := observability.NewServer(cfg.MetricsAddr, hub, logger)
			go srv.Start()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerQueue, "queue", "",
		"queue partition to consume (content, transcribe, onboarding, chat; empty = all)")
	workerCmd.Flags().StringVar(&workerTaskType, "task-type", "",
		"restrict to one task type (empty = all)")
	workerCmd.Flags().IntVar(&workerMaxTasks, "max-tasks", 0,
		"exit after processing this many tasks (0 = run until signalled)")
	workerCmd.Flags().StringVar(&workerID, "worker-id", "",
		"worker identity for claims and checkouts (generated when empty)")
	rootCmd.AddCommand(workerCmd)
}
