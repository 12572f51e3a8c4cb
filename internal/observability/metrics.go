// Package observability holds the Prometheus metrics and the task-event
// stream hub shared by the worker and watchdog.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts dispatched tasks by type and outcome.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_tasks_processed_total",
		Help: "Tasks dispatched, labeled by task type and outcome",
	}, []string{"task_type", "outcome"}) // outcome: success, failed, failed_permanent

	// TaskRetries counts retry schedules by task type.
	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_task_retries_total",
		Help: "Tasks rescheduled for retry",
	}, []string{"task_type"})

	// TaskDuration tracks handler execution time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_task_duration_seconds",
		Help:    "Handler execution time distribution",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~2.7min
	}, []string{"task_type"})

	// DequeueRaceLosses counts CAS claim attempts lost to another worker.
	DequeueRaceLosses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_dequeue_race_losses_total",
		Help: "Claim attempts that lost the conditional update race",
	})

	// QueueDepth tracks pending tasks per queue partition.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Pending tasks per queue partition",
	}, []string{"queue"})

	// EmptyPolls counts dequeues that found no visible work.
	EmptyPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_empty_polls_total",
		Help: "Polls that returned no task",
	}, []string{"queue"})

	// WatchdogRequeues counts tasks the watchdog recovered from stale
	// processing.
	WatchdogRequeues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_watchdog_requeues_total",
		Help: "Stale processing tasks requeued by the watchdog",
	}, []string{"task_type"})

	// WatchdogMoves counts mis-queued tasks moved to their proper partition.
	WatchdogMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_watchdog_moves_total",
		Help: "Mis-queued tasks moved back to their fixed partition",
	})

	// CheckoutsReleased counts stale content checkouts cleared.
	CheckoutsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_checkouts_released_total",
		Help: "Stale content checkouts released",
	})

	// HandlerPanics counts panics recovered by the worker loop.
	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_handler_panics_total",
		Help: "Panics recovered from handlers",
	}, []string{"task_type"})
)
