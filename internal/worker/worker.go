// Package worker runs the sequential task-processing loop: poll, claim,
// dispatch, settle. One worker processes one task at a time; parallelism
// comes from running more workers.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/willemave/news-app-sub001/internal/config"
	"github.com/willemave/news-app-sub001/internal/observability"
	"github.com/willemave/news-app-sub001/internal/queue"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// Retry backoff: exponential from the base, capped. Network-class failures
// get a gentler curve because the remote end usually needs minutes, not
// seconds.
const (
	retryBase    = 60 * time.Second
	retryCap     = time.Hour
	networkBase  = 120 * time.Second
	networkCap   = 2 * time.Hour
	startupPolls = 10
	// shutdown check granularity while sleeping between polls
	sleepSlice = 100 * time.Millisecond
)

// Options select what the worker consumes and when it stops.
type Options struct {
	Queue    store.QueueName // empty consumes every partition
	TaskType store.TaskType  // empty consumes every type
	MaxTasks int             // 0 runs until ctx is cancelled
	WorkerID string          // generated when empty
}

// Worker is one sequential consumer bound to a queue filter.
type Worker struct {
	queue      *queue.Service
	dispatcher *task.Dispatcher
	tc         *task.Context
	cfg        *config.Config
	hub        *observability.EventHub
	log        *logrus.Entry
	opts       Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New wires a worker. The task context's WorkerID is overwritten with this
// worker's id so handler logs and checkouts attribute correctly.
func New(q *queue.Service, d *task.Dispatcher, tc *task.Context, cfg *config.Config, hub *observability.EventHub, log *logrus.Entry, opts Options) *Worker {
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	tc.WorkerID = opts.WorkerID
	return &Worker{
		queue:      q,
		dispatcher: d,
		tc:         tc,
		cfg:        cfg,
		hub:        hub,
		log:        log.WithField("worker_id", opts.WorkerID),
		opts:       opts,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// ID returns the worker's id.
func (w *Worker) ID() string { return w.opts.WorkerID }

// Run polls until ctx is cancelled or MaxTasks have been processed. Polling
// is adaptive: fast for the first empty polls after start so a freshly
// enqueued batch drains immediately, then exponential idle backoff.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"queue": w.opts.Queue, "task_type": w.opts.TaskType, "max_tasks": w.opts.MaxTasks,
	}).Info("worker started")

	filter := store.TaskFilter{Queue: w.opts.Queue, Type: w.opts.TaskType}
	processed := 0
	emptyStreak := 0

	for {
		if ctx.Err() != nil {
			w.log.WithField("processed", processed).Info("worker stopped")
			return nil
		}
		if w.opts.MaxTasks > 0 && processed >= w.opts.MaxTasks {
			w.log.WithField("processed", processed).Info("worker reached task limit")
			return nil
		}

		env, err := w.queue.Dequeue(ctx, filter, w.opts.WorkerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.WithError(err).Error("dequeue failed")
			if !w.sleep(ctx, w.cfg.PollBackoffInterval()) {
				return nil
			}
			continue
		}
		if env == nil {
			emptyStreak++
			if !w.sleep(ctx, w.idleDelay(emptyStreak)) {
				return nil
			}
			continue
		}

		emptyStreak = 0
		w.processOne(ctx, env)
		processed++
	}
}

// idleDelay keeps the startup interval for the first empty polls, then backs
// off exponentially to the configured cap.
func (w *Worker) idleDelay(emptyStreak int) time.Duration {
	if emptyStreak <= startupPolls {
		return w.cfg.PollStartupInterval()
	}
	shift := emptyStreak - startupPolls - 1
	if shift > 16 {
		shift = 16
	}
	d := w.cfg.PollBackoffInterval() << shift
	if ceiling := w.cfg.PollBackoffMax(); d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// processOne dispatches a claimed envelope and settles its outcome. Errors
// settling the row are logged, not returned: the watchdog recovers rows a
// worker could not settle.
func (w *Worker) processOne(ctx context.Context, env *task.Envelope) {
	log := w.log.WithFields(logrus.Fields{
		"task_id": env.ID, "task_type": env.Type, "retry_count": env.RetryCount,
	})
	w.publish("claimed", env, "")

	res := w.dispatch(ctx, env)

	switch {
	case res.Success:
		observability.TasksProcessed.WithLabelValues(string(env.Type), "success").Inc()
		if err := w.queue.Complete(ctx, env.ID, true, ""); err != nil {
			log.WithError(err).Error("record completion failed")
		}
		w.publish("completed", env, "")
		log.Info("task completed")

	case res.Retryable && env.RetryCount < w.cfg.MaxRetries:
		delay := w.retryDelay(env.RetryCount, res)
		observability.TaskRetries.WithLabelValues(string(env.Type)).Inc()
		if err := w.queue.Retry(ctx, env.ID, delay, res.ErrorMessage); err != nil {
			log.WithError(err).Error("schedule retry failed")
		}
		w.publish("retried", env, res.ErrorMessage)
		log.WithFields(logrus.Fields{"delay": delay, "error": res.ErrorMessage}).
			Warn("task scheduled for retry")

	default:
		outcome := "failed"
		if !res.Retryable {
			outcome = "failed_permanent"
		}
		observability.TasksProcessed.WithLabelValues(string(env.Type), outcome).Inc()
		if err := w.queue.Complete(ctx, env.ID, false, res.ErrorMessage); err != nil {
			log.WithError(err).Error("record failure failed")
		}
		w.publish("failed", env, res.ErrorMessage)
		log.WithField("error", res.ErrorMessage).Error("task failed")
	}
}

// dispatch runs the handler under the per-task timeout with panic recovery.
// A panic becomes a retryable failure so one poisoned input cannot kill the
// worker.
func (w *Worker) dispatch(ctx context.Context, env *task.Envelope) (res task.Result) {
	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.WorkerTimeoutSeconds)*time.Second)
	defer cancel()

	start := w.now()
	defer func() {
		observability.TaskDuration.WithLabelValues(string(env.Type)).
			Observe(w.now().Sub(start).Seconds())
		if r := recover(); r != nil {
			observability.HandlerPanics.WithLabelValues(string(env.Type)).Inc()
			w.log.WithFields(logrus.Fields{"task_id": env.ID, "panic": r}).
				Error("handler panicked")
			res = task.Fail("handler panic: %v", r)
		}
	}()

	return w.dispatcher.Dispatch(taskCtx, env, w.tc)
}

// retryDelay honors an explicit handler delay, otherwise doubles per attempt
// from the class base up to the class cap.
func (w *Worker) retryDelay(retryCount int, res task.Result) time.Duration {
	if res.RetryDelaySeconds > 0 {
		return time.Duration(res.RetryDelaySeconds) * time.Second
	}
	base, ceiling := retryBase, retryCap
	if res.NetworkError {
		base, ceiling = networkBase, networkCap
	}
	d := base << retryCount
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

func (w *Worker) publish(stage string, env *task.Envelope, errMsg string) {
	if w.hub == nil {
		return
	}
	w.hub.Publish(observability.TaskEvent{
		Stage:     stage,
		TaskID:    env.ID,
		TaskType:  string(env.Type),
		ContentID: env.ContentID,
		WorkerID:  w.opts.WorkerID,
		Error:     errMsg,
	})
}

// sleepCtx sleeps in short slices so shutdown is observed within ~100ms even
// mid-backoff. Returns false when ctx was cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := sleepSlice
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(slice):
		}
	}
}

// String describes the worker for status output.
func (w *Worker) String() string {
	return fmt.Sprintf("worker %s (queue=%s)", w.opts.WorkerID, w.opts.Queue)
}
