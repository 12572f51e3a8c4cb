// Package watchdog recovers work abandoned by crashed or wedged workers:
// mis-queued transcribe tasks, stale processing tasks, and stale content
// checkouts. Every action is journaled so operators can audit what it touched.
package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willemave/news-app-sub001/internal/checkout"
	"github.com/willemave/news-app-sub001/internal/config"
	"github.com/willemave/news-app-sub001/internal/observability"
	"github.com/willemave/news-app-sub001/internal/store"
)

// Watchdog runs the recovery cycle. Safe to run concurrently with workers;
// requeueing a task that a live worker later settles is harmless because
// settle operations are idempotent on status.
type Watchdog struct {
	store    store.Store
	checkout *checkout.Manager
	cfg      *config.Config
	log      *logrus.Entry

	now    func() time.Time
	client *http.Client
}

// New builds a watchdog over the shared store.
func New(s store.Store, cfg *config.Config, log *logrus.Entry) *Watchdog {
	return &Watchdog{
		store:    s,
		checkout: checkout.NewManager(s, log),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// RunOnce executes one recovery cycle and journals the run summary. With
// dryRun set it reports what it would touch without mutating anything.
func (w *Watchdog) RunOnce(ctx context.Context, dryRun bool) (*store.WatchdogRun, error) {
	started := w.now().UTC()
	run := &store.WatchdogRun{DryRun: dryRun, StartedAt: started}

	moved, err := w.moveMisrouted(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	run.MovedTasks = moved

	requeued, err := w.requeueStale(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	run.RequeuedTasks = requeued

	released, err := w.releaseCheckouts(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	run.ReleasedItems = released

	total := moved + requeued + released
	if total >= w.cfg.AlertThreshold && w.cfg.AlertThreshold > 0 {
		run.AlertTriggered = true
		if !dryRun {
			w.alert(ctx, run)
		}
	}

	run.Duration = w.now().UTC().Sub(started)
	if !dryRun {
		if err := w.store.RecordRun(ctx, run); err != nil {
			w.log.WithError(err).Error("record watchdog run failed")
		}
	}
	w.log.WithFields(logrus.Fields{
		"moved": moved, "requeued": requeued, "released": released,
		"dry_run": dryRun, "duration": run.Duration,
	}).Info("watchdog cycle finished")
	return run, nil
}

// RunLoop executes cycles at the given interval until ctx is cancelled.
func (w *Watchdog) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx, false); err != nil {
			w.log.WithError(err).Error("watchdog cycle failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// MoveMisrouted runs only the queue-repair action: transcribe tasks sitting
// on another partition go back to the transcribe queue. Exposed for the CLI.
func (w *Watchdog) MoveMisrouted(ctx context.Context, dryRun bool) (int, error) {
	return w.moveMisrouted(ctx, dryRun)
}

// RequeueStale runs only the stale-task recovery action. Exposed for the CLI.
func (w *Watchdog) RequeueStale(ctx context.Context, dryRun bool) (int, error) {
	return w.requeueStale(ctx, dryRun)
}

// moveMisrouted puts transcribe tasks back on the transcribe queue. The
// fixed mapping can be violated by manual requeues and old producers.
func (w *Watchdog) moveMisrouted(ctx context.Context, dryRun bool) (int, error) {
	tasks, err := w.store.MisroutedTasks(ctx, store.TaskTranscribe, store.QueueTranscribe)
	if err != nil {
		return 0, fmt.Errorf("scan misrouted tasks: %w", err)
	}

	moved := 0
	for _, t := range tasks {
		if dryRun {
			w.log.WithFields(logrus.Fields{"task_id": t.ID, "queue": t.Queue}).
				Info("would move task to transcribe queue")
			moved++
			continue
		}
		if err := w.store.MoveTaskQueue(ctx, t.ID, store.QueueTranscribe); err != nil {
			w.log.WithError(err).WithField("task_id", t.ID).Error("move task failed")
			continue
		}
		observability.WatchdogMoves.Inc()
		w.journal(ctx, "move_queue", &t.ID, t.ContentID, map[string]any{
			"from": string(t.Queue), "to": string(store.QueueTranscribe),
		})
		moved++
	}
	return moved, nil
}

// requeueStale returns processing tasks whose last activity predates the
// per-type threshold to pending, visible immediately, with retry_count
// incremented.
func (w *Watchdog) requeueStale(ctx context.Context, dryRun bool) (int, error) {
	// Scan with the tightest threshold so every candidate is captured, then
	// judge each task against its own per-type threshold.
	scanCutoff := w.now().UTC().Add(-time.Duration(minHours(w.cfg)) * time.Hour)

	tasks, err := w.store.StaleProcessingTasks(ctx, scanCutoff)
	if err != nil {
		return 0, fmt.Errorf("scan stale tasks: %w", err)
	}

	requeued := 0
	for _, t := range tasks {
		threshold := time.Duration(w.staleHours(t.Type)) * time.Hour
		if w.now().UTC().Sub(t.LastActivity()) < threshold {
			continue
		}
		if dryRun {
			w.log.WithFields(logrus.Fields{"task_id": t.ID, "task_type": t.Type}).
				Info("would requeue stale task")
			requeued++
			continue
		}
		if err := w.store.RescheduleTask(ctx, t.ID, w.now().UTC(), ""); err != nil {
			w.log.WithError(err).WithField("task_id", t.ID).Error("requeue stale task failed")
			continue
		}
		observability.WatchdogRequeues.WithLabelValues(string(t.Type)).Inc()
		w.journal(ctx, "requeue_stale", &t.ID, t.ContentID, map[string]any{
			"task_type": string(t.Type), "last_activity": t.LastActivity().UTC().Format(time.RFC3339),
		})
		requeued++
	}
	return requeued, nil
}

// releaseCheckouts clears content checkouts older than the configured
// timeout.
func (w *Watchdog) releaseCheckouts(ctx context.Context, dryRun bool) (int, error) {
	if dryRun {
		ids, err := w.checkout.Stale(ctx, w.cfg.CheckoutTimeout())
		if err != nil {
			return 0, fmt.Errorf("list stale checkouts: %w", err)
		}
		for _, id := range ids {
			w.log.WithField("content_id", id).Info("would release stale checkout")
		}
		return len(ids), nil
	}
	ids, err := w.checkout.ReleaseStale(ctx, w.cfg.CheckoutTimeout())
	if err != nil {
		return 0, fmt.Errorf("release stale checkouts: %w", err)
	}
	for i := range ids {
		w.journal(ctx, "release_checkout", nil, &ids[i], nil)
	}
	return len(ids), nil
}

// staleHours picks the per-type staleness threshold. Transcription runs long
// legitimately, so it gets its own knob.
func (w *Watchdog) staleHours(tt store.TaskType) int {
	if tt == store.TaskTranscribe {
		return w.cfg.WatchdogStaleHoursTranscribe
	}
	return w.cfg.WatchdogStaleHoursProcessContent
}

func minHours(cfg *config.Config) int {
	if cfg.WatchdogStaleHoursTranscribe < cfg.WatchdogStaleHoursProcessContent {
		return cfg.WatchdogStaleHoursTranscribe
	}
	return cfg.WatchdogStaleHoursProcessContent
}

func (w *Watchdog) journal(ctx context.Context, action string, taskID, contentID *int64, details map[string]any) {
	err := w.store.AppendEvent(ctx, &store.WatchdogEvent{
		Action:    action,
		TaskID:    taskID,
		ContentID: contentID,
		Details:   details,
	})
	if err != nil {
		w.log.WithError(err).WithField("action", action).Error("journal watchdog event failed")
	}
}

// alert posts the run summary to the configured webhook. Failures are logged;
// alerting is best-effort.
func (w *Watchdog) alert(ctx context.Context, run *store.WatchdogRun) {
	if w.cfg.AlertWebhookURL == "" {
		return
	}
	body, err := json.Marshal(map[string]any{
		"text": fmt.Sprintf("watchdog recovered %d tasks (%d moved, %d requeued, %d checkouts released)",
			run.MovedTasks+run.RequeuedTasks, run.MovedTasks, run.RequeuedTasks, run.ReleasedItems),
		"moved_tasks":    run.MovedTasks,
		"requeued_tasks": run.RequeuedTasks,
		"released_items": run.ReleasedItems,
		"started_at":     run.StartedAt.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.AlertWebhookURL, bytes.NewReader(body))
	if err != nil {
		w.log.WithError(err).Error("build alert request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		w.log.WithError(err).Error("post alert failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.log.WithField("status", resp.StatusCode).Error("alert webhook rejected")
	}
}
