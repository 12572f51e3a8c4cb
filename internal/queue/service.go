// Package queue implements the durable task queue service: enqueue with
// dedup, claim-next via compare-and-set, completion, retry scheduling,
// stats, and garbage collection.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willemave/news-app-sub001/internal/observability"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// claimAttempts bounds the select-then-CAS retry loop in Dequeue. Losing
// every attempt means the queue is effectively empty for this caller.
const claimAttempts = 5

// defaultFailureMessage is substituted when a failure is recorded without a
// message, so failed rows are never silently blank.
const defaultFailureMessage = "task failed without an error message"

// Service is the queue gateway shared by producers, workers and tooling.
// Safe for concurrent use; all state lives in the store.
type Service struct {
	store store.Store
	log   *logrus.Entry
	now   func() time.Time
}

var _ task.QueueGateway = (*Service)(nil)

// NewService builds a queue service over the given store.
func NewService(s store.Store, log *logrus.Entry) *Service {
	return &Service{store: s, log: log, now: time.Now}
}

// EnqueueOptions carry the rarely-used knobs. Queue overrides the fixed
// type→partition mapping (tests only); Dedupe overrides the per-type default.
type EnqueueOptions struct {
	Queue  store.QueueName
	Dedupe *bool
}

// Enqueue inserts a pending task, or returns the id of an existing
// non-terminal task for the same (type, content, queue) when the type is
// dedupe-eligible. Implements task.QueueGateway.
func (s *Service) Enqueue(ctx context.Context, tt store.TaskType, contentID *int64, payload map[string]any) (int64, error) {
	return s.EnqueueWithOptions(ctx, tt, contentID, payload, EnqueueOptions{})
}

// EnqueueWithOptions is Enqueue with the mapping and dedup overrides exposed.
func (s *Service) EnqueueWithOptions(ctx context.Context, tt store.TaskType, contentID *int64, payload map[string]any, opts EnqueueOptions) (int64, error) {
	queue := opts.Queue
	if queue == "" {
		queue = tt.Queue()
	}

	dedupe := tt.DedupeEligible()
	if opts.Dedupe != nil {
		dedupe = *opts.Dedupe
	}

	if dedupe && contentID != nil {
		existing, err := s.store.FindActiveTask(ctx, tt, *contentID, queue)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"task_type": tt, "content_id": *contentID, "task_id": existing.ID,
			}).Debug("enqueue coalesced onto existing task")
			return existing.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("dedup scan: %w", err)
		}
	}

	id, err := s.store.CreateTask(ctx, &store.Task{
		Type:      tt,
		Queue:     queue,
		ContentID: contentID,
		Payload:   payload,
		Status:    store.TaskPending,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", tt, err)
	}
	return id, nil
}

// Dequeue claims the next visible pending task matching the filter. Returns
// nil when no task is available after bounded attempts. The returned
// envelope is a snapshot; the live row is never handed out.
//
// Claim safety rests on the conditional update in the store: the select only
// nominates a candidate, and the CAS decides the winner. Lost races retry
// from the select because the next candidate differs.
func (s *Service) Dequeue(ctx context.Context, f store.TaskFilter, workerID string) (*task.Envelope, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		candidate, err := s.store.NextPendingTask(ctx, f, s.now().UTC())
		if errors.Is(err, store.ErrNotFound) {
			observability.EmptyPolls.WithLabelValues(string(f.Queue)).Inc()
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select candidate: %w", err)
		}

		won, err := s.store.ClaimTask(ctx, candidate.ID, s.now().UTC())
		if err != nil {
			return nil, err
		}
		if !won {
			observability.DequeueRaceLosses.Inc()
			continue
		}

		claimed, err := s.store.GetTask(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("re-read claimed task %d: %w", candidate.ID, err)
		}
		s.log.WithFields(logrus.Fields{
			"task_id": claimed.ID, "task_type": claimed.Type, "worker_id": workerID,
		}).Debug("task claimed")
		return task.NewEnvelope(claimed), nil
	}
	return nil, nil
}

// Complete records the terminal outcome of a claimed task. An empty error
// message on failure gets the default placeholder.
func (s *Service) Complete(ctx context.Context, id int64, success bool, errMsg string) error {
	status := store.TaskCompleted
	if !success {
		status = store.TaskFailed
		if errMsg == "" {
			errMsg = defaultFailureMessage
		}
	} else {
		errMsg = ""
	}
	return s.store.CompleteTask(ctx, id, status, errMsg, s.now().UTC())
}

// Retry resets the task to pending, invisible until the delay expires, and
// records why the attempt failed. retry_count increments monotonically.
func (s *Service) Retry(ctx context.Context, id int64, delay time.Duration, errMsg string) error {
	return s.store.RescheduleTask(ctx, id, s.now().UTC().Add(delay), errMsg)
}

// CleanupOld deletes completed tasks older than the given number of days.
func (s *Service) CleanupOld(ctx context.Context, days int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	return s.store.DeleteCompletedBefore(ctx, cutoff)
}

// Clear deletes all pending tasks. Manual intervention only.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	return s.store.DeletePending(ctx)
}

// Stats returns a counts-only snapshot and refreshes the queue depth gauges.
func (s *Service) Stats(ctx context.Context) (*store.QueueStats, error) {
	stats, err := s.store.TaskStats(ctx)
	if err != nil {
		return nil, err
	}
	for q, n := range stats.PendingByQueue {
		observability.QueueDepth.WithLabelValues(string(q)).Set(float64(n))
	}
	return stats, nil
}
