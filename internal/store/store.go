package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines the persistence operations the pipeline needs. It abstracts
// over Postgres (production) and an in-memory implementation (tests,
// single-shot tooling). All mutations to the shared tables go through here;
// callers never hold live row references across handler execution.
//
// The claim primitive is a compare-and-set conditional update rather than
// SELECT ... FOR UPDATE SKIP LOCKED, so the queue also works on engines
// without lock skipping.
type Store interface {
	// Task operations
	CreateTask(ctx context.Context, t *Task) (int64, error)
	GetTask(ctx context.Context, id int64) (*Task, error)

	// FindActiveTask returns a pending or processing task matching the tuple,
	// or ErrNotFound. Used by enqueue dedup.
	FindActiveTask(ctx context.Context, tt TaskType, contentID int64, q QueueName) (*Task, error)

	// NextPendingTask returns the best visible pending candidate for the
	// filter, ordered by (retry_count asc, created_at asc), or ErrNotFound.
	// The caller must still win ClaimTask before touching it.
	NextPendingTask(ctx context.Context, f TaskFilter, now time.Time) (*Task, error)

	// ClaimTask transitions a task from pending to processing. Returns false
	// without error when another worker already claimed the row.
	ClaimTask(ctx context.Context, id int64, startedAt time.Time) (bool, error)

	// CompleteTask sets the terminal status and completed_at.
	CompleteTask(ctx context.Context, id int64, status TaskStatus, errMsg string, completedAt time.Time) error

	// RescheduleTask resets a task to pending, increments retry_count, clears
	// started_at/completed_at, and sets created_at to visibleAt. A non-empty
	// errMsg records why the attempt failed; empty keeps the existing message.
	RescheduleTask(ctx context.Context, id int64, visibleAt time.Time, errMsg string) error

	// MoveTaskQueue reassigns a task to a different queue partition.
	MoveTaskQueue(ctx context.Context, id int64, q QueueName) error

	// StaleProcessingTasks lists processing tasks whose most recent timestamp
	// is older than cutoff, optionally restricted to the given types.
	StaleProcessingTasks(ctx context.Context, cutoff time.Time, types ...TaskType) ([]*Task, error)

	// MisroutedTasks lists non-terminal tasks of the given type sitting in a
	// queue other than expected.
	MisroutedTasks(ctx context.Context, tt TaskType, expected QueueName) ([]*Task, error)

	// DeleteCompletedBefore garbage-collects tasks whose completed_at is older
	// than cutoff. Anchored on completion time because retries rewrite
	// created_at with the visibility time.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeletePending removes all pending tasks. Manual intervention only.
	DeletePending(ctx context.Context) (int64, error)

	TaskStats(ctx context.Context) (*QueueStats, error)

	// Content operations
	CreateContent(ctx context.Context, c *Content) (int64, error)

	// EnsureContent inserts a content row, or falls through to the existing
	// row when the URL is already present. Returns the id and whether a new
	// row was created.
	EnsureContent(ctx context.Context, c *Content) (int64, bool, error)

	GetContent(ctx context.Context, id int64) (*Content, error)
	GetContentByURL(ctx context.Context, url string) (*Content, error)

	// UpdateContent persists the mutable business columns (url, type,
	// platform, source, title, status, error_message, retry_count,
	// processed_at). Metadata and checkout fields have dedicated paths.
	UpdateContent(ctx context.Context, c *Content) error

	// UpdateContentStatus transitions status and records the error message.
	// Completed sets processed_at.
	UpdateContentStatus(ctx context.Context, id int64, status ContentStatus, errMsg string) error

	// SaveContentMetadata replaces the metadata blob. Callers are expected to
	// go through the metadata merge helper first.
	SaveContentMetadata(ctx context.Context, id int64, md map[string]any) error

	// CheckoutContent atomically claims up to batch items in status new with
	// no current checkout, setting checked_out_by/checked_out_at and moving
	// them to processing. Returns ids only. ct may be empty for any type.
	CheckoutContent(ctx context.Context, workerID string, ct ContentType, batch int, now time.Time) ([]int64, error)

	// CheckinContent clears the checkout fields and sets the final status in
	// the same transaction. failed additionally increments retry_count.
	CheckinContent(ctx context.Context, id int64, status ContentStatus, errMsg string, failed bool) error

	// ReleaseStaleCheckouts clears checkouts older than cutoff, resets status
	// to new and increments retry_count. Idempotent. Returns released ids.
	ReleaseStaleCheckouts(ctx context.Context, cutoff time.Time) ([]int64, error)

	// StaleCheckouts lists content ids whose checkout is older than cutoff
	// without releasing them. Read-only counterpart for dry runs.
	StaleCheckouts(ctx context.Context, cutoff time.Time) ([]int64, error)

	// Watchdog journal
	AppendEvent(ctx context.Context, e *WatchdogEvent) error
	RecordRun(ctx context.Context, r *WatchdogRun) error
}
