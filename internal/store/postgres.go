package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskColumns = `id, task_type, queue_name, content_id, payload, status, retry_count,
	COALESCE(error_message, ''), created_at, started_at, completed_at`

const contentColumns = `id, url, content_type, COALESCE(platform, ''), COALESCE(source, ''),
	COALESCE(title, ''), status, COALESCE(error_message, ''), retry_count,
	COALESCE(checked_out_by, ''), checked_out_at, metadata, created_at, updated_at, processed_at`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the schema. Safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.Type, &t.Queue, &t.ContentID, &t.Payload, &t.Status,
		&t.RetryCount, &t.ErrorMessage, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*Task, error) {
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// --- Task operations ---

func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) (int64, error) {
	query := `
		INSERT INTO tasks (task_type, queue_name, content_id, payload, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	var id int64
	err := s.pool.QueryRow(ctx, query,
		t.Type, t.Queue, t.ContentID, payload, t.Status, t.RetryCount, t.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) FindActiveTask(ctx context.Context, tt TaskType, contentID int64, q QueueName) (*Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE task_type = $1 AND content_id = $2 AND queue_name = $3
		  AND status IN ('pending', 'processing')
		ORDER BY id ASC
		LIMIT 1
	`
	return scanTask(s.pool.QueryRow(ctx, query, tt, contentID, q))
}

func (s *PostgresStore) NextPendingTask(ctx context.Context, f TaskFilter, now time.Time) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending' AND created_at <= $1`
	args := []any{now}
	i := 2
	if f.Type != "" {
		query += fmt.Sprintf(" AND task_type = $%d", i)
		args = append(args, f.Type)
		i++
	}
	if f.Queue != "" {
		query += fmt.Sprintf(" AND queue_name = $%d", i)
		args = append(args, f.Queue)
	}
	query += " ORDER BY retry_count ASC, created_at ASC LIMIT 1"
	return scanTask(s.pool.QueryRow(ctx, query, args...))
}

func (s *PostgresStore) ClaimTask(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	// Conditional update: only wins if the row is still pending. No SKIP
	// LOCKED required, so this also runs on engines without it.
	query := `
		UPDATE tasks SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := s.pool.Exec(ctx, query, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("claim task %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id int64, status TaskStatus, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE tasks SET status = $2, error_message = NULLIF($3, ''), completed_at = $4
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, status, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RescheduleTask(ctx context.Context, id int64, visibleAt time.Time, errMsg string) error {
	query := `
		UPDATE tasks SET status = 'pending', retry_count = retry_count + 1,
			started_at = NULL, completed_at = NULL, created_at = $2,
			error_message = COALESCE(NULLIF($3, ''), error_message)
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, visibleAt, errMsg)
	if err != nil {
		return fmt.Errorf("reschedule task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MoveTaskQueue(ctx context.Context, id int64, q QueueName) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tasks SET queue_name = $2 WHERE id = $1`, id, q)
	if err != nil {
		return fmt.Errorf("move task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) StaleProcessingTasks(ctx context.Context, cutoff time.Time, types ...TaskType) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'processing'
		  AND COALESCE(started_at, completed_at, created_at) < $1
	`
	args := []any{cutoff}
	if len(types) > 0 {
		query += " AND task_type = ANY($2)"
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		args = append(args, names)
	}
	query += " ORDER BY id ASC"
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *PostgresStore) MisroutedTasks(ctx context.Context, tt TaskType, expected QueueName) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE task_type = $1 AND queue_name <> $2 AND status IN ('pending', 'processing')
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, tt, expected)
	if err != nil {
		return nil, fmt.Errorf("list misrouted tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *PostgresStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE status = 'completed' AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete completed tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeletePending(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE status = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("delete pending tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) TaskStats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{
		ByStatus:           make(map[TaskStatus]int64),
		PendingByType:      make(map[TaskType]int64),
		PendingByQueue:     make(map[QueueName]int64),
		PendingByQueueType: make(map[QueueName]map[TaskType]int64),
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	for rows.Next() {
		var st TaskStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[st] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT queue_name, task_type, COUNT(*) FROM tasks
		WHERE status = 'pending' GROUP BY queue_name, task_type`)
	if err != nil {
		return nil, fmt.Errorf("stats pending: %w", err)
	}
	for rows.Next() {
		var q QueueName
		var tt TaskType
		var n int64
		if err := rows.Scan(&q, &tt, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.PendingByType[tt] += n
		stats.PendingByQueue[q] += n
		if stats.PendingByQueueType[q] == nil {
			stats.PendingByQueueType[q] = make(map[TaskType]int64)
		}
		stats.PendingByQueueType[q][tt] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'failed' ORDER BY completed_at DESC NULLS LAST LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("stats recent failures: %w", err)
	}
	failures, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	stats.RecentFailures = failures
	return stats, nil
}

// --- Content operations ---

func scanContent(row pgx.Row) (*Content, error) {
	var c Content
	err := row.Scan(
		&c.ID, &c.URL, &c.ContentType, &c.Platform, &c.Source, &c.Title,
		&c.Status, &c.ErrorMessage, &c.RetryCount, &c.CheckedOutBy, &c.CheckedOutAt,
		&c.Metadata, &c.CreatedAt, &c.UpdatedAt, &c.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateContent(ctx context.Context, c *Content) (int64, error) {
	id, created, err := s.EnsureContent(ctx, c)
	if err != nil {
		return 0, err
	}
	_ = created
	return id, nil
}

func (s *PostgresStore) EnsureContent(ctx context.Context, c *Content) (int64, bool, error) {
	md := c.Metadata
	if md == nil {
		md = map[string]any{}
	}
	// ON CONFLICT DO NOTHING makes duplicate producers fall through without
	// creating rows; the follow-up select resolves the surviving id.
	query := `
		INSERT INTO content (url, content_type, platform, source, title, status, metadata)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		ON CONFLICT (url) DO NOTHING
		RETURNING id
	`
	status := c.Status
	if status == "" {
		status = ContentNew
	}
	ct := c.ContentType
	if ct == "" {
		ct = TypeUnknown
	}
	var id int64
	err := s.pool.QueryRow(ctx, query, c.URL, ct, c.Platform, c.Source, c.Title, status, md).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("insert content: %w", err)
	}
	existing, err := s.GetContentByURL(ctx, c.URL)
	if err != nil {
		return 0, false, err
	}
	return existing.ID, false, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id int64) (*Content, error) {
	query := `SELECT ` + contentColumns + ` FROM content WHERE id = $1`
	return scanContent(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetContentByURL(ctx context.Context, url string) (*Content, error) {
	query := `SELECT ` + contentColumns + ` FROM content WHERE url = $1`
	return scanContent(s.pool.QueryRow(ctx, query, url))
}

func (s *PostgresStore) UpdateContent(ctx context.Context, c *Content) error {
	query := `
		UPDATE content SET url = $2, content_type = $3, platform = NULLIF($4, ''),
			source = NULLIF($5, ''), title = NULLIF($6, ''), status = $7,
			error_message = NULLIF($8, ''), retry_count = $9, processed_at = $10,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		c.ID, c.URL, c.ContentType, c.Platform, c.Source, c.Title,
		c.Status, c.ErrorMessage, c.RetryCount, c.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("update content %d: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateContentStatus(ctx context.Context, id int64, status ContentStatus, errMsg string) error {
	query := `
		UPDATE content SET status = $2, error_message = NULLIF($3, ''),
			processed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update content status %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveContentMetadata(ctx context.Context, id int64, md map[string]any) error {
	if md == nil {
		md = map[string]any{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE content SET metadata = $2, updated_at = NOW() WHERE id = $1`, id, md)
	if err != nil {
		return fmt.Errorf("save metadata %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CheckoutContent(ctx context.Context, workerID string, ct ContentType, batch int, now time.Time) ([]int64, error) {
	// Claim and status change happen in one statement so no second worker can
	// observe a half-claimed row. The outer WHERE repeats the claim predicate:
	// under READ COMMITTED the subquery result is a snapshot, so a concurrent
	// caller can nominate the same id and block on the row lock. After the
	// winner commits, the re-check evaluates the outer conditions against the
	// updated row and rejects it instead of overwriting the claim.
	query := `
		UPDATE content SET checked_out_by = $1, checked_out_at = $2,
			status = 'processing', updated_at = NOW()
		WHERE status = 'new' AND checked_out_by IS NULL AND id IN (
			SELECT id FROM content
			WHERE status = 'new' AND checked_out_by IS NULL
	`
	args := []any{workerID, now}
	if ct != "" {
		query += " AND content_type = $3"
		args = append(args, ct)
	}
	query += fmt.Sprintf(`
			ORDER BY retry_count ASC, created_at ASC
			LIMIT $%d
		)
		RETURNING id
	`, len(args)+1)
	args = append(args, batch)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkout content: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CheckinContent(ctx context.Context, id int64, status ContentStatus, errMsg string, failed bool) error {
	query := `
		UPDATE content SET checked_out_by = NULL, checked_out_at = NULL,
			status = $2, error_message = NULLIF($3, ''),
			retry_count = retry_count + CASE WHEN $4 THEN 1 ELSE 0 END,
			processed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, status, errMsg, failed)
	if err != nil {
		return fmt.Errorf("checkin content %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReleaseStaleCheckouts(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		UPDATE content SET checked_out_by = NULL, checked_out_at = NULL,
			status = 'new', retry_count = retry_count + 1, updated_at = NOW()
		WHERE checked_out_at IS NOT NULL AND checked_out_at < $1
		RETURNING id
	`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("release stale checkouts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) StaleCheckouts(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := `
		SELECT id FROM content
		WHERE checked_out_at IS NOT NULL AND checked_out_at < $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale checkouts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Watchdog journal ---

func (s *PostgresStore) AppendEvent(ctx context.Context, e *WatchdogEvent) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchdog_events (action, task_id, content_id, details)
		VALUES ($1, $2, $3, $4)`,
		e.Action, e.TaskID, e.ContentID, details)
	if err != nil {
		return fmt.Errorf("append watchdog event: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, r *WatchdogRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchdog_runs (moved_tasks, requeued_tasks, released_items, dry_run, duration_ms, started_at, alert_triggered)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.MovedTasks, r.RequeuedTasks, r.ReleasedItems, r.DryRun,
		r.Duration.Milliseconds(), r.StartedAt, r.AlertTriggered)
	if err != nil {
		return fmt.Errorf("record watchdog run: %w", err)
	}
	return nil
}
