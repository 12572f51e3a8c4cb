package store

import (
	"time"
)

// ContentStatus is the lifecycle state of a content item.
type ContentStatus string

const (
	ContentNew        ContentStatus = "new"
	ContentPending    ContentStatus = "pending"
	ContentProcessing ContentStatus = "processing"
	ContentCompleted  ContentStatus = "completed"
	ContentFailed     ContentStatus = "failed"
	ContentSkipped    ContentStatus = "skipped"
)

// ContentType classifies what kind of source a URL points at.
type ContentType string

const (
	TypeArticle ContentType = "article"
	TypePodcast ContentType = "podcast"
	TypeNews    ContentType = "news"
	TypeUnknown ContentType = "unknown"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType identifies which pipeline stage a task executes.
// The string values are persisted and must stay stable across releases.
type TaskType string

const (
	TaskScrape             TaskType = "scrape"
	TaskAnalyzeURL         TaskType = "analyze_url"
	TaskProcessContent     TaskType = "process_content"
	TaskDownloadAudio      TaskType = "download_audio"
	TaskTranscribe         TaskType = "transcribe"
	TaskSummarize          TaskType = "summarize"
	TaskFetchDiscussion    TaskType = "fetch_discussion"
	TaskGenerateImage      TaskType = "generate_image"
	TaskGenerateThumbnail  TaskType = "generate_thumbnail"
	TaskDiscoverFeeds      TaskType = "discover_feeds"
	TaskOnboardingDiscover TaskType = "onboarding_discover"
	TaskDigDeeper          TaskType = "dig_deeper"
	TaskSyncIntegration    TaskType = "sync_integration"
)

// QueueName is a static routing partition. Transcription is isolated so its
// long-running tasks cannot starve the short content tasks.
type QueueName string

const (
	QueueContent    QueueName = "content"
	QueueTranscribe QueueName = "transcribe"
	QueueOnboarding QueueName = "onboarding"
	QueueChat       QueueName = "chat"
)

// Queue returns the fixed partition for a task type. The mapping is not
// changeable per enqueue call except in tests.
func (t TaskType) Queue() QueueName {
	switch t {
	case TaskTranscribe:
		return QueueTranscribe
	case TaskOnboardingDiscover:
		return QueueOnboarding
	case TaskDigDeeper:
		return QueueChat
	default:
		return QueueContent
	}
}

// dedupeEligible lists the task types for which Enqueue coalesces onto an
// existing non-terminal task for the same content. scrape and analyze_url are
// deliberately excluded: a scrape has no content id, and fanout may legitimately
// want several analyze passes in flight for one item.
var dedupeEligible = map[TaskType]bool{
	TaskProcessContent:     true,
	TaskDownloadAudio:      true,
	TaskTranscribe:         true,
	TaskSummarize:          true,
	TaskFetchDiscussion:    true,
	TaskGenerateImage:      true,
	TaskGenerateThumbnail:  true,
	TaskDiscoverFeeds:      true,
	TaskOnboardingDiscover: true,
	TaskDigDeeper:          true,
	TaskSyncIntegration:    true,
}

// DedupeEligible reports whether enqueues of this type coalesce by content id.
func (t TaskType) DedupeEligible() bool {
	return dedupeEligible[t]
}

// Content represents one ingested URL and the accumulated results of the
// pipeline stages that ran against it. Metadata is a free-form JSON map used
// to pass intermediate artifacts (extracted text, transcript, summary blob)
// between handlers.
type Content struct {
	ID           int64          `json:"id"`
	URL          string         `json:"url"`
	ContentType  ContentType    `json:"content_type"`
	Platform     string         `json:"platform,omitempty"`
	Source       string         `json:"source,omitempty"`
	Title        string         `json:"title,omitempty"`
	Status       ContentStatus  `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
	CheckedOutBy string         `json:"checked_out_by,omitempty"`
	CheckedOutAt *time.Time     `json:"checked_out_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

// Task represents one unit of queued work. CreatedAt doubles as the
// not-visible-before time: a pending task whose CreatedAt is in the future
// must not be claimed.
type Task struct {
	ID           int64          `json:"id"`
	Type         TaskType       `json:"task_type"`
	Queue        QueueName      `json:"queue_name"`
	ContentID    *int64         `json:"content_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       TaskStatus     `json:"status"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// LastActivity returns the most recent timestamp on the task row. The
// watchdog uses it to judge staleness of in-flight work.
func (t *Task) LastActivity() time.Time {
	if t.StartedAt != nil {
		return *t.StartedAt
	}
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}

// TaskFilter narrows Dequeue to a task type and/or queue partition.
type TaskFilter struct {
	Type  TaskType
	Queue QueueName
}

// QueueStats is a counts-only snapshot used by operations tooling.
type QueueStats struct {
	ByStatus           map[TaskStatus]int64             `json:"by_status"`
	PendingByType      map[TaskType]int64               `json:"pending_by_type"`
	PendingByQueue     map[QueueName]int64              `json:"pending_by_queue"`
	PendingByQueueType map[QueueName]map[TaskType]int64 `json:"pending_by_queue_type"`
	RecentFailures     []*Task                          `json:"recent_failures"`
}

// WatchdogEvent journals one recovery action taken by the watchdog.
type WatchdogEvent struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	TaskID    *int64         `json:"task_id,omitempty"`
	ContentID *int64         `json:"content_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WatchdogRun summarizes one watchdog cycle.
type WatchdogRun struct {
	ID             int64         `json:"id"`
	MovedTasks     int           `json:"moved_tasks"`
	RequeuedTasks  int           `json:"requeued_tasks"`
	ReleasedItems  int           `json:"released_items"`
	DryRun         bool          `json:"dry_run"`
	Duration       time.Duration `json:"duration"`
	StartedAt      time.Time     `json:"started_at"`
	AlertTriggered bool          `json:"alert_triggered"`
}
