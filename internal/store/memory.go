package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and one-shot tooling. It
// mirrors the Postgres semantics, including the CAS claim.
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[int64]*Task
	content  map[int64]*Content
	byURL    map[string]int64
	events   []*WatchdogEvent
	runs     []*WatchdogRun
	nextTask int64
	nextCont int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[int64]*Task),
		content: make(map[int64]*Content),
		byURL:   make(map[string]int64),
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = copyMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}

func copyTask(t *Task) *Task {
	cp := *t
	cp.Payload = copyMap(t.Payload)
	if t.ContentID != nil {
		id := *t.ContentID
		cp.ContentID = &id
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

func copyContent(c *Content) *Content {
	cp := *c
	cp.Metadata = copyMap(c.Metadata)
	if c.CheckedOutAt != nil {
		ts := *c.CheckedOutAt
		cp.CheckedOutAt = &ts
	}
	if c.ProcessedAt != nil {
		ts := *c.ProcessedAt
		cp.ProcessedAt = &ts
	}
	return &cp
}

// --- Task operations ---

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTask++
	cp := copyTask(t)
	cp.ID = s.nextTask
	if cp.Payload == nil {
		cp.Payload = map[string]any{}
	}
	s.tasks[cp.ID] = cp
	return cp.ID, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryStore) FindActiveTask(ctx context.Context, tt TaskType, contentID int64, q QueueName) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Task
	for _, t := range s.tasks {
		if t.Terminal() || t.Type != tt || t.Queue != q {
			continue
		}
		if t.ContentID == nil || *t.ContentID != contentID {
			continue
		}
		if best == nil || t.ID < best.ID {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyTask(best), nil
}

func (s *MemoryStore) NextPendingTask(ctx context.Context, f TaskFilter, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Task
	for _, t := range s.tasks {
		if t.Status != TaskPending || t.CreatedAt.After(now) {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Queue != "" && t.Queue != f.Queue {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RetryCount != b.RetryCount {
			return a.RetryCount < b.RetryCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return copyTask(candidates[0]), nil
}

func (s *MemoryStore) ClaimTask(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != TaskPending {
		return false, nil
	}
	ts := startedAt
	t.Status = TaskProcessing
	t.StartedAt = &ts
	return true, nil
}

func (s *MemoryStore) CompleteTask(ctx context.Context, id int64, status TaskStatus, errMsg string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	ts := completedAt
	t.Status = status
	t.ErrorMessage = errMsg
	t.CompletedAt = &ts
	return nil
}

func (s *MemoryStore) RescheduleTask(ctx context.Context, id int64, visibleAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = TaskPending
	t.RetryCount++
	t.StartedAt = nil
	t.CompletedAt = nil
	t.CreatedAt = visibleAt
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}
	return nil
}

func (s *MemoryStore) MoveTaskQueue(ctx context.Context, id int64, q QueueName) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Queue = q
	return nil
}

func (s *MemoryStore) StaleProcessingTasks(ctx context.Context, cutoff time.Time, types ...TaskType) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[TaskType]bool, len(types))
	for _, tt := range types {
		wanted[tt] = true
	}

	var out []*Task
	for _, t := range s.tasks {
		if t.Status != TaskProcessing {
			continue
		}
		if len(types) > 0 && !wanted[t.Type] {
			continue
		}
		if t.LastActivity().Before(cutoff) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MisroutedTasks(ctx context.Context, tt TaskType, expected QueueName) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Task
	for _, t := range s.tasks {
		if t.Type == tt && t.Queue != expected && !t.Terminal() {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Status == TaskCompleted && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeletePending(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.Status == TaskPending {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) TaskStats(ctx context.Context) (*QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &QueueStats{
		ByStatus:           make(map[TaskStatus]int64),
		PendingByType:      make(map[TaskType]int64),
		PendingByQueue:     make(map[QueueName]int64),
		PendingByQueueType: make(map[QueueName]map[TaskType]int64),
	}
	var failures []*Task
	for _, t := range s.tasks {
		stats.ByStatus[t.Status]++
		if t.Status == TaskPending {
			stats.PendingByType[t.Type]++
			stats.PendingByQueue[t.Queue]++
			if stats.PendingByQueueType[t.Queue] == nil {
				stats.PendingByQueueType[t.Queue] = make(map[TaskType]int64)
			}
			stats.PendingByQueueType[t.Queue][t.Type]++
		}
		if t.Status == TaskFailed {
			failures = append(failures, copyTask(t))
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].ID > failures[j].ID })
	if len(failures) > 10 {
		failures = failures[:10]
	}
	stats.RecentFailures = failures
	return stats, nil
}

// --- Content operations ---

func (s *MemoryStore) CreateContent(ctx context.Context, c *Content) (int64, error) {
	id, _, err := s.EnsureContent(ctx, c)
	return id, err
}

func (s *MemoryStore) EnsureContent(ctx context.Context, c *Content) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(c.URL)
	if id, ok := s.byURL[key]; ok {
		return id, false, nil
	}

	s.nextCont++
	cp := copyContent(c)
	cp.ID = s.nextCont
	cp.URL = key
	if cp.Status == "" {
		cp.Status = ContentNew
	}
	if cp.ContentType == "" {
		cp.ContentType = TypeUnknown
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.content[cp.ID] = cp
	s.byURL[key] = cp.ID
	return cp.ID, true, nil
}

func (s *MemoryStore) GetContent(ctx context.Context, id int64) (*Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.content[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContent(c), nil
}

func (s *MemoryStore) GetContentByURL(ctx context.Context, url string) (*Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byURL[strings.TrimSpace(url)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContent(s.content[id]), nil
}

func (s *MemoryStore) UpdateContent(ctx context.Context, c *Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.content[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.URL != c.URL {
		delete(s.byURL, cur.URL)
		s.byURL[c.URL] = c.ID
	}
	cur.URL = c.URL
	cur.ContentType = c.ContentType
	cur.Platform = c.Platform
	cur.Source = c.Source
	cur.Title = c.Title
	cur.Status = c.Status
	cur.ErrorMessage = c.ErrorMessage
	cur.RetryCount = c.RetryCount
	if c.ProcessedAt != nil {
		ts := *c.ProcessedAt
		cur.ProcessedAt = &ts
	} else {
		cur.ProcessedAt = nil
	}
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateContentStatus(ctx context.Context, id int64, status ContentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.content[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.ErrorMessage = errMsg
	if status == ContentCompleted {
		now := time.Now().UTC()
		c.ProcessedAt = &now
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveContentMetadata(ctx context.Context, id int64, md map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.content[id]
	if !ok {
		return ErrNotFound
	}
	if md == nil {
		md = map[string]any{}
	}
	c.Metadata = copyMap(md)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CheckoutContent(ctx context.Context, workerID string, ct ContentType, batch int, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Content
	for _, c := range s.content {
		if c.Status != ContentNew || c.CheckedOutBy != "" {
			continue
		}
		if ct != "" && c.ContentType != ct {
			continue
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RetryCount != b.RetryCount {
			return a.RetryCount < b.RetryCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(candidates) > batch {
		candidates = candidates[:batch]
	}

	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		ts := now
		c.CheckedOutBy = workerID
		c.CheckedOutAt = &ts
		c.Status = ContentProcessing
		c.UpdatedAt = time.Now().UTC()
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *MemoryStore) CheckinContent(ctx context.Context, id int64, status ContentStatus, errMsg string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.content[id]
	if !ok {
		return ErrNotFound
	}
	c.CheckedOutBy = ""
	c.CheckedOutAt = nil
	c.Status = status
	c.ErrorMessage = errMsg
	if failed {
		c.RetryCount++
	}
	if status == ContentCompleted {
		now := time.Now().UTC()
		c.ProcessedAt = &now
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReleaseStaleCheckouts(ctx context.Context, cutoff time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, c := range s.content {
		if c.CheckedOutAt == nil || !c.CheckedOutAt.Before(cutoff) {
			continue
		}
		c.CheckedOutBy = ""
		c.CheckedOutAt = nil
		c.Status = ContentNew
		c.RetryCount++
		c.UpdatedAt = time.Now().UTC()
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) StaleCheckouts(ctx context.Context, cutoff time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, c := range s.content {
		if c.CheckedOutAt != nil && c.CheckedOutAt.Before(cutoff) {
			ids = append(ids, c.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// --- Watchdog journal ---

func (s *MemoryStore) AppendEvent(ctx context.Context, e *WatchdogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	cp.ID = int64(len(s.events) + 1)
	cp.Details = copyMap(e.Details)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) RecordRun(ctx context.Context, r *WatchdogRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.ID = int64(len(s.runs) + 1)
	s.runs = append(s.runs, &cp)
	return nil
}

// Events returns the journaled watchdog events. Test helper.
func (s *MemoryStore) Events() []*WatchdogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*WatchdogEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Runs returns the recorded watchdog run summaries. Test helper.
func (s *MemoryStore) Runs() []*WatchdogRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*WatchdogRun, len(s.runs))
	copy(out, s.runs)
	return out
}
