package queue

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/willemave/news-app-sub001/internal/store"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestService() (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewService(st, testLogger()), st
}

func TestEnqueueDequeueComplete(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	contentID := int64(42)
	id, err := svc.Enqueue(ctx, store.TaskProcessContent, &contentID, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NotZero(t, id)

	env, err := svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, id, env.ID)
	require.Equal(t, store.TaskProcessContent, env.Type)
	require.Equal(t, store.QueueContent, env.Queue)
	require.Equal(t, store.TaskProcessing, env.Status)
	require.NotNil(t, env.ContentID)
	require.Equal(t, contentID, *env.ContentID)
	require.Equal(t, "v", env.StringArg("k"))
	require.NotNil(t, env.StartedAt)

	require.NoError(t, svc.Complete(ctx, id, true, ""))
	done, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.TaskCompleted, done.Status)
	require.Empty(t, done.ErrorMessage)
	require.NotNil(t, done.CompletedAt)
}

func TestEnqueueQueueMapping(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	contentID := int64(1)
	for tt, want := range map[store.TaskType]store.QueueName{
		store.TaskTranscribe:         store.QueueTranscribe,
		store.TaskOnboardingDiscover: store.QueueOnboarding,
		store.TaskDigDeeper:          store.QueueChat,
		store.TaskSummarize:          store.QueueContent,
	} {
		id, err := svc.Enqueue(ctx, tt, &contentID, nil)
		require.NoError(t, err)
		task, err := st.GetTask(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, task.Queue, "queue for %s", tt)
	}
}

func TestEnqueueDedup(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	contentID := int64(7)

	first, err := svc.Enqueue(ctx, store.TaskSummarize, &contentID, nil)
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, store.TaskSummarize, &contentID, nil)
	require.NoError(t, err)
	require.Equal(t, first, second, "second enqueue must coalesce onto the live task")

	// A claimed (processing) task still blocks a duplicate.
	env, err := svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.Equal(t, first, env.ID)
	third, err := svc.Enqueue(ctx, store.TaskSummarize, &contentID, nil)
	require.NoError(t, err)
	require.Equal(t, first, third)

	// Terminal tasks stop blocking.
	require.NoError(t, svc.Complete(ctx, first, true, ""))
	fourth, err := svc.Enqueue(ctx, store.TaskSummarize, &contentID, nil)
	require.NoError(t, err)
	require.NotEqual(t, first, fourth)
}

func TestEnqueueDedupChatAndOnboarding(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	contentID := int64(7)

	first, err := svc.Enqueue(ctx, store.TaskDigDeeper, &contentID, nil)
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, store.TaskDigDeeper, &contentID, nil)
	require.NoError(t, err)
	require.Equal(t, first, second, "dig_deeper coalesces per content like the other content-bound types")

	onboardFirst, err := svc.Enqueue(ctx, store.TaskOnboardingDiscover, &contentID, nil)
	require.NoError(t, err)
	onboardSecond, err := svc.Enqueue(ctx, store.TaskOnboardingDiscover, &contentID, nil)
	require.NoError(t, err)
	require.Equal(t, onboardFirst, onboardSecond)
}

func TestEnqueueNoDedupForAnalyze(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	contentID := int64(9)

	first, err := svc.Enqueue(ctx, store.TaskAnalyzeURL, &contentID, nil)
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, store.TaskAnalyzeURL, &contentID, nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second, "analyze_url is not dedupe-eligible")
}

func TestRetryInvisibleUntilDelayExpires(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc.now = func() time.Time { return now }

	contentID := int64(5)
	id, err := svc.Enqueue(ctx, store.TaskProcessContent, &contentID, nil)
	require.NoError(t, err)

	env, err := svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.NotNil(t, env)

	require.NoError(t, svc.Retry(ctx, id, 60*time.Second, "remote hiccup"))

	env, err = svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.Nil(t, env, "rescheduled task must be invisible before the delay expires")

	now = base.Add(61 * time.Second)
	env, err = svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, id, env.ID)
	require.Equal(t, 1, env.RetryCount)

	row, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "remote hiccup", row.ErrorMessage,
		"the failure reason stays on the row across the reschedule")
}

func TestDequeueOrderPrefersFewerRetries(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc.now = func() time.Time { return now }

	older := int64(1)
	newer := int64(2)
	retriedID, err := svc.Enqueue(ctx, store.TaskProcessContent, &older, nil)
	require.NoError(t, err)
	now = now.Add(time.Second)
	freshID, err := svc.Enqueue(ctx, store.TaskProcessContent, &newer, nil)
	require.NoError(t, err)

	// Claim and retry the older task so it carries retry_count=1.
	env, err := svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.Equal(t, retriedID, env.ID)
	require.NoError(t, svc.Retry(ctx, retriedID, 0, ""))

	now = now.Add(time.Second)
	env, err = svc.Dequeue(ctx, store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.Equal(t, freshID, env.ID, "zero-retry task goes first")
}

func TestDequeueEmptyQueue(t *testing.T) {
	svc, _ := newTestService()
	env, err := svc.Dequeue(context.Background(), store.TaskFilter{}, "w1")
	require.NoError(t, err)
	require.Nil(t, env)
}

func TestDequeueFilters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	contentID := int64(3)

	_, err := svc.Enqueue(ctx, store.TaskTranscribe, &contentID, nil)
	require.NoError(t, err)

	env, err := svc.Dequeue(ctx, store.TaskFilter{Queue: store.QueueContent}, "w1")
	require.NoError(t, err)
	require.Nil(t, env, "content partition must not see transcribe tasks")

	env, err = svc.Dequeue(ctx, store.TaskFilter{Queue: store.QueueTranscribe}, "w1")
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, store.TaskTranscribe, env.Type)
}

func TestConcurrentDequeueNoDoubleClaim(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	const total = 40
	for i := 0; i < total; i++ {
		contentID := int64(i + 1)
		_, err := svc.Enqueue(ctx, store.TaskAnalyzeURL, &contentID, nil)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]int{}
		total64 int64
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				done := total64 >= total
				mu.Unlock()
				if done {
					return
				}
				env, err := svc.Dequeue(ctx, store.TaskFilter{}, "w")
				if err != nil || env == nil {
					// Lost races return nil while work remains; poll again.
					continue
				}
				mu.Lock()
				claimed[env.ID]++
				total64++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, total)
	for id, n := range claimed {
		require.Equal(t, 1, n, "task %d claimed %d times", id, n)
	}
}

func TestCompleteFailureDefaultsMessage(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()
	contentID := int64(4)

	id, err := svc.Enqueue(ctx, store.TaskSummarize, &contentID, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, id, false, ""))

	task, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, task.Status)
	require.Equal(t, defaultFailureMessage, task.ErrorMessage)
}

func TestCleanupOldKeepsRecent(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	oldDone := base.AddDate(0, 0, -10)
	recentDone := base.AddDate(0, 0, -2)

	oldID, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskScrape, Queue: store.QueueContent,
		Status: store.TaskCompleted, CreatedAt: oldDone, CompletedAt: &oldDone,
	})
	require.NoError(t, err)
	recentID, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskScrape, Queue: store.QueueContent,
		Status: store.TaskCompleted, CreatedAt: recentDone, CompletedAt: &recentDone,
	})
	require.NoError(t, err)
	pendingID, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskScrape, Queue: store.QueueContent,
		Status: store.TaskPending, CreatedAt: oldDone,
	})
	require.NoError(t, err)
	// Retries rewrite created_at with the visibility time, so age is judged by
	// completion time: an old row that finished recently survives.
	retriedID, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskScrape, Queue: store.QueueContent,
		Status: store.TaskCompleted, CreatedAt: oldDone, CompletedAt: &recentDone,
	})
	require.NoError(t, err)

	n, err := svc.CleanupOld(ctx, 7)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = st.GetTask(ctx, oldID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetTask(ctx, recentID)
	require.NoError(t, err)
	_, err = st.GetTask(ctx, pendingID)
	require.NoError(t, err, "pending tasks are never garbage-collected")
	_, err = st.GetTask(ctx, retriedID)
	require.NoError(t, err, "completion time decides age, not created_at")
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	contentID := int64(11)

	_, err := svc.Enqueue(ctx, store.TaskSummarize, &contentID, nil)
	require.NoError(t, err)
	other := int64(12)
	failID, err := svc.Enqueue(ctx, store.TaskTranscribe, &other, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, failID, false, "boom"))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ByStatus[store.TaskPending])
	require.EqualValues(t, 1, stats.ByStatus[store.TaskFailed])
	require.EqualValues(t, 1, stats.PendingByQueue[store.QueueContent])
	require.EqualValues(t, 1, stats.PendingByType[store.TaskSummarize])
	require.Len(t, stats.RecentFailures, 1)
	require.Equal(t, "boom", stats.RecentFailures[0].ErrorMessage)
}
