package watchdog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/willemave/news-app-sub001/internal/config"
	"github.com/willemave/news-app-sub001/internal/store"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestWatchdog(t *testing.T) (*Watchdog, *store.MemoryStore, *config.Config) {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := config.Default()
	wd := New(st, cfg, testLogger())
	return wd, st, cfg
}

func seedProcessingTask(t *testing.T, st *store.MemoryStore, tt store.TaskType, startedAgo time.Duration) int64 {
	t.Helper()
	ctx := context.Background()
	started := time.Now().UTC().Add(-startedAgo)
	id, err := st.CreateTask(ctx, &store.Task{
		Type: tt, Queue: tt.Queue(), Status: store.TaskPending,
		CreatedAt: started.Add(-time.Minute),
	})
	require.NoError(t, err)
	won, err := st.ClaimTask(ctx, id, started)
	require.NoError(t, err)
	require.True(t, won)
	return id
}

func TestRequeueStaleProcessingTask(t *testing.T) {
	wd, st, _ := newTestWatchdog(t)
	ctx := context.Background()

	staleID := seedProcessingTask(t, st, store.TaskProcessContent, 3*time.Hour)
	freshID := seedProcessingTask(t, st, store.TaskProcessContent, 10*time.Minute)

	run, err := wd.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, run.RequeuedTasks)

	stale, err := st.GetTask(ctx, staleID)
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, stale.Status)
	require.Equal(t, 1, stale.RetryCount)
	require.Nil(t, stale.StartedAt)

	fresh, err := st.GetTask(ctx, freshID)
	require.NoError(t, err)
	require.Equal(t, store.TaskProcessing, fresh.Status, "fresh task untouched")

	// The action and the run are both journaled.
	events := st.Events()
	require.Len(t, events, 1)
	require.Equal(t, "requeue_stale", events[0].Action)
	require.Equal(t, staleID, *events[0].TaskID)
	runs := st.Runs()
	require.Len(t, runs, 1)
	require.Equal(t, 1, runs[0].RequeuedTasks)
}

func TestMoveMisroutedTranscribeTask(t *testing.T) {
	wd, st, _ := newTestWatchdog(t)
	ctx := context.Background()

	id, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskTranscribe, Queue: store.QueueContent,
		Status: store.TaskPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	run, err := wd.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, run.MovedTasks)

	moved, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.QueueTranscribe, moved.Queue)

	events := st.Events()
	require.Len(t, events, 1)
	require.Equal(t, "move_queue", events[0].Action)
}

func TestReleaseStaleCheckouts(t *testing.T) {
	wd, st, cfg := newTestWatchdog(t)
	ctx := context.Background()

	id, _, err := st.EnsureContent(ctx, &store.Content{
		URL: "https://example.com/a", Status: store.ContentNew,
	})
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-cfg.CheckoutTimeout() - time.Minute)
	_, err = st.CheckoutContent(ctx, "w-dead", "", 1, stale)
	require.NoError(t, err)

	run, err := wd.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, run.ReleasedItems)

	c, err := st.GetContent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ContentNew, c.Status)
	require.Empty(t, c.CheckedOutBy)
	require.Equal(t, 1, c.RetryCount)
}

func TestDryRunMutatesNothing(t *testing.T) {
	wd, st, cfg := newTestWatchdog(t)
	ctx := context.Background()

	staleID := seedProcessingTask(t, st, store.TaskProcessContent, 3*time.Hour)
	misroutedID, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskTranscribe, Queue: store.QueueContent,
		Status: store.TaskPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	contentID, _, err := st.EnsureContent(ctx, &store.Content{
		URL: "https://example.com/a", Status: store.ContentNew,
	})
	require.NoError(t, err)
	expired := time.Now().UTC().Add(-cfg.CheckoutTimeout() - time.Minute)
	_, err = st.CheckoutContent(ctx, "w-dead", "", 1, expired)
	require.NoError(t, err)

	run, err := wd.RunOnce(ctx, true)
	require.NoError(t, err)
	require.True(t, run.DryRun)
	require.Equal(t, 1, run.RequeuedTasks)
	require.Equal(t, 1, run.MovedTasks)
	require.Equal(t, 1, run.ReleasedItems, "dry run still counts stale checkouts")

	stale, err := st.GetTask(ctx, staleID)
	require.NoError(t, err)
	require.Equal(t, store.TaskProcessing, stale.Status)
	misrouted, err := st.GetTask(ctx, misroutedID)
	require.NoError(t, err)
	require.Equal(t, store.QueueContent, misrouted.Queue)
	c, err := st.GetContent(ctx, contentID)
	require.NoError(t, err)
	require.Equal(t, "w-dead", c.CheckedOutBy, "dry run leaves the reservation in place")

	require.Empty(t, st.Events(), "dry run journals nothing")
	require.Empty(t, st.Runs())
}

func TestSingleActionEntryPoints(t *testing.T) {
	wd, st, _ := newTestWatchdog(t)
	ctx := context.Background()

	staleID := seedProcessingTask(t, st, store.TaskProcessContent, 3*time.Hour)
	misroutedID, err := st.CreateTask(ctx, &store.Task{
		Type: store.TaskTranscribe, Queue: store.QueueContent,
		Status: store.TaskPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// Each entry point touches only its own concern.
	n, err := wd.MoveMisrouted(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	moved, err := st.GetTask(ctx, misroutedID)
	require.NoError(t, err)
	require.Equal(t, store.QueueTranscribe, moved.Queue)
	stillStale, err := st.GetTask(ctx, staleID)
	require.NoError(t, err)
	require.Equal(t, store.TaskProcessing, stillStale.Status)

	n, err = wd.RequeueStale(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	requeued, err := st.GetTask(ctx, staleID)
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, requeued.Status)

	// Dry-run variants count without mutating.
	staleID2 := seedProcessingTask(t, st, store.TaskProcessContent, 3*time.Hour)
	n, err = wd.RequeueStale(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	untouched, err := st.GetTask(ctx, staleID2)
	require.NoError(t, err)
	require.Equal(t, store.TaskProcessing, untouched.Status)
}

func TestAlertWebhookFiresAboveThreshold(t *testing.T) {
	wd, st, cfg := newTestWatchdog(t)
	ctx := context.Background()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	cfg.AlertWebhookURL = srv.URL
	cfg.AlertThreshold = 2

	seedProcessingTask(t, st, store.TaskProcessContent, 3*time.Hour)
	seedProcessingTask(t, st, store.TaskProcessContent, 4*time.Hour)

	run, err := wd.RunOnce(ctx, false)
	require.NoError(t, err)
	require.True(t, run.AlertTriggered)
	require.NotNil(t, got)
	require.EqualValues(t, 2, got["requeued_tasks"])
}

func TestTranscribeUsesItsOwnThreshold(t *testing.T) {
	wd, st, cfg := newTestWatchdog(t)
	cfg.WatchdogStaleHoursTranscribe = 6
	ctx := context.Background()

	// 3h old: stale for process_content (2h) but not for transcribe (6h).
	transcribeID := seedProcessingTask(t, st, store.TaskTranscribe, 3*time.Hour)
	processID := seedProcessingTask(t, st, store.TaskProcessContent, 3*time.Hour)

	run, err := wd.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, run.RequeuedTasks)

	tr, err := st.GetTask(ctx, transcribeID)
	require.NoError(t, err)
	require.Equal(t, store.TaskProcessing, tr.Status)
	pr, err := st.GetTask(ctx, processID)
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, pr.Status)
}
