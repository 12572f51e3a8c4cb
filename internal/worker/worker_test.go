package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/willemave/news-app-sub001/internal/config"
	"github.com/willemave/news-app-sub001/internal/queue"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type scriptedHandler struct {
	tt      store.TaskType
	results []task.Result
	calls   int
	panics  bool
}

func (h *scriptedHandler) Type() store.TaskType { return h.tt }

func (h *scriptedHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	h.calls++
	if h.panics {
		panic("scripted panic")
	}
	if h.calls <= len(h.results) {
		return h.results[h.calls-1]
	}
	return task.Ok()
}

func newTestWorker(t *testing.T, h task.Handler, opts Options) (*Worker, *queue.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	log := testLogger()
	q := queue.NewService(st, log)
	d, err := task.NewDispatcher(h)
	require.NoError(t, err)

	cfg := config.Default()
	tc := &task.Context{Store: st, Queue: q, Config: cfg, Log: log}
	w := New(q, d, tc, cfg, nil, log, opts)
	// Tests never wait on wall-clock sleeps.
	w.sleep = func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil }
	return w, q, st
}

func TestRunProcessesUpToMaxTasks(t *testing.T) {
	h := &scriptedHandler{tt: store.TaskScrape}
	w, q, st := newTestWorker(t, h, Options{MaxTasks: 3})

	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := q.EnqueueWithOptions(ctx, store.TaskScrape, nil, nil, queue.EnqueueOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, w.Run(ctx))
	require.Equal(t, 3, h.calls)
	for _, id := range ids {
		done, err := st.GetTask(ctx, id)
		require.NoError(t, err)
		require.Equal(t, store.TaskCompleted, done.Status)
	}
}

func TestRetryableFailureIsRescheduled(t *testing.T) {
	h := &scriptedHandler{tt: store.TaskScrape, results: []task.Result{task.Fail("transient")}}
	w, q, st := newTestWorker(t, h, Options{MaxTasks: 1})

	ctx := context.Background()
	id, err := q.EnqueueWithOptions(ctx, store.TaskScrape, nil, nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))

	after, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, after.Status)
	require.Equal(t, 1, after.RetryCount)
	require.Equal(t, "transient", after.ErrorMessage,
		"the failure reason stays on the row while the task waits out its backoff")
	require.True(t, after.CreatedAt.After(time.Now().Add(30*time.Second)),
		"rescheduled task must be invisible until the backoff expires")
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	h := &scriptedHandler{tt: store.TaskScrape, results: []task.Result{task.FailPermanent("broken input")}}
	w, q, st := newTestWorker(t, h, Options{MaxTasks: 1})

	ctx := context.Background()
	id, err := q.EnqueueWithOptions(ctx, store.TaskScrape, nil, nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))

	after, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, after.Status)
	require.Equal(t, "broken input", after.ErrorMessage)
}

func TestRetriesExhaustedFails(t *testing.T) {
	h := &scriptedHandler{tt: store.TaskScrape}
	w, q, st := newTestWorker(t, h, Options{MaxTasks: 1})

	ctx := context.Background()
	id, err := q.EnqueueWithOptions(ctx, store.TaskScrape, nil, nil, queue.EnqueueOptions{})
	require.NoError(t, err)
	// Burn through the retry budget before the worker sees the task.
	for i := 0; i < w.cfg.MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, id, 0, ""))
	}
	h.results = []task.Result{task.Fail("still broken")}

	require.NoError(t, w.Run(ctx))

	after, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.TaskFailed, after.Status, "exhausted retries settle as failed")
}

func TestPanicBecomesRetryableFailure(t *testing.T) {
	h := &scriptedHandler{tt: store.TaskScrape, panics: true}
	w, q, st := newTestWorker(t, h, Options{MaxTasks: 1})

	ctx := context.Background()
	id, err := q.EnqueueWithOptions(ctx, store.TaskScrape, nil, nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))

	after, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.TaskPending, after.Status, "panic reschedules instead of killing the loop")
	require.Equal(t, 1, after.RetryCount)
}

func TestRetryDelaySchedule(t *testing.T) {
	w := &Worker{cfg: config.Default()}

	cases := []struct {
		retryCount int
		res        task.Result
		want       time.Duration
	}{
		{0, task.Fail("x"), 60 * time.Second},
		{1, task.Fail("x"), 120 * time.Second},
		{5, task.Fail("x"), 1920 * time.Second},
		{10, task.Fail("x"), time.Hour}, // capped
		{0, task.FailNetwork("x"), 120 * time.Second},
		{4, task.FailNetwork("x"), 1920 * time.Second},
		{12, task.FailNetwork("x"), 2 * time.Hour}, // network cap
		{0, task.Result{Retryable: true, RetryDelaySeconds: 7}, 7 * time.Second},
	}
	for _, c := range cases {
		require.Equal(t, c.want, w.retryDelay(c.retryCount, c.res),
			"retry=%d network=%v", c.retryCount, c.res.NetworkError)
	}
}

func TestIdleDelayBacksOff(t *testing.T) {
	w := &Worker{cfg: config.Default()}

	require.Equal(t, 100*time.Millisecond, w.idleDelay(1))
	require.Equal(t, 100*time.Millisecond, w.idleDelay(startupPolls))
	require.Equal(t, 1*time.Second, w.idleDelay(startupPolls+1))
	require.Equal(t, 2*time.Second, w.idleDelay(startupPolls+2))
	require.Equal(t, 4*time.Second, w.idleDelay(startupPolls+3))
	require.Equal(t, 5*time.Second, w.idleDelay(startupPolls+4), "capped at poll_backoff_max")
	require.Equal(t, 5*time.Second, w.idleDelay(startupPolls+40))
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	h := &scriptedHandler{tt: store.TaskScrape}
	w, _, _ := newTestWorker(t, h, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	require.Zero(t, h.calls)
}
