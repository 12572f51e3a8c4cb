package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/willemave/news-app-sub001/internal/store"
)

type stubHandler struct {
	tt     store.TaskType
	result Result
	calls  int
}

func (h *stubHandler) Type() store.TaskType { return h.tt }
func (h *stubHandler) Handle(ctx context.Context, env *Envelope, tc *Context) Result {
	h.calls++
	return h.result
}

func TestDispatcherRejectsDuplicateTypes(t *testing.T) {
	_, err := NewDispatcher(
		&stubHandler{tt: store.TaskScrape},
		&stubHandler{tt: store.TaskScrape},
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate handler")
}

func TestDispatcherRoutesByType(t *testing.T) {
	h := &stubHandler{tt: store.TaskSummarize, result: Ok()}
	d, err := NewDispatcher(h, &stubHandler{tt: store.TaskScrape})
	require.NoError(t, err)

	res := d.Dispatch(context.Background(), &Envelope{Type: store.TaskSummarize}, &Context{})
	require.True(t, res.Success)
	require.Equal(t, 1, h.calls)
}

func TestDispatcherUnknownTypeIsPermanent(t *testing.T) {
	d, err := NewDispatcher()
	require.NoError(t, err)

	res := d.Dispatch(context.Background(), &Envelope{Type: "no_such_type"}, &Context{})
	require.False(t, res.Success)
	require.False(t, res.Retryable, "unknown type must bypass the retry loop")
	require.Contains(t, res.ErrorMessage, "Unknown task type")
}

func TestNewEnvelopeNormalizesPayload(t *testing.T) {
	env := NewEnvelope(&store.Task{ID: 1, Type: store.TaskScrape})
	require.NotNil(t, env.Payload)
	require.Empty(t, env.Payload)
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	contentID := int64(7)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope(&store.Task{
		ID:         3,
		Type:       store.TaskTranscribe,
		ContentID:  &contentID,
		Payload:    map[string]any{"audio_url": "https://example.com/a.mp3"},
		RetryCount: 2,
		Status:     store.TaskProcessing,
		Queue:      store.QueueTranscribe,
		CreatedAt:  started.Add(-time.Minute),
		StartedAt:  &started,
	})

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))

	require.Equal(t, env.ID, back.ID)
	require.Equal(t, env.Type, back.Type)
	require.Equal(t, *env.ContentID, *back.ContentID)
	require.Equal(t, env.RetryCount, back.RetryCount)
	require.Equal(t, env.Queue, back.Queue)
	require.Equal(t, "https://example.com/a.mp3", back.StringArg("audio_url"))
	require.True(t, env.StartedAt.Equal(*back.StartedAt))
}

func TestEnvelopeArgHelpers(t *testing.T) {
	env := &Envelope{Payload: map[string]any{
		"s":      "str",
		"b":      true,
		"list":   []any{"a", "b", 3},
		"native": []string{"x"},
	}}
	require.Equal(t, "str", env.StringArg("s"))
	require.Empty(t, env.StringArg("missing"))
	require.Empty(t, env.StringArg("b"), "non-string yields empty")
	require.True(t, env.BoolArg("b"))
	require.False(t, env.BoolArg("missing"))
	require.Equal(t, []string{"a", "b"}, env.StringsArg("list"))
	require.Equal(t, []string{"x"}, env.StringsArg("native"))
	require.Nil(t, env.StringsArg("missing"))
}
