package handlers

import (
	"context"
	"strings"

	"github.com/willemave/news-app-sub001/internal/gateway"
	"github.com/willemave/news-app-sub001/internal/metadata"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// SummarizeHandler runs the provider over the extracted text and settles the
// content's terminal status: completed with a stored summary, or failed with
// a recorded processing error. It also kicks off the imagery stage.
type SummarizeHandler struct{}

func (h *SummarizeHandler) Type() store.TaskType { return store.TaskSummarize }

func (h *SummarizeHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if c.Status == store.ContentCompleted || c.Status == store.ContentSkipped {
		return task.Ok()
	}
	if tc.Gateways.LLM == nil {
		return task.FailPermanent("llm provider not configured")
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)

	flat := metadata.FlatView(c.Metadata)
	text, _ := flat[contentToSummarizeKey].(string)
	if strings.TrimSpace(text) == "" {
		return h.failContent(ctx, c, base, updated, "no text to summarize", tc)
	}

	summary, err := tc.Gateways.LLM.Summarize(ctx, gateway.SummaryRequest{
		ContentID:   c.ID,
		ContentType: string(c.ContentType),
		Title:       c.Title,
		Text:        text,
	})
	if err != nil {
		res := classifyFetchErr("summarize", err)
		if !res.Retryable {
			return h.failContent(ctx, c, base, updated, res.ErrorMessage, tc)
		}
		return res
	}
	if summary == nil {
		// Provider declined: not enough source text to say anything useful.
		return h.failContent(ctx, c, base, updated, "provider declined to summarize", tc)
	}

	updated["summary"] = map[string]any{
		"overview":    summary.Overview,
		"bullets":     toAnySlice(summary.Bullets),
		"model":       summary.Model,
		"input_chars": summary.InputChars,
	}
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	if err := tc.Store.UpdateContentStatus(ctx, c.ID, store.ContentCompleted, ""); err != nil {
		return task.Fail("update content %d: %v", c.ID, err)
	}

	imageTask := store.TaskGenerateImage
	if c.ContentType == store.TypeNews {
		imageTask = store.TaskGenerateThumbnail
	}
	if _, err := tc.Queue.Enqueue(ctx, imageTask, &c.ID, nil); err != nil {
		return task.Fail("enqueue %s for %d: %v", imageTask, c.ID, err)
	}

	tc.Log.WithFields(map[string]any{"content_id": c.ID, "model": summary.Model}).
		Info("content summarized")
	return task.Ok()
}

// failContent records the failure on the metadata blob, marks the content
// failed, and returns a terminal task failure.
func (h *SummarizeHandler) failContent(ctx context.Context, c *store.Content, base, updated map[string]any, reason string, tc *task.Context) task.Result {
	metadata.AppendProcessingError(updated, "summarize", reason)
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	if err := tc.Store.UpdateContentStatus(ctx, c.ID, store.ContentFailed, reason); err != nil {
		return task.Fail("update content %d: %v", c.ID, err)
	}
	return task.FailPermanent("summarize content %d: %s", c.ID, reason)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
