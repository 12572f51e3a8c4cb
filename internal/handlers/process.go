package handlers

import (
	"context"
	"strings"

	"github.com/willemave/news-app-sub001/internal/metadata"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// ProcessContentHandler fetches the item's page, extracts title and text into
// metadata, and routes the item to its next stage by content type. Items
// already in a terminal state complete without work so a requeued task does
// not resurrect a finished item.
type ProcessContentHandler struct{}

func (h *ProcessContentHandler) Type() store.TaskType { return store.TaskProcessContent }

func (h *ProcessContentHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if contentTerminal(c) {
		tc.Log.WithFields(map[string]any{"content_id": c.ID, "status": c.Status}).
			Info("content already terminal, nothing to process")
		return task.Ok()
	}

	if err := tc.Store.UpdateContentStatus(ctx, c.ID, store.ContentProcessing, ""); err != nil {
		return task.Fail("update content %d: %v", c.ID, err)
	}
	c.Status = store.ContentProcessing

	if c.ContentType == store.TypePodcast {
		return h.processPodcast(ctx, c, tc)
	}
	return h.processArticle(ctx, c, tc)
}

// processArticle fetches and extracts the page, then hands off to summarize
// when the extraction produced usable text.
func (h *ProcessContentHandler) processArticle(ctx context.Context, c *store.Content, tc *task.Context) task.Result {
	if tc.Gateways.HTTP == nil {
		return task.FailPermanent("http gateway not configured")
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)

	body, _, err := tc.Gateways.HTTP.FetchContent(ctx, c.URL, nil)
	if err != nil {
		return classifyFetchErr("fetch page", err)
	}

	text := extractText(body)
	if title := extractTitle(body); title != "" && c.Title == "" {
		c.Title = title
		if err := tc.Store.UpdateContent(ctx, c); err != nil {
			return task.Fail("update content %d: %v", c.ID, err)
		}
	}

	if strings.TrimSpace(text) == "" {
		metadata.AppendProcessingError(updated, "process_content", "no text extracted")
		if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
			return task.Fail("merge metadata for content %d: %v", c.ID, err)
		}
		if err := tc.Store.UpdateContentStatus(ctx, c.ID, store.ContentFailed, "no text extracted"); err != nil {
			return task.Fail("update content %d: %v", c.ID, err)
		}
		return task.FailPermanent("no text extracted from %s", c.URL)
	}

	updated[contentToSummarizeKey] = text
	merged, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated)
	if err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	c.Metadata = merged

	if ShouldEnqueueSummarize(c) {
		if _, err := tc.Queue.Enqueue(ctx, store.TaskSummarize, &c.ID, nil); err != nil {
			return task.Fail("enqueue summarize for %d: %v", c.ID, err)
		}
	}
	return task.Ok()
}

// processPodcast routes a podcast to the furthest stage its artifacts allow:
// straight to summarize when a transcript exists, to transcribe when the
// audio is already downloaded, otherwise to download_audio.
func (h *ProcessContentHandler) processPodcast(ctx context.Context, c *store.Content, tc *task.Context) task.Result {
	flat := metadata.FlatView(c.Metadata)

	if text, _ := flat[contentToSummarizeKey].(string); strings.TrimSpace(text) != "" {
		if _, err := tc.Queue.Enqueue(ctx, store.TaskSummarize, &c.ID, nil); err != nil {
			return task.Fail("enqueue summarize for %d: %v", c.ID, err)
		}
		return task.Ok()
	}
	if path, _ := flat["audio_file_path"].(string); path != "" {
		if _, err := tc.Queue.Enqueue(ctx, store.TaskTranscribe, &c.ID, nil); err != nil {
			return task.Fail("enqueue transcribe for %d: %v", c.ID, err)
		}
		return task.Ok()
	}
	if _, err := tc.Queue.Enqueue(ctx, store.TaskDownloadAudio, &c.ID, nil); err != nil {
		return task.Fail("enqueue download_audio for %d: %v", c.ID, err)
	}
	return task.Ok()
}
