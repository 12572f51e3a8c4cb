package handlers

import (
	"context"
	"strings"

	"github.com/willemave/news-app-sub001/internal/metadata"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// DownloadAudioHandler downloads the podcast enclosure and chains into
// transcription. Idempotent: a recorded audio path skips the download.
type DownloadAudioHandler struct{}

func (h *DownloadAudioHandler) Type() store.TaskType { return store.TaskDownloadAudio }

func (h *DownloadAudioHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if contentTerminal(c) {
		return task.Ok()
	}

	flat := metadata.FlatView(c.Metadata)
	if path, _ := flat["audio_file_path"].(string); path != "" {
		if _, err := tc.Queue.Enqueue(ctx, store.TaskTranscribe, &c.ID, nil); err != nil {
			return task.Fail("enqueue transcribe for %d: %v", c.ID, err)
		}
		return task.Ok()
	}

	if tc.Gateways.Audio == nil {
		return task.FailPermanent("audio downloader not configured")
	}

	audioURL := env.StringArg("audio_url")
	if audioURL == "" {
		audioURL, _ = flat["audio_url"].(string)
	}
	if audioURL == "" {
		audioURL = c.URL
	}

	path, err := tc.Gateways.Audio.Download(ctx, audioURL)
	if err != nil {
		return classifyFetchErr("download audio", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated["audio_file_path"] = path
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}

	if _, err := tc.Queue.Enqueue(ctx, store.TaskTranscribe, &c.ID, nil); err != nil {
		return task.Fail("enqueue transcribe for %d: %v", c.ID, err)
	}
	return task.Ok()
}

// TranscribeHandler turns the downloaded audio into text and chains into
// summarization. Runs on the transcribe queue so long transcriptions do not
// starve content work.
type TranscribeHandler struct{}

func (h *TranscribeHandler) Type() store.TaskType { return store.TaskTranscribe }

func (h *TranscribeHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if contentTerminal(c) {
		return task.Ok()
	}

	flat := metadata.FlatView(c.Metadata)
	if text, _ := flat[contentToSummarizeKey].(string); strings.TrimSpace(text) != "" {
		if _, err := tc.Queue.Enqueue(ctx, store.TaskSummarize, &c.ID, nil); err != nil {
			return task.Fail("enqueue summarize for %d: %v", c.ID, err)
		}
		return task.Ok()
	}

	audioPath, _ := flat["audio_file_path"].(string)
	if audioPath == "" {
		return task.FailPermanent("content %d has no downloaded audio", c.ID)
	}
	if tc.Gateways.Transcriber == nil {
		return task.FailPermanent("transcriber not configured")
	}

	transcript, err := tc.Gateways.Transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return classifyFetchErr("transcribe", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return task.FailPermanent("empty transcript for content %d", c.ID)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated[contentToSummarizeKey] = transcript
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}

	if _, err := tc.Queue.Enqueue(ctx, store.TaskSummarize, &c.ID, nil); err != nil {
		return task.Fail("enqueue summarize for %d: %v", c.ID, err)
	}
	return task.Ok()
}
