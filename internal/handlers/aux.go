package handlers

import (
	"context"
	"time"

	"github.com/willemave/news-app-sub001/internal/metadata"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// The handlers below each wrap one external service call and persist its
// result into content metadata. They share the pipeline contract: tolerate
// re-invocation, treat a missing gateway as terminal, classify fetch errors.

type FetchDiscussionHandler struct{}

func (h *FetchDiscussionHandler) Type() store.TaskType { return store.TaskFetchDiscussion }

func (h *FetchDiscussionHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if tc.Gateways.Discussions == nil {
		return task.FailPermanent("discussion fetcher not configured")
	}

	discussion, err := tc.Gateways.Discussions.Fetch(ctx, c.URL)
	if err != nil {
		return classifyFetchErr("fetch discussion", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated["discussion"] = discussion
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	return task.Ok()
}

type GenerateImageHandler struct{}

func (h *GenerateImageHandler) Type() store.TaskType { return store.TaskGenerateImage }

func (h *GenerateImageHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if tc.Gateways.Media == nil {
		return task.FailPermanent("media generator not configured")
	}

	prompt := env.StringArg("prompt")
	if prompt == "" {
		flat := metadata.FlatView(c.Metadata)
		if summary, ok := flat["summary"].(map[string]any); ok {
			prompt, _ = summary["overview"].(string)
		}
	}
	if prompt == "" {
		prompt = c.Title
	}

	path, err := tc.Gateways.Media.GenerateImage(ctx, c.ID, prompt)
	if err != nil {
		return classifyFetchErr("generate image", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated["image_path"] = path
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	return task.Ok()
}

type GenerateThumbnailHandler struct{}

func (h *GenerateThumbnailHandler) Type() store.TaskType { return store.TaskGenerateThumbnail }

func (h *GenerateThumbnailHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if tc.Gateways.Media == nil {
		return task.FailPermanent("media generator not configured")
	}

	path, err := tc.Gateways.Media.GenerateThumbnail(ctx, c.ID, c.URL)
	if err != nil {
		return classifyFetchErr("generate thumbnail", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated["thumbnail_path"] = path
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	return task.Ok()
}

// DiscoverFeedsHandler scans the content's page for RSS/Atom links, records
// them, and subscribes to the first one.
type DiscoverFeedsHandler struct{}

func (h *DiscoverFeedsHandler) Type() store.TaskType { return store.TaskDiscoverFeeds }

func (h *DiscoverFeedsHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if tc.Gateways.HTTP == nil {
		return task.FailPermanent("http gateway not configured")
	}

	body, _, err := tc.Gateways.HTTP.FetchContent(ctx, c.URL, nil)
	if err != nil {
		return classifyFetchErr("fetch page for feed discovery", err)
	}
	feeds := detectFeedLinks(c.URL, body)
	if len(feeds) == 0 {
		return task.FailPermanent("no feeds found at %s", c.URL)
	}

	if tc.Gateways.Feeds != nil {
		if err := tc.Gateways.Feeds.Subscribe(ctx, feeds[0]); err != nil {
			return classifyFetchErr("subscribe to feed", err)
		}
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated["discovered_feeds"] = toAnySlice(feeds)
	updated["feed_url"] = feeds[0]
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	return task.Ok()
}

// OnboardingDiscoverHandler asks the provider for seed URLs matching a new
// user's interests and submits each as fresh content. Runs on the onboarding
// queue; it has no content row of its own.
type OnboardingDiscoverHandler struct{}

func (h *OnboardingDiscoverHandler) Type() store.TaskType { return store.TaskOnboardingDiscover }

func (h *OnboardingDiscoverHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	if tc.Gateways.LLM == nil {
		return task.FailPermanent("llm provider not configured")
	}
	interests := env.StringsArg("interests")
	if len(interests) == 0 {
		return task.FailPermanent("onboarding_discover task has no interests")
	}

	urls, err := tc.Gateways.LLM.DiscoverSources(ctx, interests)
	if err != nil {
		return classifyFetchErr("discover sources", err)
	}

	seeded := 0
	for _, u := range urls {
		id, created, err := tc.Store.EnsureContent(ctx, &store.Content{
			URL:    u,
			Source: "onboarding",
			Status: store.ContentNew,
		})
		if err != nil {
			tc.Log.WithError(err).WithField("url", u).Warn("onboarding seed insert failed")
			continue
		}
		if created {
			if _, err := tc.Queue.Enqueue(ctx, store.TaskAnalyzeURL, &id, nil); err != nil {
				tc.Log.WithError(err).WithField("content_id", id).Warn("onboarding seed enqueue failed")
				continue
			}
			seeded++
		}
	}
	tc.Log.WithFields(map[string]any{"interests": len(interests), "seeded": seeded}).
		Info("onboarding discovery finished")
	return task.Ok()
}

// DigDeeperHandler answers a follow-up question about summarized content and
// appends the exchange to the content's metadata. Runs on the chat queue.
type DigDeeperHandler struct{}

func (h *DigDeeperHandler) Type() store.TaskType { return store.TaskDigDeeper }

func (h *DigDeeperHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if tc.Gateways.LLM == nil {
		return task.FailPermanent("llm provider not configured")
	}

	question := env.StringArg("question")
	if question == "" {
		return task.FailPermanent("dig_deeper task has no question")
	}
	topic := env.StringArg("topic")
	if topic == "" {
		topic = c.Title
	}

	answer, err := tc.Gateways.LLM.DigDeeper(ctx, topic, question)
	if err != nil {
		return classifyFetchErr("dig deeper", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	entry := map[string]any{
		"question":  question,
		"answer":    answer,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	list, _ := updated["dig_deeper"].([]any)
	updated["dig_deeper"] = append(list, entry)
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	return task.Ok()
}

// SyncIntegrationHandler pushes processed content to a named third-party
// integration.
type SyncIntegrationHandler struct{}

func (h *SyncIntegrationHandler) Type() store.TaskType { return store.TaskSyncIntegration }

func (h *SyncIntegrationHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if tc.Gateways.Integrations == nil {
		return task.FailPermanent("integration syncer not configured")
	}

	integration := env.StringArg("integration")
	if integration == "" {
		return task.FailPermanent("sync_integration task has no integration name")
	}

	if err := tc.Gateways.Integrations.Sync(ctx, integration, c.ID); err != nil {
		return classifyFetchErr("sync integration", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	synced, _ := updated["synced_integrations"].([]any)
	updated["synced_integrations"] = append(synced, integration)
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	return task.Ok()
}
