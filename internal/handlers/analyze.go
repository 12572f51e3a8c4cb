package handlers

import (
	"context"

	"github.com/willemave/news-app-sub001/internal/metadata"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// selfSubmissionSource marks content rows created by fanout on behalf of a
// user-submitted item.
const selfSubmissionSource = "self submission"

// AnalyzeURLHandler classifies a submitted URL and seeds its starter
// metadata. Three sub-flows: feed subscription (terminal, no downstream),
// tweet fanout (rewrite parent URL, spawn children), and plain URL analysis
// (pattern fast path, LLM for unknown hosts or when instructed). Every
// non-subscription path ends by enqueueing process_content for the parent.
type AnalyzeURLHandler struct{}

func (h *AnalyzeURLHandler) Type() store.TaskType { return store.TaskAnalyzeURL }

func (h *AnalyzeURLHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	c, res, ok := loadContent(ctx, env, tc)
	if !ok {
		return res
	}
	if contentTerminal(c) {
		// A prior attempt (or the user) already resolved this item.
		return task.Ok()
	}

	if env.BoolArg("subscribe_to_feed") {
		return h.subscribeFeed(ctx, c, tc)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)

	if isTweetURL(c.URL) {
		if res := h.fanoutTweet(ctx, c, updated, tc); !res.Success && res.ErrorMessage != "" {
			return res
		}
	}

	h.classify(ctx, c, env.StringArg("instruction"), updated, tc)

	if c.Status == store.ContentNew {
		c.Status = store.ContentPending
	}
	if err := tc.Store.UpdateContent(ctx, c); err != nil {
		return task.Fail("update content %d: %v", c.ID, err)
	}
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}

	if _, err := tc.Queue.Enqueue(ctx, store.TaskProcessContent, &c.ID, nil); err != nil {
		return task.Fail("enqueue process_content for %d: %v", c.ID, err)
	}
	return task.Ok()
}

// subscribeFeed fetches the page, records a subscription for the first
// detected feed, and marks the content skipped. No downstream work.
func (h *AnalyzeURLHandler) subscribeFeed(ctx context.Context, c *store.Content, tc *task.Context) task.Result {
	if tc.Gateways.HTTP == nil || tc.Gateways.Feeds == nil {
		return task.FailPermanent("feed subscription not configured")
	}

	body, _, err := tc.Gateways.HTTP.FetchContent(ctx, c.URL, nil)
	if err != nil {
		return classifyFetchErr("fetch page for feed discovery", err)
	}
	feeds := detectFeedLinks(c.URL, body)
	if len(feeds) == 0 {
		if err := tc.Store.UpdateContentStatus(ctx, c.ID, store.ContentFailed, "no feed found"); err != nil {
			return task.Fail("update content %d: %v", c.ID, err)
		}
		return task.FailPermanent("no feed found at %s", c.URL)
	}

	if err := tc.Gateways.Feeds.Subscribe(ctx, feeds[0]); err != nil {
		return classifyFetchErr("subscribe to feed", err)
	}

	base := metadata.Clone(c.Metadata)
	updated := metadata.Clone(c.Metadata)
	updated["feed_url"] = feeds[0]
	updated["subscribe_to_feed"] = true
	if _, err := metadata.RefreshMerge(ctx, tc.Store, c.ID, base, updated); err != nil {
		return task.Fail("merge metadata for content %d: %v", c.ID, err)
	}
	if err := tc.Store.UpdateContentStatus(ctx, c.ID, store.ContentSkipped, ""); err != nil {
		return task.Fail("update content %d: %v", c.ID, err)
	}
	tc.Log.WithFields(map[string]any{"content_id": c.ID, "feed": feeds[0]}).
		Info("subscribed to feed")
	return task.Ok()
}

// fanoutTweet enriches the parent from the tweet and spawns a child content
// row plus analyze task for every external URL after the first. The parent's
// URL becomes the first external URL, or stays the tweet URL when the tweet
// links nowhere.
func (h *AnalyzeURLHandler) fanoutTweet(ctx context.Context, c *store.Content, updated map[string]any, tc *task.Context) task.Result {
	if tc.Gateways.Tweets == nil {
		return task.FailPermanent("tweet fetching not configured")
	}
	tweet, err := tc.Gateways.Tweets.Fetch(ctx, c.URL)
	if err != nil {
		return classifyFetchErr("fetch tweet", err)
	}

	updated["tweet_url"] = c.URL
	updated["tweet_text"] = tweet.Text
	if tweet.Author != "" {
		updated["tweet_author"] = tweet.Author
	}
	c.Platform = "twitter"

	if len(tweet.URLs) > 0 {
		c.URL = tweet.URLs[0]
		for _, childURL := range tweet.URLs[1:] {
			childID, created, err := tc.Store.EnsureContent(ctx, &store.Content{
				URL:    childURL,
				Source: selfSubmissionSource,
				Status: store.ContentNew,
			})
			if err != nil {
				return task.Fail("ensure child content %s: %v", childURL, err)
			}
			if created {
				if _, err := tc.Queue.Enqueue(ctx, store.TaskAnalyzeURL, &childID, nil); err != nil {
					return task.Fail("enqueue analyze for child %d: %v", childID, err)
				}
			}
		}
	}
	return task.Ok()
}

// classify sets content_type/platform/title. Pattern detection is the fast
// path; the LLM handles unknown hosts and explicit instructions. Analysis
// links create child content rows with analyze follow-ups.
func (h *AnalyzeURLHandler) classify(ctx context.Context, c *store.Content, instruction string, updated map[string]any, tc *task.Context) {
	if instruction == "" {
		if ct, platform, ok := detectByPattern(c.URL); ok {
			c.ContentType = ct
			if platform != "" {
				c.Platform = platform
			}
			updated["analysis_source"] = "pattern"
			return
		}
	}

	if tc.Gateways.LLM == nil {
		// No classifier available; treat unknown hosts as articles so the
		// pipeline still extracts and summarizes them.
		if c.ContentType == "" || c.ContentType == store.TypeUnknown {
			c.ContentType = store.TypeArticle
		}
		updated["analysis_source"] = "default"
		return
	}

	analysis, err := tc.Gateways.LLM.AnalyzeURL(ctx, c.URL, instruction)
	if err != nil {
		tc.Log.WithError(err).WithField("content_id", c.ID).Warn("llm analysis failed, defaulting to article")
		if c.ContentType == "" || c.ContentType == store.TypeUnknown {
			c.ContentType = store.TypeArticle
		}
		updated["analysis_source"] = "default"
		return
	}

	updated["analysis_source"] = "llm"
	switch store.ContentType(analysis.ContentType) {
	case store.TypeArticle, store.TypePodcast, store.TypeNews:
		c.ContentType = store.ContentType(analysis.ContentType)
	default:
		c.ContentType = store.TypeArticle
	}
	if analysis.Platform != "" {
		c.Platform = analysis.Platform
	}
	if analysis.Title != "" && c.Title == "" {
		c.Title = analysis.Title
	}

	for _, link := range analysis.Links {
		childID, created, err := tc.Store.EnsureContent(ctx, &store.Content{
			URL:    link,
			Source: selfSubmissionSource,
			Status: store.ContentNew,
		})
		if err != nil {
			tc.Log.WithError(err).WithField("url", link).Warn("link fanout insert failed")
			continue
		}
		if created {
			if _, err := tc.Queue.Enqueue(ctx, store.TaskAnalyzeURL, &childID, nil); err != nil {
				tc.Log.WithError(err).WithField("content_id", childID).Warn("link fanout enqueue failed")
			}
		}
	}
}
