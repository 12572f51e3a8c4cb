// Package handlers implements one handler per pipeline task type. Handlers
// are invoked at-least-once: each checks the current content state before
// acting and reports Ok when a prior attempt already finished the stage.
package handlers

import (
	"context"
	"errors"
	"net"

	"github.com/willemave/news-app-sub001/internal/gateway"
	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// All returns one handler instance per task type, ready for the dispatcher.
func All() []task.Handler {
	return []task.Handler{
		&ScrapeHandler{},
		&AnalyzeURLHandler{},
		&ProcessContentHandler{},
		&DownloadAudioHandler{},
		&TranscribeHandler{},
		&SummarizeHandler{},
		&FetchDiscussionHandler{},
		&GenerateImageHandler{},
		&GenerateThumbnailHandler{},
		&DiscoverFeedsHandler{},
		&OnboardingDiscoverHandler{},
		&DigDeeperHandler{},
		&SyncIntegrationHandler{},
	}
}

// loadContent resolves the envelope's content row. A missing id or row is a
// permanent failure; retrying cannot conjure the content.
func loadContent(ctx context.Context, env *task.Envelope, tc *task.Context) (*store.Content, task.Result, bool) {
	if env.ContentID == nil {
		return nil, task.FailPermanent("%s task %d has no content id", env.Type, env.ID), false
	}
	c, err := tc.Store.GetContent(ctx, *env.ContentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, task.FailPermanent("content %d not found", *env.ContentID), false
	}
	if err != nil {
		return nil, task.Fail("load content %d: %v", *env.ContentID, err), false
	}
	return c, task.Result{}, true
}

// classifyFetchErr translates an outbound call failure into a result:
// network and 5xx problems ride the long backoff curve, 4xx and provider
// rejections are terminal.
func classifyFetchErr(stage string, err error) task.Result {
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Transient() {
			return task.FailNetwork("%s: %v", stage, err)
		}
		return task.FailPermanent("%s: %v", stage, err)
	}
	var terminal *gateway.TerminalProviderError
	if errors.As(err, &terminal) {
		return task.FailPermanent("%s: %v", stage, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return task.FailNetwork("%s: %v", stage, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return task.FailNetwork("%s: %v", stage, err)
	}
	return task.Fail("%s: %v", stage, err)
}

// contentTerminal reports whether downstream work should treat the item as
// done. failed and skipped are final: re-running a stage against them would
// retry work the user already saw resolved.
func contentTerminal(c *store.Content) bool {
	return c.Status == store.ContentCompleted ||
		c.Status == store.ContentFailed ||
		c.Status == store.ContentSkipped
}
