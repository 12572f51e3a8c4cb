package handlers

import (
	"context"

	"github.com/willemave/news-app-sub001/internal/store"
	"github.com/willemave/news-app-sub001/internal/task"
)

// ScrapeHandler runs the configured scrapers. Scraper outputs become new
// content rows whose creation enqueues downstream work; the scrape task
// itself ends as soon as the scrapers return.
type ScrapeHandler struct{}

func (h *ScrapeHandler) Type() store.TaskType { return store.TaskScrape }

func (h *ScrapeHandler) Handle(ctx context.Context, env *task.Envelope, tc *task.Context) task.Result {
	if tc.Gateways.Scrapers == nil {
		return task.FailPermanent("no scrapers configured")
	}

	sources := env.StringsArg("sources")
	if len(sources) == 0 {
		sources = []string{"all"}
	}

	count, err := tc.Gateways.Scrapers.Run(ctx, sources)
	if err != nil {
		return classifyFetchErr("scrape", err)
	}
	tc.Log.WithField("new_items", count).Info("scrape finished")
	return task.Ok()
}
