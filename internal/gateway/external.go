package gateway

import "context"

// The pipeline core consumes the collaborators below through these narrow
// interfaces only. Concrete implementations (scrapers, transcription, media
// rendering, third-party sync) live outside the core.

// Tweet is the subset of a fetched tweet the analyze stage needs.
type Tweet struct {
	Text   string   `json:"text"`
	Author string   `json:"author,omitempty"`
	URLs   []string `json:"urls,omitempty"` // external links in the tweet body
}

// TweetFetcher resolves a tweet URL to its content and embedded links.
type TweetFetcher interface {
	Fetch(ctx context.Context, url string) (*Tweet, error)
}

// ScraperRunner invokes the configured scrapers for the named sources
// ("all" runs every scraper). Scrapers insert content rows themselves;
// the returned count is informational.
type ScraperRunner interface {
	Run(ctx context.Context, sources []string) (int, error)
}

// AudioFetcher downloads a podcast enclosure and returns the local path.
type AudioFetcher interface {
	Download(ctx context.Context, url string) (string, error)
}

// Transcriber turns a downloaded audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// MediaGenerator renders summary imagery.
type MediaGenerator interface {
	GenerateImage(ctx context.Context, contentID int64, prompt string) (string, error)
	GenerateThumbnail(ctx context.Context, contentID int64, url string) (string, error)
}

// FeedSubscriber records a feed subscription discovered during analysis.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, feedURL string) error
}

// DiscussionFetcher pulls aggregator discussion threads for a URL.
type DiscussionFetcher interface {
	Fetch(ctx context.Context, url string) (map[string]any, error)
}

// IntegrationSyncer pushes processed content to a named third-party
// integration.
type IntegrationSyncer interface {
	Sync(ctx context.Context, integration string, contentID int64) error
}
