package task

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/willemave/news-app-sub001/internal/config"
	"github.com/willemave/news-app-sub001/internal/gateway"
	"github.com/willemave/news-app-sub001/internal/store"
)

// QueueGateway is the thin enqueue facade handed to handlers so follow-up
// tasks don't bind them to the queue service type. The queue partition is
// resolved from the fixed type mapping.
type QueueGateway interface {
	Enqueue(ctx context.Context, tt store.TaskType, contentID *int64, payload map[string]any) (int64, error)
}

// Gateways bundles the outbound collaborators a handler may call. Fields for
// services a deployment doesn't use stay nil; handlers treat a nil gateway as
// a disabled feature (terminal failure, not a retry).
type Gateways struct {
	HTTP         gateway.HTTP
	LLM          gateway.LLM
	Scrapers     gateway.ScraperRunner
	Tweets       gateway.TweetFetcher
	Feeds        gateway.FeedSubscriber
	Audio        gateway.AudioFetcher
	Transcriber  gateway.Transcriber
	Media        gateway.MediaGenerator
	Discussions  gateway.DiscussionFetcher
	Integrations gateway.IntegrationSyncer
}

// Context carries everything a handler needs for one dispatch. Constructed
// once per worker at program start; no hidden module-level state.
type Context struct {
	Store    store.Store
	Queue    QueueGateway
	Gateways Gateways
	Config   *config.Config
	Log      *logrus.Entry
	WorkerID string
}

// Handler executes one pipeline stage. Implementations must tolerate
// re-invocation for the same (type, content) pair; execution is
// at-least-once.
type Handler interface {
	Type() store.TaskType
	Handle(ctx context.Context, env *Envelope, tc *Context) Result
}
