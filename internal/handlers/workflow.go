package handlers

import (
	"strings"

	"github.com/willemave/news-app-sub001/internal/metadata"
	"github.com/willemave/news-app-sub001/internal/store"
)

// contentToSummarizeKey holds the extracted text the summarize stage reads.
const contentToSummarizeKey = "content_to_summarize"

// ShouldEnqueueSummarize reports whether the item is ready for the summarize
// stage: an article or news item, still processing, with non-empty extracted
// text on its metadata.
func ShouldEnqueueSummarize(c *store.Content) bool {
	if c.ContentType != store.TypeArticle && c.ContentType != store.TypeNews {
		return false
	}
	if c.Status != store.ContentProcessing {
		return false
	}
	flat := metadata.FlatView(c.Metadata)
	text, _ := flat[contentToSummarizeKey].(string)
	return strings.TrimSpace(text) != ""
}

// NextTaskType returns the pipeline stage that follows content processing
// for the item's type, or "" when the type has no downstream stage.
func NextTaskType(c *store.Content) store.TaskType {
	switch c.ContentType {
	case store.TypeArticle, store.TypeNews:
		return store.TaskSummarize
	case store.TypePodcast:
		return store.TaskDownloadAudio
	default:
		return ""
	}
}
