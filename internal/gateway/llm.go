package gateway

import "context"

// ContentAnalysis is the classification a provider returns for a URL.
type ContentAnalysis struct {
	ContentType string   `json:"content_type"` // article, podcast, news, unknown
	Platform    string   `json:"platform,omitempty"`
	Title       string   `json:"title,omitempty"`
	Links       []string `json:"links,omitempty"` // discovered child URLs, fanout candidates
}

// SummaryRequest selects summarization parameters by content type.
type SummaryRequest struct {
	ContentID   int64
	ContentType string
	Title       string
	Text        string
}

// Summary is the provider's summarization payload, stored verbatim into the
// content metadata blob.
type Summary struct {
	Overview   string   `json:"overview"`
	Bullets    []string `json:"bullets,omitempty"`
	Model      string   `json:"model,omitempty"`
	InputChars int      `json:"input_chars,omitempty"`
}

// LLM is the provider surface the handlers consume. Rate-limit coordination
// with the provider lives behind this interface, not in the pipeline core.
type LLM interface {
	// AnalyzeURL classifies a URL, optionally steered by a free-form
	// instruction from the submitter.
	AnalyzeURL(ctx context.Context, url, instruction string) (*ContentAnalysis, error)

	// Summarize produces a summary payload, or nil when the provider
	// declines (too little source text).
	Summarize(ctx context.Context, req SummaryRequest) (*Summary, error)

	// DigDeeper answers a follow-up research question about already
	// summarized content.
	DigDeeper(ctx context.Context, topic, question string) (string, error)

	// DiscoverSources proposes seed URLs for a new user's interests.
	DiscoverSources(ctx context.Context, interests []string) ([]string, error)
}

// TerminalProviderError marks a non-retryable provider failure (missing
// credentials, disabled feature, rejected input).
type TerminalProviderError struct {
	Reason string
}

func (e *TerminalProviderError) Error() string { return "provider: " + e.Reason }
