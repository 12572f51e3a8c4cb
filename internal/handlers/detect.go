package handlers

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/willemave/news-app-sub001/internal/store"
)

// Pattern-based URL detection: the fast path for well-known platforms.
// Unknown hosts fall through to the LLM classification flow.

var tweetPathRe = regexp.MustCompile(`^/[^/]+/status/\d+`)

// isTweetURL matches twitter.com/x.com status links.
func isTweetURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "twitter.com" && host != "x.com" {
		return false
	}
	return tweetPathRe.MatchString(u.Path)
}

// detectByPattern classifies a URL by host patterns. ok is false for hosts
// the pattern table does not know.
func detectByPattern(rawURL string) (ct store.ContentType, platform string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return store.TypeUnknown, "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.ToLower(u.Path)

	switch {
	case host == "podcasts.apple.com":
		return store.TypePodcast, "apple_podcasts", true
	case host == "open.spotify.com" && (strings.HasPrefix(path, "/show") || strings.HasPrefix(path, "/episode")):
		return store.TypePodcast, "spotify", true
	case strings.HasSuffix(path, ".mp3") || strings.HasSuffix(path, ".m4a"):
		return store.TypePodcast, "", true
	case host == "news.ycombinator.com":
		return store.TypeNews, "hackernews", true
	case host == "reddit.com" || host == "old.reddit.com":
		return store.TypeNews, "reddit", true
	case host == "substack.com" || strings.HasSuffix(host, ".substack.com"):
		return store.TypeArticle, "substack", true
	case host == "medium.com" || strings.HasSuffix(host, ".medium.com"):
		return store.TypeArticle, "medium", true
	case host == "youtube.com" || host == "youtu.be":
		return store.TypePodcast, "youtube", true
	default:
		return store.TypeUnknown, "", false
	}
}

var feedLinkRe = regexp.MustCompile(
	`(?is)<link[^>]+type=["'](?:application/(?:rss|atom)\+xml)["'][^>]*>`)

var hrefRe = regexp.MustCompile(`(?is)href=["']([^"']+)["']`)

// detectFeedLinks extracts RSS/Atom alternate links from an HTML page,
// resolved against the page URL.
func detectFeedLinks(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var feeds []string
	seen := map[string]bool{}
	for _, tag := range feedLinkRe.FindAllString(string(body), -1) {
		m := hrefRe.FindStringSubmatch(tag)
		if m == nil {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref).String()
		if !seen[resolved] {
			seen[resolved] = true
			feeds = append(feeds, resolved)
		}
	}
	return feeds
}
