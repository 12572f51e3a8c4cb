package handlers

import (
	"html"
	"regexp"
	"strings"
)

// Minimal HTML extraction for the process_content stage. Good enough to feed
// summarization; a dedicated readability service can replace it behind the
// same two functions.

var (
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	ogTitleRe = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']+)["']`)
	scriptRe  = regexp.MustCompile(`(?is)<(script|style|noscript|head)[^>]*>.*?</(script|style|noscript|head)>`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe   = regexp.MustCompile(`[ \t\r\f]+`)
	blankRe   = regexp.MustCompile(`\n{3,}`)
)

// extractTitle prefers og:title over the document title.
func extractTitle(body []byte) string {
	if m := ogTitleRe.FindSubmatch(body); m != nil {
		return strings.TrimSpace(html.UnescapeString(string(m[1])))
	}
	if m := titleRe.FindSubmatch(body); m != nil {
		return strings.TrimSpace(html.UnescapeString(string(m[1])))
	}
	return ""
}

// extractText strips markup and collapses whitespace into readable plain
// text.
func extractText(body []byte) string {
	cleaned := scriptRe.ReplaceAll(body, nil)
	cleaned = tagRe.ReplaceAll(cleaned, []byte("\n"))
	text := html.UnescapeString(string(cleaned))
	text = spaceRe.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	text = strings.Join(lines, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
