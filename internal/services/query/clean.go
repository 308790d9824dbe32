package query

import (
	"regexp"
	"strings"

	"github.com/ternarybob/sitedex/internal/interfaces"
)

// Citation is one cited source of a grounded answer.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

const maxSnippetLength = 300

var (
	newlineRuns = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(`[ \t]{3,}`)
	urlToken    = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

// CleanAnswer normalizes whitespace in a model-generated answer: runs of
// three or more newlines collapse to two, runs of three or more spaces or
// tabs to one, and every line is trimmed.
func CleanAnswer(answer string) string {
	answer = newlineRuns.ReplaceAllString(answer, "\n\n")
	answer = spaceRuns.ReplaceAllString(answer, " ")
	lines := strings.Split(answer, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExtractCitations converts grounding chunks into citations, deduplicated by
// URL. Chunks without a URI fall back to the first URL token embedded in the
// cited text; chunks yielding no URL at all are dropped.
func ExtractCitations(chunks []interfaces.GroundingChunk) []Citation {
	seen := make(map[string]struct{})
	var citations []Citation

	for _, chunk := range chunks {
		url := chunk.URI
		if url == "" {
			url = urlToken.FindString(chunk.Text)
		}
		url = trimURLToken(url)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}

		snippet := strings.TrimSpace(chunk.Text)
		if len(snippet) > maxSnippetLength {
			snippet = snippet[:maxSnippetLength]
		}
		citations = append(citations, Citation{URL: url, Title: chunk.Title, Snippet: snippet})
	}
	return citations
}

// trimURLToken strips the fragment and any trailing punctuation a URL picked
// up from surrounding prose, e.g. "https://a.b/c)." -> "https://a.b/c".
func trimURLToken(url string) string {
	if idx := strings.Index(url, "#"); idx >= 0 {
		url = url[:idx]
	}
	return strings.TrimRight(url, ".,;:!?)]}'\"")
}
