package crawler

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/sitedex/internal/interfaces"
)

// boilerplateSelector matches page chrome stripped before conversion.
const boilerplateSelector = "script, style, noscript, nav, footer, aside, header, form, iframe"

// mainContentSelector matches the content root candidates, tried in order
// before falling back to body.
var mainContentSelectors = []string{"main", "article", "[role='main']", "#content", ".content"}

// ExtractedPage is the processed form of one fetched HTML document.
type ExtractedPage struct {
	Markdown string
	Title    string
	Metadata interfaces.ScrapeMetadata
	Links    []string
}

// ExtractPage parses HTML, strips boilerplate, converts the content root to
// markdown and collects metadata plus outbound links resolved against pageURL.
func ExtractPage(html, pageURL string, onlyMainContent bool) (*ExtractedPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %s: %w", pageURL, err)
	}

	page := &ExtractedPage{
		Title: extractTitle(doc),
		Metadata: interfaces.ScrapeMetadata{
			SourceURL: pageURL,
			Extra:     map[string]any{},
		},
	}
	page.Metadata.Title = page.Title

	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		page.Metadata.Description = strings.TrimSpace(desc)
	} else if ogDesc, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		page.Metadata.Description = strings.TrimSpace(ogDesc)
	}
	if ogImage, ok := doc.Find("meta[property='og:image']").Attr("content"); ok {
		page.Metadata.OGImage = strings.TrimSpace(ogImage)
	}
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		page.Metadata.Language = strings.TrimSpace(lang)
	}
	if canonical, ok := doc.Find("link[rel='canonical']").Attr("href"); ok {
		page.Metadata.Extra["canonical"] = strings.TrimSpace(canonical)
	}

	page.Links = extractLinks(doc, base)

	// Remove chrome before picking the content root.
	doc.Find(boilerplateSelector).Remove()

	content := doc.Selection
	if onlyMainContent {
		for _, selector := range mainContentSelectors {
			if candidate := doc.Find(selector).First(); candidate.Length() > 0 && strings.TrimSpace(candidate.Text()) != "" {
				content = candidate
				break
			}
		}
		if content == doc.Selection {
			if body := doc.Find("body").First(); body.Length() > 0 {
				content = body
			}
		}
	} else if body := doc.Find("body").First(); body.Length() > 0 {
		content = body
	}

	converter := md.NewConverter(base.Host, true, nil)
	page.Markdown = strings.TrimSpace(converter.Convert(content))

	return page, nil
}

// extractTitle prefers the title tag, then og:title, then the first h1.
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(ogTitle) != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

// extractLinks collects href targets resolved against the page URL. Mailto,
// javascript and fragment-only links are skipped; duplicates are collapsed.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		resolved.Fragment = ""
		resolved.RawFragment = ""

		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	return links
}
