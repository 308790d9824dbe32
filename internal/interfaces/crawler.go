package interfaces

import (
	"context"
	"time"
)

// BatchState is the crawler-reported state of a batch fetch.
type BatchState string

const (
	BatchStateScraping  BatchState = "scraping"
	BatchStateCompleted BatchState = "completed"
	BatchStateFailed    BatchState = "failed"
)

// MapOptions tunes URL discovery.
type MapOptions struct {
	Search            string
	IncludeSubdomains bool
	Limit             int // default 5000
	Timeout           time.Duration
}

// MapLink is one discovered URL. Title and Description are optional; crawlers
// that return bare strings leave them empty.
type MapLink struct {
	URL         string
	Title       string
	Description string
}

// MapResult is the outcome of a map call.
type MapResult struct {
	Links []MapLink
}

// ScrapeMetadata carries per-page metadata from the crawler. Extra preserves
// fields the core does not model.
type ScrapeMetadata struct {
	SourceURL   string
	StatusCode  int
	Title       string
	Description string
	OGImage     string
	Language    string
	Extra       map[string]any
}

// ScrapeResult is a single fetched page.
type ScrapeResult struct {
	URL      string
	Markdown string
	HTML     string
	Metadata ScrapeMetadata
}

// ScrapeOptions tunes a single or batch fetch.
type ScrapeOptions struct {
	Formats         []string // default ["markdown"]
	OnlyMainContent bool     // default true
	Timeout         time.Duration
}

// BatchStatus is a point-in-time view of a batch fetch.
type BatchStatus struct {
	Status    BatchState
	Completed int
	Total     int
	Data      []*ScrapeResult
	Error     string
}

// BatchWaitOptions controls polling in BatchWait.
type BatchWaitOptions struct {
	PollInterval time.Duration // default 5s
	MaxWait      time.Duration // default 10m; expiry is a failure
	OnProgress   func(completed, total int)
}

// Crawler is the web-crawling collaborator: URL discovery, single-URL fetch,
// and batch fetch with polling.
type Crawler interface {
	Map(ctx context.Context, seedURL string, opts *MapOptions) (*MapResult, error)
	Scrape(ctx context.Context, url string, opts *ScrapeOptions) (*ScrapeResult, error)
	BatchStart(ctx context.Context, urls []string, opts *ScrapeOptions) (string, error)
	BatchStatus(ctx context.Context, batchID string) (*BatchStatus, error)
	BatchWait(ctx context.Context, batchID string, opts *BatchWaitOptions) (*BatchStatus, error)
	BatchCancel(ctx context.Context, batchID string) error
}
