package models

import "time"

// PageStatus is the page lifecycle state machine.
type PageStatus string

const (
	// PageStatusPending marks a discovered URL that has not been fetched.
	// Only legacy rows carry it; new scrapes go straight to ready_for_indexing.
	PageStatusPending PageStatus = "pending"

	// PageStatusReadyForIndexing marks persisted markdown awaiting upload.
	PageStatusReadyForIndexing PageStatus = "ready_for_indexing"

	// PageStatusReadyForReIndexing marks changed markdown whose old external
	// document must be deleted before re-upload.
	PageStatusReadyForReIndexing PageStatus = "ready_for_re_indexing"

	// PageStatusReadyForDeletion marks a URL gone past the missing threshold;
	// the external document must be deleted.
	PageStatusReadyForDeletion PageStatus = "ready_for_deletion"

	// PageStatusProcessing is transient while the indexer uploads, and may
	// appear on legacy rows awaiting retry.
	PageStatusProcessing PageStatus = "processing"

	// PageStatusActive means the external document verified ACTIVE; queryable.
	PageStatusActive PageStatus = "active"

	// PageStatusDeleted means the external document was removed; the row is
	// retained for audit.
	PageStatusDeleted PageStatus = "deleted"

	// PageStatusRedirect marks a URL that resolves to a different page.
	PageStatusRedirect PageStatus = "redirect"

	// PageStatusError marks a persistent failure noted in ErrorMessage.
	PageStatusError PageStatus = "error"
)

// PageMetadata carries crawler-extracted page metadata. Unknown crawler
// fields are preserved in Extra.
type PageMetadata struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	OGImage     string         `json:"og_image,omitempty"`
	Language    string         `json:"language,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Page is one row per (website, URL). String fields use "" for SQL NULL;
// the storage layer enforces the (WebsiteID, URL) uniqueness contract.
type Page struct {
	ID        string `json:"id" badgerhold:"key"`
	WebsiteID string `json:"website_id" badgerhold:"index"`
	URL       string `json:"url"`
	Path      string `json:"path"`
	Title     string `json:"title,omitempty"`

	Status          PageStatus   `json:"status" badgerhold:"index"`
	ContentHash     string       `json:"content_hash,omitempty"`
	MarkdownContent string       `json:"markdown_content,omitempty"`
	HTTPStatus      int          `json:"http_status,omitempty"`
	Metadata        PageMetadata `json:"metadata"`

	CrawlScrapeCount int `json:"firecrawl_scrape_count"`
	MissingCount     int `json:"missing_count"`

	LastScraped *time.Time `json:"last_scraped,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`

	SearchFileID   string `json:"search_file_id,omitempty"`
	SearchFileName string `json:"search_file_name,omitempty"`

	// Lineage: the jobs and fetch batch that produced the row's current state.
	CreatedByIngestionID string `json:"created_by_ingestion_id,omitempty"`
	CreatedBySyncID      string `json:"created_by_sync_id,omitempty"`
	LastUpdatedBySyncID  string `json:"last_updated_by_sync_id,omitempty"`
	CrawlBatchID         string `json:"firecrawl_batch_id,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadyForUpload reports whether the page sits in a state the indexer's
// upload pass consumes.
func (p *Page) ReadyForUpload() bool {
	return p.Status == PageStatusReadyForIndexing || p.Status == PageStatusReadyForReIndexing
}
