package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/sitedex/internal/models"
)

// PageListOptions filters ListPages.
type PageListOptions struct {
	Status models.PageStatus
	Limit  int
	Offset int
}

// ReadyPagesOptions scopes indexing work selection. JobID, when set, limits
// rows to those whose lineage ties to that ingestion or sync job.
type ReadyPagesOptions struct {
	JobID string
	Limit int
}

// PagePatch is a partial page update. Nil fields are left untouched; pointer
// fields holding the zero value clear the column.
type PagePatch struct {
	Title               *string
	Status              *models.PageStatus
	ContentHash         *string
	MarkdownContent     *string
	HTTPStatus          *int
	Metadata            *models.PageMetadata
	CrawlScrapeCount    *int
	MissingCount        *int
	LastScraped         *time.Time
	LastSeen            *time.Time
	SearchFileID        *string
	SearchFileName      *string
	LastUpdatedBySyncID *string
	CrawlBatchID        *string
	ErrorMessage        *string
}

// WebsiteStorage is typed CRUD over websites.
type WebsiteStorage interface {
	CreateWebsite(ctx context.Context, w *models.Website) error
	GetWebsite(ctx context.Context, id string) (*models.Website, error)
	GetWebsiteByBaseDomain(ctx context.Context, baseDomain string) (*models.Website, error)
	UpdateWebsite(ctx context.Context, w *models.Website) error
	ListWebsites(ctx context.Context) ([]*models.Website, error)
	SoftDeleteWebsite(ctx context.Context, id string) error
}

// PageStorage is typed CRUD over pages plus the specialized reconciliation
// queries. Upserts are atomic per (WebsiteID, URL) row.
type PageStorage interface {
	CreatePage(ctx context.Context, p *models.Page) error
	CreatePages(ctx context.Context, pages []*models.Page) error
	UpsertPage(ctx context.Context, p *models.Page) error
	UpsertPages(ctx context.Context, pages []*models.Page) error
	GetPage(ctx context.Context, id string) (*models.Page, error)
	GetPageByURL(ctx context.Context, websiteID, url string) (*models.Page, error)
	ListPages(ctx context.Context, websiteID string, opts *PageListOptions) ([]*models.Page, error)
	GetPagesByStatuses(ctx context.Context, websiteID string, statuses []models.PageStatus) ([]*models.Page, error)

	// GetPagesReadyForIndexing returns ready_for_indexing rows with non-empty
	// markdown and no search file id, oldest updated first.
	GetPagesReadyForIndexing(ctx context.Context, websiteID string, opts *ReadyPagesOptions) ([]*models.Page, error)
	GetPagesReadyForReIndexing(ctx context.Context, websiteID string, opts *ReadyPagesOptions) ([]*models.Page, error)
	GetPagesReadyForDeletion(ctx context.Context, websiteID string, opts *ReadyPagesOptions) ([]*models.Page, error)

	// UpdatePagesLastSeen refreshes LastSeen and resets MissingCount to zero
	// for every listed URL. Safe to repeat.
	UpdatePagesLastSeen(ctx context.Context, websiteID string, urls []string, ts time.Time) error
	IncrementMissingCount(ctx context.Context, websiteID string, urls []string) error
	GetPagesPastDeletionThreshold(ctx context.Context, websiteID string, threshold int) ([]*models.Page, error)
	MarkPagesDeleted(ctx context.Context, ids []string) error
	UpdatePage(ctx context.Context, id string, patch *PagePatch) (*models.Page, error)
}

// JobListOptions filters ListJobsByWebsite. Jobs are returned descending by
// start time.
type JobListOptions struct {
	ProcessType models.ProcessType
	Limit       int
}

// JobStorage is typed CRUD over process jobs.
type JobStorage interface {
	CreateJob(ctx context.Context, j *models.ProcessJob) error
	UpdateJob(ctx context.Context, j *models.ProcessJob) error
	GetJob(ctx context.Context, id string) (*models.ProcessJob, error)
	ListJobsByWebsite(ctx context.Context, websiteID string, opts *JobListOptions) ([]*models.ProcessJob, error)
}

// StorageManager aggregates the storages over a single connection.
type StorageManager interface {
	WebsiteStorage() WebsiteStorage
	PageStorage() PageStorage
	JobStorage() JobStorage
	Close() error
}
