package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PageStorage implements the PageStorage interface for Badger
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{
		db:     db,
		logger: logger,
	}
}

func (s *PageStorage) CreatePage(ctx context.Context, p *models.Page) error {
	if p.ID == "" {
		return fmt.Errorf("page ID is required")
	}
	if p.WebsiteID == "" || p.URL == "" {
		return fmt.Errorf("page website ID and URL are required")
	}

	// (WebsiteID, URL) is unique.
	if existing, _ := s.GetPageByURL(ctx, p.WebsiteID, p.URL); existing != nil {
		return fmt.Errorf("page already exists for %s", p.URL)
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.db.Store().Insert(p.ID, p); err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	return nil
}

func (s *PageStorage) CreatePages(ctx context.Context, pages []*models.Page) error {
	for _, p := range pages {
		if err := s.CreatePage(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPage inserts or replaces the row keyed by (WebsiteID, URL). The
// caller's field values win wholesale; use UpdatePage for partial updates.
func (s *PageStorage) UpsertPage(ctx context.Context, p *models.Page) error {
	if p.WebsiteID == "" || p.URL == "" {
		return fmt.Errorf("page website ID and URL are required")
	}

	now := time.Now()
	if existing, _ := s.GetPageByURL(ctx, p.WebsiteID, p.URL); existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == "" {
			return fmt.Errorf("page ID is required for new rows")
		}
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := s.db.Store().Upsert(p.ID, p); err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}
	return nil
}

func (s *PageStorage) UpsertPages(ctx context.Context, pages []*models.Page) error {
	for _, p := range pages {
		if err := s.UpsertPage(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, id string) (*models.Page, error) {
	var p models.Page
	if err := s.db.Store().Get(id, &p); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("page not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &p, nil
}

func (s *PageStorage) GetPageByURL(ctx context.Context, websiteID, url string) (*models.Page, error) {
	var pages []models.Page
	err := s.db.Store().Find(&pages, badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID").And("URL").Eq(url))
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page not found for URL: %s", url)
	}
	return &pages[0], nil
}

func (s *PageStorage) ListPages(ctx context.Context, websiteID string, opts *interfaces.PageListOptions) ([]*models.Page, error) {
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	var pages []models.Page
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return toPagePtrs(pages), nil
}

func (s *PageStorage) GetPagesByStatuses(ctx context.Context, websiteID string, statuses []models.PageStatus) ([]*models.Page, error) {
	in := make([]interface{}, len(statuses))
	for i, st := range statuses {
		in[i] = st
	}

	var pages []models.Page
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID").And("Status").In(in...)
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to get pages by statuses: %w", err)
	}
	return toPagePtrs(pages), nil
}

// GetPagesReadyForIndexing returns rows where status is ready_for_indexing,
// markdown is non-empty and no search file id is set, oldest updated first.
func (s *PageStorage) GetPagesReadyForIndexing(ctx context.Context, websiteID string, opts *interfaces.ReadyPagesOptions) ([]*models.Page, error) {
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID").
		And("Status").Eq(models.PageStatusReadyForIndexing).
		And("MarkdownContent").Ne("").
		And("SearchFileID").Eq("").
		SortBy("UpdatedAt")

	var pages []models.Page
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to get pages ready for indexing: %w", err)
	}
	return filterReadyPages(pages, opts), nil
}

func (s *PageStorage) GetPagesReadyForReIndexing(ctx context.Context, websiteID string, opts *interfaces.ReadyPagesOptions) ([]*models.Page, error) {
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID").
		And("Status").Eq(models.PageStatusReadyForReIndexing).
		And("MarkdownContent").Ne("").
		SortBy("UpdatedAt")

	var pages []models.Page
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to get pages ready for re-indexing: %w", err)
	}
	return filterReadyPages(pages, opts), nil
}

func (s *PageStorage) GetPagesReadyForDeletion(ctx context.Context, websiteID string, opts *interfaces.ReadyPagesOptions) ([]*models.Page, error) {
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID").
		And("Status").Eq(models.PageStatusReadyForDeletion).
		SortBy("UpdatedAt")

	var pages []models.Page
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to get pages ready for deletion: %w", err)
	}
	return filterReadyPages(pages, opts), nil
}

// UpdatePagesLastSeen refreshes LastSeen and resets MissingCount for every
// listed URL. Unknown URLs are skipped; the operation is safe to repeat.
func (s *PageStorage) UpdatePagesLastSeen(ctx context.Context, websiteID string, urls []string, ts time.Time) error {
	for _, url := range urls {
		p, err := s.GetPageByURL(ctx, websiteID, url)
		if err != nil {
			continue
		}
		p.LastSeen = &ts
		p.MissingCount = 0
		p.UpdatedAt = time.Now()
		if err := s.db.Store().Upsert(p.ID, p); err != nil {
			return fmt.Errorf("failed to update last seen for %s: %w", url, err)
		}
	}
	return nil
}

func (s *PageStorage) IncrementMissingCount(ctx context.Context, websiteID string, urls []string) error {
	for _, url := range urls {
		p, err := s.GetPageByURL(ctx, websiteID, url)
		if err != nil {
			continue
		}
		p.MissingCount++
		p.UpdatedAt = time.Now()
		if err := s.db.Store().Upsert(p.ID, p); err != nil {
			return fmt.Errorf("failed to increment missing count for %s: %w", url, err)
		}
	}
	return nil
}

func (s *PageStorage) GetPagesPastDeletionThreshold(ctx context.Context, websiteID string, threshold int) ([]*models.Page, error) {
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID").
		And("MissingCount").Ge(threshold).
		And("Status").Ne(models.PageStatusDeleted)

	var pages []models.Page
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to get pages past deletion threshold: %w", err)
	}
	return toPagePtrs(pages), nil
}

// MarkPagesDeleted transitions rows to deleted and clears their external
// store references. Rows stay in the table for audit.
func (s *PageStorage) MarkPagesDeleted(ctx context.Context, ids []string) error {
	for _, id := range ids {
		p, err := s.GetPage(ctx, id)
		if err != nil {
			continue
		}
		p.Status = models.PageStatusDeleted
		p.SearchFileID = ""
		p.SearchFileName = ""
		p.UpdatedAt = time.Now()
		if err := s.db.Store().Upsert(p.ID, p); err != nil {
			return fmt.Errorf("failed to mark page deleted %s: %w", id, err)
		}
	}
	return nil
}

func (s *PageStorage) UpdatePage(ctx context.Context, id string, patch *interfaces.PagePatch) (*models.Page, error) {
	p, err := s.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch != nil {
		applyPagePatch(p, patch)
	}
	p.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(p.ID, p); err != nil {
		return nil, fmt.Errorf("failed to update page %s: %w", id, err)
	}
	return p, nil
}

func applyPagePatch(p *models.Page, patch *interfaces.PagePatch) {
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.ContentHash != nil {
		p.ContentHash = *patch.ContentHash
	}
	if patch.MarkdownContent != nil {
		p.MarkdownContent = *patch.MarkdownContent
	}
	if patch.HTTPStatus != nil {
		p.HTTPStatus = *patch.HTTPStatus
	}
	if patch.Metadata != nil {
		p.Metadata = *patch.Metadata
	}
	if patch.CrawlScrapeCount != nil {
		p.CrawlScrapeCount = *patch.CrawlScrapeCount
	}
	if patch.MissingCount != nil {
		p.MissingCount = *patch.MissingCount
	}
	if patch.LastScraped != nil {
		ts := *patch.LastScraped
		p.LastScraped = &ts
	}
	if patch.LastSeen != nil {
		ts := *patch.LastSeen
		p.LastSeen = &ts
	}
	if patch.SearchFileID != nil {
		p.SearchFileID = *patch.SearchFileID
	}
	if patch.SearchFileName != nil {
		p.SearchFileName = *patch.SearchFileName
	}
	if patch.LastUpdatedBySyncID != nil {
		p.LastUpdatedBySyncID = *patch.LastUpdatedBySyncID
	}
	if patch.CrawlBatchID != nil {
		p.CrawlBatchID = *patch.CrawlBatchID
	}
	if patch.ErrorMessage != nil {
		p.ErrorMessage = *patch.ErrorMessage
	}
}

// filterReadyPages applies the optional job-lineage scope and limit after the
// indexed query. Lineage matches when any of the page's job references equals
// the requested job id.
func filterReadyPages(pages []models.Page, opts *interfaces.ReadyPagesOptions) []*models.Page {
	result := make([]*models.Page, 0, len(pages))
	for i := range pages {
		p := &pages[i]
		if opts != nil && opts.JobID != "" {
			if p.CreatedByIngestionID != opts.JobID &&
				p.CreatedBySyncID != opts.JobID &&
				p.LastUpdatedBySyncID != opts.JobID {
				continue
			}
		}
		result = append(result, p)
		if opts != nil && opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result
}

func toPagePtrs(pages []models.Page) []*models.Page {
	result := make([]*models.Page, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result
}
