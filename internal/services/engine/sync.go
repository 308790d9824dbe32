package engine

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/content"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
)

// Sync reconciles a website's stored pages with the site's current URL set:
// new pages are fetched and staged for indexing, changed pages are staged for
// re-indexing, pages missing from consecutive syncs accumulate toward
// threshold deletion. Indexing is fired as a background task on completion.
func (e *Engine) Sync(ctx context.Context, websiteID string) (*SyncResult, error) {
	website, err := e.storage.WebsiteStorage().GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, err
	}

	pages, err := e.storage.PageStorage().ListPages(ctx, websiteID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("website %s has no pages; run ingestion first", website.BaseDomain)
	}
	if website.SearchStoreID == "" {
		return nil, fmt.Errorf("website %s has no search store; run ingestion first", website.BaseDomain)
	}

	job := &models.ProcessJob{
		ID:          common.NewJobID(),
		WebsiteID:   website.ID,
		ProcessType: models.ProcessTypeSync,
	}
	if err := e.storage.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("base_domain", website.BaseDomain).
		Int("stored_pages", len(pages)).
		Msg("Sync started")

	// Phase 0: self-healing retry of stuck pages.
	e.retryStuckPages(ctx, job, website)

	// Phase 1: categorization against the freshly mapped URL set.
	mapResult, err := e.crawler.Map(ctx, website.SeedURL, nil)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("URL discovery failed: %v", err))
		return nil, fmt.Errorf("URL discovery failed: %w", err)
	}
	mapped := e.scopeMappedURLs(mapResult, website.BaseDomain)
	job.URLsDiscovered = len(mapped)

	newURLs, existingURLs, missingURLs, err := e.categorize(ctx, website, mapped)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("categorization failed: %v", err))
		return nil, err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Int("new", len(newURLs)).
		Int("existing", len(existingURLs)).
		Int("missing", len(missingURLs)).
		Msg("Sync diff computed")

	updated := 0

	if len(newURLs) > 0 {
		written, fetchErr := e.fetchAndPersist(ctx, job, website, newURLs)
		if fetchErr != nil {
			e.failJob(ctx, job, fmt.Sprintf("fetch of new URLs failed: %v", fetchErr))
			return nil, fetchErr
		}
		updated += written
	}

	changed, checkErr := e.checkExistingPages(ctx, job, website, existingURLs)
	if checkErr != nil {
		e.failJob(ctx, job, fmt.Sprintf("change detection failed: %v", checkErr))
		return nil, checkErr
	}
	updated += changed

	// Every URL the map saw was present this run, whether or not it was
	// individually fetched.
	if len(existingURLs) > 0 {
		if err := e.storage.PageStorage().UpdatePagesLastSeen(ctx, website.ID, existingURLs, time.Now()); err != nil {
			e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to refresh last seen")
		}
	}

	if len(missingURLs) > 0 {
		if err := e.storage.PageStorage().IncrementMissingCount(ctx, website.ID, missingURLs); err != nil {
			e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to increment missing counts")
		}
	}

	// Phase 2: threshold-based deletion staging. The external delete happens
	// on the next indexing pass.
	deleted := 0
	pastThreshold, err := e.storage.PageStorage().GetPagesPastDeletionThreshold(ctx, website.ID, e.config.DeletionThreshold)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("deletion threshold query failed: %v", err))
		return nil, err
	}
	for _, page := range pastThreshold {
		// Stamping this sync's id keeps the staged row inside the lineage scope
		// of the indexing run this sync triggers.
		status := models.PageStatusReadyForDeletion
		if _, patchErr := e.storage.PageStorage().UpdatePage(ctx, page.ID, &interfaces.PagePatch{
			Status:              &status,
			LastUpdatedBySyncID: &job.ID,
		}); patchErr != nil {
			job.AppendError(page.URL, fmt.Sprintf("failed to stage deletion: %v", patchErr))
			continue
		}
		deleted++
	}

	// Phase 3: finalize and trigger indexing in the background.
	job.URLsUpdated = updated
	job.URLsDeleted = deleted
	if err := e.completeJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to finalize sync job: %w", err)
	}
	now := time.Now()
	website.LastFullCrawl = &now
	if err := e.storage.WebsiteStorage().UpdateWebsite(ctx, website); err != nil {
		e.logger.Warn().Str("website_id", website.ID).Err(err).Msg("Failed to update last full crawl")
	}

	e.triggerIndexing(website.ID, job.ID)

	e.logger.Info().
		Str("job_id", job.ID).
		Int("updated", updated).
		Int("staged_deletions", deleted).
		Int("errors", len(job.Errors)).
		Msg("Sync completed")

	return &SyncResult{
		SyncJobID:      job.ID,
		URLsDiscovered: len(mapped),
		URLsUpdated:    updated,
		URLsDeleted:    deleted,
		URLsErrored:    job.URLsErrored,
		Errors:         job.Errors,
	}, nil
}

// triggerIndexing fires indexing for a completed sync without awaiting it.
// Indexing failures never propagate into the sync job's status.
func (e *Engine) triggerIndexing(websiteID, syncJobID string) {
	common.SafeGo(e.logger, "post-sync-indexing-"+syncJobID, func() {
		if _, err := e.Index(context.Background(), IndexOptions{
			WebsiteID:       websiteID,
			SyncJobID:       syncJobID,
			AutoCreateStore: true,
		}); err != nil {
			e.logger.Warn().
				Str("sync_job_id", syncJobID).
				Err(err).
				Msg("Background indexing after sync failed")
		}
	})
}

// retryStuckPages gives pages stranded in pending/processing/error another
// chance: rows that already hold content go back through the indexer, rows
// without content are re-fetched.
func (e *Engine) retryStuckPages(ctx context.Context, job *models.ProcessJob, website *models.Website) {
	stuck, err := e.storage.PageStorage().GetPagesByStatuses(ctx, website.ID, []models.PageStatus{
		models.PageStatusPending,
		models.PageStatusProcessing,
		models.PageStatusError,
	})
	if err != nil {
		e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Stuck-page query failed")
		return
	}
	if len(stuck) == 0 {
		return
	}

	var refetch []string
	for _, page := range stuck {
		if page.MarkdownContent != "" && page.ContentHash != "" {
			// Requeue into a state the indexer actually selects, under this
			// sync's lineage so the post-sync indexing run sees the row.
			status := models.PageStatusReadyForIndexing
			if page.SearchFileID != "" {
				status = models.PageStatusReadyForReIndexing
			}
			if _, patchErr := e.storage.PageStorage().UpdatePage(ctx, page.ID, &interfaces.PagePatch{
				Status:              &status,
				LastUpdatedBySyncID: &job.ID,
			}); patchErr != nil {
				job.AppendError(page.URL, fmt.Sprintf("failed to requeue page: %v", patchErr))
			}
			continue
		}
		refetch = append(refetch, page.URL)
	}

	if len(refetch) == 0 {
		return
	}
	e.logger.Info().Str("job_id", job.ID).Int("refetch", len(refetch)).Msg("Re-fetching stuck pages")
	if _, err := e.fetchAndPersist(ctx, job, website, refetch); err != nil {
		e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Stuck-page refetch failed")
	}
}

// categorize partitions the mapped URL set against the stored non-deleted
// page set into new, existing and missing.
func (e *Engine) categorize(ctx context.Context, website *models.Website, mapped []string) (newURLs, existingURLs, missingURLs []string, err error) {
	stored, err := e.storage.PageStorage().ListPages(ctx, website.ID, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load pages: %w", err)
	}

	storedByURL := make(map[string]struct{}, len(stored))
	for _, page := range stored {
		if page.Status == models.PageStatusDeleted {
			continue
		}
		storedByURL[page.URL] = struct{}{}
	}

	mappedSet := make(map[string]struct{}, len(mapped))
	for _, url := range mapped {
		mappedSet[url] = struct{}{}
		if _, ok := storedByURL[url]; ok {
			existingURLs = append(existingURLs, url)
		} else {
			newURLs = append(newURLs, url)
		}
	}
	for url := range storedByURL {
		if _, ok := mappedSet[url]; !ok {
			missingURLs = append(missingURLs, url)
		}
	}
	return newURLs, existingURLs, missingURLs, nil
}

// fetchAndPersist batch-fetches URLs and persists complete results as
// ready_for_indexing rows with this sync's lineage.
func (e *Engine) fetchAndPersist(ctx context.Context, job *models.ProcessJob, website *models.Website, urls []string) (int, error) {
	batchID, err := e.crawler.BatchStart(ctx, urls, nil)
	if err != nil {
		return 0, fmt.Errorf("batch fetch failed to start: %w", err)
	}
	job.CrawlBatchIDs = append(job.CrawlBatchIDs, batchID)
	if err := e.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		return 0, fmt.Errorf("failed to persist batch id: %w", err)
	}

	status, err := e.waitForBatch(ctx, job, batchID)
	if err != nil {
		return 0, fmt.Errorf("batch fetch did not complete: %w", err)
	}
	if status.Status == interfaces.BatchStateFailed {
		return 0, fmt.Errorf("batch fetch failed: %s", status.Error)
	}

	return e.persistScrapeResults(ctx, job, website, status.Data, pageLineage{
		syncJobID: job.ID,
		batchID:   batchID,
	}), nil
}

// checkExistingPages re-fetches the currently active pages among the existing
// URLs and stages changed content for re-indexing. Returns the number of
// changed pages.
func (e *Engine) checkExistingPages(ctx context.Context, job *models.ProcessJob, website *models.Website, existingURLs []string) (int, error) {
	pageStore := e.storage.PageStorage()

	var activeURLs []string
	for _, url := range existingURLs {
		page, err := pageStore.GetPageByURL(ctx, website.ID, url)
		if err != nil {
			continue
		}
		if page.Status == models.PageStatusActive {
			activeURLs = append(activeURLs, url)
		}
	}
	if len(activeURLs) == 0 {
		return 0, nil
	}

	batchID, err := e.crawler.BatchStart(ctx, activeURLs, nil)
	if err != nil {
		return 0, fmt.Errorf("batch fetch failed to start: %w", err)
	}
	job.CrawlBatchIDs = append(job.CrawlBatchIDs, batchID)
	if err := e.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		return 0, fmt.Errorf("failed to persist batch id: %w", err)
	}

	status, err := e.waitForBatch(ctx, job, batchID)
	if err != nil {
		return 0, fmt.Errorf("batch fetch did not complete: %w", err)
	}
	if status.Status == interfaces.BatchStateFailed {
		return 0, fmt.Errorf("batch fetch failed: %s", status.Error)
	}

	changed := 0
	now := time.Now()

	for _, result := range status.Data {
		page, err := pageStore.GetPageByURL(ctx, website.ID, result.URL)
		if err != nil {
			continue
		}

		httpStatus := result.Metadata.StatusCode

		// Gone responses count toward the deletion threshold; content stays.
		if httpStatus == http.StatusNotFound || httpStatus == http.StatusGone {
			if incErr := pageStore.IncrementMissingCount(ctx, website.ID, []string{page.URL}); incErr != nil {
				job.AppendError(page.URL, fmt.Sprintf("failed to increment missing count: %v", incErr))
			}
			continue
		}

		// Reachable but empty: the URL exists, so the page is not missing.
		if strings.TrimSpace(result.Markdown) == "" {
			if seenErr := pageStore.UpdatePagesLastSeen(ctx, website.ID, []string{page.URL}, now); seenErr != nil {
				job.AppendError(page.URL, fmt.Sprintf("failed to refresh last seen: %v", seenErr))
			}
			continue
		}

		newHash, isChanged := content.Changed(result.Markdown, page.ContentHash)
		scrapeCount := page.CrawlScrapeCount + 1

		if !isChanged {
			patch := &interfaces.PagePatch{
				LastScraped:      &now,
				LastSeen:         &now,
				CrawlScrapeCount: &scrapeCount,
				HTTPStatus:       &httpStatus,
			}
			if _, patchErr := pageStore.UpdatePage(ctx, page.ID, patch); patchErr != nil {
				job.AppendError(page.URL, fmt.Sprintf("failed to refresh page: %v", patchErr))
			}
			continue
		}

		// Changed content keeps its store references; the indexer deletes the
		// old document before re-uploading.
		reIndex := models.PageStatusReadyForReIndexing
		meta := toPageMetadata(result.Metadata)
		patch := &interfaces.PagePatch{
			Status:              &reIndex,
			MarkdownContent:     &result.Markdown,
			ContentHash:         &newHash,
			Metadata:            &meta,
			HTTPStatus:          &httpStatus,
			LastScraped:         &now,
			LastSeen:            &now,
			CrawlScrapeCount:    &scrapeCount,
			LastUpdatedBySyncID: &job.ID,
		}
		if _, patchErr := pageStore.UpdatePage(ctx, page.ID, patch); patchErr != nil {
			job.AppendError(page.URL, fmt.Sprintf("failed to stage re-index: %v", patchErr))
			continue
		}
		changed++
	}

	return changed, nil
}
