package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
	"github.com/ternarybob/sitedex/internal/services/searchstore"
)

// indexRun accumulates the shared state of one indexing run across the
// concurrent upload workers.
type indexRun struct {
	mu             sync.Mutex
	job            *models.ProcessJob
	documentStates map[string]string
	pagesIndexed   int
}

func (r *indexRun) appendError(url, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.AppendError(url, msg)
}

func (r *indexRun) recordState(pageID string, state interfaces.DocumentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documentStates[pageID] = string(state)
}

func (r *indexRun) incrementIndexed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pagesIndexed++
}

// Index uploads ready pages to the search store and reconciles deletions.
// Work selection is capped per run and scoped to the parent job's lineage
// when one is given; leftovers are picked up by the next run.
func (e *Engine) Index(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	if opts.WebsiteID == "" {
		return nil, fmt.Errorf("website id is required")
	}
	website, err := e.storage.WebsiteStorage().GetWebsite(ctx, opts.WebsiteID)
	if err != nil {
		return nil, err
	}

	parentJobID := opts.SyncJobID
	if parentJobID == "" {
		parentJobID = opts.IngestionJobID
	}

	job := &models.ProcessJob{
		ID:          common.NewJobID(),
		WebsiteID:   website.ID,
		ProcessType: models.ProcessTypeIndexing,
		Metadata:    map[string]any{models.MetaDocumentStates: map[string]string{}},
	}
	if opts.IngestionJobID != "" {
		job.Metadata[models.MetaIngestionJobID] = opts.IngestionJobID
	}
	if opts.SyncJobID != "" {
		job.Metadata[models.MetaSyncJobID] = opts.SyncJobID
	}
	if err := e.storage.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create indexing job: %w", err)
	}

	// Store presence.
	if website.SearchStoreID == "" {
		if !opts.AutoCreateStore {
			e.failJob(ctx, job, fmt.Sprintf("website %s has no search store", website.BaseDomain))
			return nil, fmt.Errorf("website %s has no search store", website.BaseDomain)
		}
		store, storeErr := e.search.CreateStore(ctx, storeDisplayName(website.BaseDomain, time.Now()))
		if storeErr != nil {
			e.failJob(ctx, job, fmt.Sprintf("failed to create search store: %v", storeErr))
			return nil, fmt.Errorf("failed to create search store: %w", storeErr)
		}
		website.SearchStoreID = store.ID
		website.SearchStoreName = store.DisplayName
		if err := e.storage.WebsiteStorage().UpdateWebsite(ctx, website); err != nil {
			e.failJob(ctx, job, fmt.Sprintf("failed to persist search store id: %v", err))
			return nil, fmt.Errorf("failed to persist search store id: %w", err)
		}
	}

	// Work selection.
	readyOpts := &interfaces.ReadyPagesOptions{JobID: parentJobID, Limit: e.config.IndexPageCap}
	pageStore := e.storage.PageStorage()

	toIndex, err := pageStore.GetPagesReadyForIndexing(ctx, website.ID, readyOpts)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("work selection failed: %v", err))
		return nil, err
	}
	toReIndex, err := pageStore.GetPagesReadyForReIndexing(ctx, website.ID, readyOpts)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("work selection failed: %v", err))
		return nil, err
	}
	toDelete, err := pageStore.GetPagesReadyForDeletion(ctx, website.ID, readyOpts)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("work selection failed: %v", err))
		return nil, err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("website_id", website.ID).
		Int("to_index", len(toIndex)).
		Int("to_reindex", len(toReIndex)).
		Int("to_delete", len(toDelete)).
		Msg("Indexing started")

	run := &indexRun{job: job, documentStates: map[string]string{}}

	// Deletion pass: external documents first, then the logical row marker.
	deleted := 0
	for _, page := range toDelete {
		if page.SearchFileID != "" {
			if delErr := e.search.DeleteDocument(ctx, page.SearchFileID); delErr != nil {
				run.appendError(page.URL, fmt.Sprintf("failed to delete store document: %v", delErr))
				continue
			}
		}
		if markErr := pageStore.MarkPagesDeleted(ctx, []string{page.ID}); markErr != nil {
			run.appendError(page.URL, fmt.Sprintf("failed to mark page deleted: %v", markErr))
			continue
		}
		deleted++
	}

	// Upload pass: client-side batches of concurrent per-document uploads.
	uploads := append(append([]*models.Page{}, toIndex...), toReIndex...)
	concurrency := e.config.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	for start := 0; start < len(uploads); start += concurrency {
		end := start + concurrency
		if end > len(uploads) {
			end = len(uploads)
		}

		var wg sync.WaitGroup
		for _, page := range uploads[start:end] {
			wg.Add(1)
			go func(page *models.Page) {
				defer wg.Done()
				e.uploadPage(ctx, run, website, page)
			}(page)
		}
		wg.Wait()

		if end < len(uploads) {
			select {
			case <-ctx.Done():
				e.failJob(ctx, job, fmt.Sprintf("indexing cancelled: %v", ctx.Err()))
				return nil, ctx.Err()
			case <-time.After(e.config.InterBatchPause):
			}
		}
	}

	// Finalize with the per-state counts derived from documentStates.
	activeCount, processingCount, failedCount := 0, 0, 0
	for _, state := range run.documentStates {
		switch interfaces.DocumentState(state) {
		case interfaces.DocumentStateActive:
			activeCount++
		case interfaces.DocumentStateFailed:
			failedCount++
		default:
			processingCount++
		}
	}
	job.Metadata[models.MetaDocumentStates] = run.documentStates
	job.Metadata[models.MetaActiveCount] = activeCount
	job.Metadata[models.MetaProcessingCount] = processingCount
	job.Metadata[models.MetaFailedCount] = failedCount
	job.URLsUpdated = run.pagesIndexed
	job.URLsDeleted = deleted

	if err := e.completeJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to finalize indexing job: %w", err)
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Int("indexed", run.pagesIndexed).
		Int("deleted", deleted).
		Int("errors", len(job.Errors)).
		Msg("Indexing completed")

	return &IndexResult{
		IndexingJobID: job.ID,
		WebsiteID:     website.ID,
		PagesIndexed:  run.pagesIndexed,
		Errors:        job.Errors,
	}, nil
}

// uploadPage drives one page through delete-then-upload and verification.
// Failure leaves the row in its ready-state so the next run retries.
func (e *Engine) uploadPage(ctx context.Context, run *indexRun, website *models.Website, page *models.Page) {
	pageStore := e.storage.PageStorage()

	// Re-indexed pages shed the old document first; the reference is cleared
	// immediately so a crash never leaves a dangling id.
	if page.Status == models.PageStatusReadyForReIndexing && page.SearchFileID != "" {
		if err := e.search.DeleteDocument(ctx, page.SearchFileID); err != nil {
			run.appendError(page.URL, fmt.Sprintf("failed to delete old store document: %v", err))
			return
		}
		empty := ""
		if _, err := pageStore.UpdatePage(ctx, page.ID, &interfaces.PagePatch{SearchFileID: &empty, SearchFileName: &empty}); err != nil {
			run.appendError(page.URL, fmt.Sprintf("failed to clear old store reference: %v", err))
			return
		}
		page.SearchFileID = ""
		page.SearchFileName = ""
	}

	meta := interfaces.DocumentMetadata{
		URL:         page.URL,
		Title:       page.Title,
		Path:        page.Path,
		LastUpdated: time.Now(),
	}

	doc, err := e.search.Upload(ctx, website.SearchStoreID, page.MarkdownContent, meta)
	if err != nil && searchstore.IsRateLimitError(err) {
		select {
		case <-ctx.Done():
			run.appendError(page.URL, fmt.Sprintf("upload cancelled: %v", ctx.Err()))
			return
		case <-time.After(e.config.UploadRetryBackoff):
		}
		doc, err = e.search.Upload(ctx, website.SearchStoreID, page.MarkdownContent, meta)
	}
	if err != nil {
		run.appendError(page.URL, fmt.Sprintf("upload failed: %v", err))
		run.recordState(page.ID, interfaces.DocumentStateFailed)
		errMsg := err.Error()
		empty := ""
		if _, patchErr := pageStore.UpdatePage(ctx, page.ID, &interfaces.PagePatch{
			SearchFileID:   &empty,
			SearchFileName: &empty,
			ErrorMessage:   &errMsg,
		}); patchErr != nil {
			e.logger.Warn().Str("page_id", page.ID).Err(patchErr).Msg("Failed to record upload error")
		}
		return
	}

	// The search service propagates document state asynchronously; verify
	// after the configured delay.
	select {
	case <-ctx.Done():
		run.recordState(page.ID, interfaces.DocumentStateProcessing)
		return
	case <-time.After(e.config.VerifyDelay):
	}

	verified, err := e.search.GetDocument(ctx, doc.Name)
	if err != nil {
		// Not-found or transient verification errors mean the document may
		// still be initializing; the next run re-checks.
		if !errors.Is(err, interfaces.ErrDocumentNotFound) {
			e.logger.Debug().Str("page_id", page.ID).Err(err).Msg("Verification deferred")
		}
		run.recordState(page.ID, interfaces.DocumentStateProcessing)
		return
	}

	switch interfaces.ParseDocumentState(verified.State) {
	case interfaces.DocumentStateActive:
		now := time.Now()
		status := models.PageStatusActive
		empty := ""
		if _, patchErr := pageStore.UpdatePage(ctx, page.ID, &interfaces.PagePatch{
			Status:         &status,
			SearchFileID:   &verified.Name,
			SearchFileName: &verified.DisplayName,
			LastScraped:    &now,
			ErrorMessage:   &empty,
		}); patchErr != nil {
			run.appendError(page.URL, fmt.Sprintf("failed to activate page: %v", patchErr))
			return
		}
		run.recordState(page.ID, interfaces.DocumentStateActive)
		run.incrementIndexed()

	case interfaces.DocumentStateFailed:
		if delErr := e.search.DeleteDocument(ctx, doc.Name); delErr != nil {
			e.logger.Warn().Str("page_id", page.ID).Err(delErr).Msg("Failed to delete failed document")
		}
		errMsg := "store document failed verification"
		empty := ""
		if _, patchErr := pageStore.UpdatePage(ctx, page.ID, &interfaces.PagePatch{
			SearchFileID:   &empty,
			SearchFileName: &empty,
			ErrorMessage:   &errMsg,
		}); patchErr != nil {
			e.logger.Warn().Str("page_id", page.ID).Err(patchErr).Msg("Failed to record verification failure")
		}
		run.appendError(page.URL, errMsg)
		run.recordState(page.ID, interfaces.DocumentStateFailed)

	default:
		// Still processing: keep the document, leave the row unchanged.
		run.recordState(page.ID, interfaces.DocumentStateProcessing)
	}
}
