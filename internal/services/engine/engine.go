package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/content"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
)

// Engine owns the pipeline jobs: ingestion, sync, indexing and ingestion
// recovery. All state flows through the page store; the crawler and search
// store are side-effect collaborators consulted between writes.
type Engine struct {
	storage  interfaces.StorageManager
	crawler  interfaces.Crawler
	search   interfaces.SearchStore
	config   *common.EngineConfig
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewEngine wires the job engine.
func NewEngine(storage interfaces.StorageManager, crawler interfaces.Crawler, search interfaces.SearchStore, config *common.EngineConfig, logger arbor.ILogger) *Engine {
	return &Engine{
		storage:  storage,
		crawler:  crawler,
		search:   search,
		config:   config,
		logger:   logger,
		validate: validator.New(),
	}
}

// IngestResult is the outcome of an ingestion run, or the reconstructed
// outcome of a prior run when the base domain was already ingested.
type IngestResult struct {
	WebsiteID       string            `json:"website_id"`
	BaseDomain      string            `json:"base_domain"`
	SearchStoreID   string            `json:"search_store_id"`
	PagesDiscovered int               `json:"pages_discovered"`
	PagesWritten    int               `json:"pages_written"`
	Errors          []models.JobError `json:"errors"`
	IngestionJobID  string            `json:"ingestion_job_id"`
}

// IndexOptions scopes an indexing run. When IngestionJobID or SyncJobID is
// set, work selection is limited to pages with that lineage; SyncJobID wins
// when both are present.
type IndexOptions struct {
	WebsiteID       string
	IngestionJobID  string
	SyncJobID       string
	AutoCreateStore bool
}

// IndexResult is the outcome of an indexing run.
type IndexResult struct {
	IndexingJobID string            `json:"indexing_job_id"`
	WebsiteID     string            `json:"website_id"`
	PagesIndexed  int               `json:"pages_indexed"`
	Errors        []models.JobError `json:"errors"`
}

// SyncResult is the outcome of a sync run.
type SyncResult struct {
	SyncJobID      string            `json:"sync_job_id"`
	URLsDiscovered int               `json:"urls_discovered"`
	URLsUpdated    int               `json:"urls_updated"`
	URLsDeleted    int               `json:"urls_deleted"`
	URLsErrored    int               `json:"urls_errored"`
	Errors         []models.JobError `json:"errors"`
}

// RecoveryStatus classifies the outcome of a recovery attempt.
type RecoveryStatus string

const (
	RecoveryStatusCompleted     RecoveryStatus = "completed"
	RecoveryStatusFailed        RecoveryStatus = "failed"
	RecoveryStatusStillRunning  RecoveryStatus = "still_running"
	RecoveryStatusCannotRecover RecoveryStatus = "cannot_recover"
)

// RecoveryResult is the outcome of RecoverIngestion.
type RecoveryResult struct {
	Recovered bool           `json:"recovered"`
	Status    RecoveryStatus `json:"status"`
	Result    *IngestResult  `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// storeDisplayName derives the search store display name for a base domain,
// e.g. "example.com" -> "website-example-com-1700000000000".
func storeDisplayName(baseDomain string, now time.Time) string {
	slug := strings.ReplaceAll(strings.ToLower(baseDomain), ".", "-")
	return fmt.Sprintf("website-%s-%d", slug, now.UnixMilli())
}

// failJob terminates a job as failed with an explanatory error entry. Every
// returning engine path must leave the job terminal.
func (e *Engine) failJob(ctx context.Context, job *models.ProcessJob, msg string) {
	job.AppendError("", msg)
	job.Status = models.JobStatusFailed
	now := time.Now()
	job.CompletedAt = &now
	if err := e.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		e.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to persist job failure")
	}
	e.logger.Warn().Str("job_id", job.ID).Str("reason", msg).Msg("Job failed")
}

// completeJob terminates a job as completed.
func (e *Engine) completeJob(ctx context.Context, job *models.ProcessJob) error {
	job.Status = models.JobStatusCompleted
	now := time.Now()
	job.CompletedAt = &now
	return e.storage.JobStorage().UpdateJob(ctx, job)
}

// waitForBatch polls a crawler batch to completion, writing job progress
// metadata on the configured cadence so UI polling stays informed.
func (e *Engine) waitForBatch(ctx context.Context, job *models.ProcessJob, batchID string) (*interfaces.BatchStatus, error) {
	var mu sync.Mutex
	lastWrite := time.Now()

	return e.crawler.BatchWait(ctx, batchID, &interfaces.BatchWaitOptions{
		PollInterval: e.config.BatchPollInterval,
		MaxWait:      e.config.BatchMaxWait,
		OnProgress: func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			if time.Since(lastWrite) < e.config.ProgressWriteInterval {
				return
			}
			lastWrite = time.Now()
			job.SetProgress(completed, total)
			if err := e.storage.JobStorage().UpdateJob(ctx, job); err != nil {
				e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Progress write failed")
			}
		},
	})
}

// pageLineage names the job references stamped onto rows written by a run.
type pageLineage struct {
	ingestionJobID string
	syncJobID      string
	batchID        string
}

// persistScrapeResults applies the complete-write rule to a batch of scrape
// results: a row is written only when the result carries a source URL and
// non-empty markdown; anything else lands in the job's error list. Returns
// the number of rows written.
func (e *Engine) persistScrapeResults(ctx context.Context, job *models.ProcessJob, website *models.Website, results []*interfaces.ScrapeResult, lineage pageLineage) int {
	written := 0
	now := time.Now()

	for _, result := range results {
		sourceURL := result.Metadata.SourceURL
		if sourceURL == "" {
			sourceURL = result.URL
		}
		if sourceURL == "" {
			job.AppendError(result.URL, "scrape result has no source URL")
			continue
		}
		if strings.TrimSpace(result.Markdown) == "" {
			job.AppendError(sourceURL, "scrape result has empty markdown")
			continue
		}

		normalized, err := common.NormalizeURL(sourceURL)
		if err != nil {
			job.AppendError(sourceURL, fmt.Sprintf("invalid source URL: %v", err))
			continue
		}

		hash := content.Hash(result.Markdown)
		title := result.Metadata.Title
		if title == "" {
			title = content.FirstHeading(result.Markdown)
		}

		ts := now
		page := &models.Page{
			ID:              common.NewPageID(),
			WebsiteID:       website.ID,
			URL:             normalized,
			Path:            urlPath(normalized),
			Title:           title,
			Status:          models.PageStatusReadyForIndexing,
			ContentHash:     hash,
			MarkdownContent: result.Markdown,
			HTTPStatus:      result.Metadata.StatusCode,
			Metadata:        toPageMetadata(result.Metadata),
			LastScraped:     &ts,
			LastSeen:        &ts,
			CrawlBatchID:    lineage.batchID,
		}

		if existing, lookupErr := e.storage.PageStorage().GetPageByURL(ctx, website.ID, normalized); lookupErr == nil {
			page.CrawlScrapeCount = existing.CrawlScrapeCount + 1
			page.CreatedByIngestionID = existing.CreatedByIngestionID
			page.CreatedBySyncID = existing.CreatedBySyncID
			if lineage.ingestionJobID != "" {
				// A re-ingestion rewrites the row wholesale; lineage follows
				// the job that produced its current state.
				page.CreatedByIngestionID = lineage.ingestionJobID
			}
			if existing.SearchFileID != "" {
				// The row still references a store document. Route it through
				// re-indexing so the stale document is deleted before the new
				// upload; ready_for_indexing selection requires an empty
				// search file id and would never pick it up.
				page.Status = models.PageStatusReadyForReIndexing
				page.SearchFileID = existing.SearchFileID
				page.SearchFileName = existing.SearchFileName
			}
		} else {
			page.CrawlScrapeCount = 1
			page.CreatedByIngestionID = lineage.ingestionJobID
			page.CreatedBySyncID = lineage.syncJobID
		}
		if lineage.syncJobID != "" {
			page.LastUpdatedBySyncID = lineage.syncJobID
		}

		if err := e.storage.PageStorage().UpsertPage(ctx, page); err != nil {
			job.AppendError(normalized, fmt.Sprintf("failed to persist page: %v", err))
			continue
		}
		written++
	}

	return written
}

func toPageMetadata(meta interfaces.ScrapeMetadata) models.PageMetadata {
	return models.PageMetadata{
		Title:       meta.Title,
		Description: meta.Description,
		OGImage:     meta.OGImage,
		Language:    meta.Language,
		Extra:       meta.Extra,
	}
}

// urlPath extracts the path portion of a normalized URL; the root yields "/".
func urlPath(normalizedURL string) string {
	rest := normalizedURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?"); idx >= 0 {
		if rest[idx] == '?' {
			return "/"
		}
		if q := strings.Index(rest[idx:], "?"); q >= 0 {
			return rest[idx : idx+q]
		}
		return rest[idx:]
	}
	return "/"
}
