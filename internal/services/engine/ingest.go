package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
)

// ingestInput is validated before any row is written.
type ingestInput struct {
	SeedURL     string `validate:"required"`
	DisplayName string `validate:"max=512"`
}

// Ingest registers a website for a seed URL, discovers its pages, fetches
// them and persists the markdown in ready_for_indexing. Indexing is not
// triggered; callers invoke Index separately.
//
// Ingesting an already-ingested base domain returns the reconstructed result
// of the completed run instead of starting a new one. A running ingestion
// older than the recovery age is recovered in place.
func (e *Engine) Ingest(ctx context.Context, seedURL, displayName string) (*IngestResult, error) {
	if err := e.validate.Struct(ingestInput{SeedURL: seedURL, DisplayName: displayName}); err != nil {
		return nil, fmt.Errorf("invalid ingestion input: %w", err)
	}

	seed, err := common.NormalizeURL(common.EnsureScheme(seedURL))
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}
	host, err := common.ExtractDomain(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}
	baseDomain := common.ExtractBaseDomain(host)

	// Dedup: one website per base domain.
	if existing, lookupErr := e.storage.WebsiteStorage().GetWebsiteByBaseDomain(ctx, baseDomain); lookupErr == nil {
		result, handled, dedupeErr := e.resolveExistingIngestion(ctx, existing)
		if dedupeErr != nil {
			return nil, dedupeErr
		}
		if handled {
			return result, nil
		}
		return e.runIngestion(ctx, existing, seed, baseDomain)
	}

	// New base domain: the store is created before the website row so every
	// registered website has an associated store.
	store, err := e.search.CreateStore(ctx, storeDisplayName(baseDomain, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create search store for %s: %w", baseDomain, err)
	}

	name := displayName
	if name == "" {
		name = baseDomain
	}
	website := &models.Website{
		ID:              common.NewWebsiteID(),
		SeedURL:         seed,
		BaseDomain:      baseDomain,
		Name:            name,
		SearchStoreID:   store.ID,
		SearchStoreName: store.DisplayName,
	}
	if err := e.storage.WebsiteStorage().CreateWebsite(ctx, website); err != nil {
		return nil, fmt.Errorf("failed to register website: %w", err)
	}

	return e.runIngestion(ctx, website, seed, baseDomain)
}

// resolveExistingIngestion inspects the most recent ingestion job of an
// already-registered website. handled=true means the result (or error) is
// final; handled=false means a fresh ingestion should proceed.
func (e *Engine) resolveExistingIngestion(ctx context.Context, website *models.Website) (*IngestResult, bool, error) {
	jobs, err := e.storage.JobStorage().ListJobsByWebsite(ctx, website.ID, &interfaces.JobListOptions{
		ProcessType: models.ProcessTypeIngestion,
		Limit:       1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to inspect prior ingestion: %w", err)
	}
	if len(jobs) == 0 {
		return nil, false, nil
	}
	last := jobs[0]

	switch last.Status {
	case models.JobStatusRunning:
		if time.Since(last.StartedAt) <= e.config.RecoveryAge {
			return nil, true, fmt.Errorf("ingestion already in progress for %s (job %s)", website.BaseDomain, last.ID)
		}
		recovery, recErr := e.RecoverIngestion(ctx, last.ID)
		if recErr != nil {
			return nil, false, recErr
		}
		switch recovery.Status {
		case RecoveryStatusCompleted:
			return recovery.Result, true, nil
		case RecoveryStatusStillRunning:
			return nil, true, fmt.Errorf("ingestion already in progress for %s (job %s)", website.BaseDomain, last.ID)
		default:
			// Recovery failed or could not proceed: start fresh.
			return nil, false, nil
		}

	case models.JobStatusCompleted:
		result, reconErr := e.reconstructIngestResult(ctx, website, last)
		if reconErr != nil {
			return nil, false, reconErr
		}
		return result, true, nil

	default:
		return nil, false, nil
	}
}

// reconstructIngestResult rebuilds an ingestion result from the job row and
// the current page set, for idempotent re-ingestion.
func (e *Engine) reconstructIngestResult(ctx context.Context, website *models.Website, job *models.ProcessJob) (*IngestResult, error) {
	pages, err := e.storage.PageStorage().ListPages(ctx, website.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load pages for %s: %w", website.BaseDomain, err)
	}
	return &IngestResult{
		WebsiteID:       website.ID,
		BaseDomain:      website.BaseDomain,
		SearchStoreID:   website.SearchStoreID,
		PagesDiscovered: job.URLsDiscovered,
		PagesWritten:    len(pages),
		Errors:          job.Errors,
		IngestionJobID:  job.ID,
	}, nil
}

// runIngestion executes the discovery/fetch/persist phases against a
// registered website.
func (e *Engine) runIngestion(ctx context.Context, website *models.Website, seed, baseDomain string) (*IngestResult, error) {
	job := &models.ProcessJob{
		ID:          common.NewJobID(),
		WebsiteID:   website.ID,
		ProcessType: models.ProcessTypeIngestion,
	}
	if err := e.storage.JobStorage().CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create ingestion job: %w", err)
	}

	website.CreatedByIngestionID = job.ID
	if err := e.storage.WebsiteStorage().UpdateWebsite(ctx, website); err != nil {
		e.failJob(ctx, job, fmt.Sprintf("failed to stamp ingestion job on website: %v", err))
		return nil, fmt.Errorf("failed to update website: %w", err)
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("base_domain", baseDomain).
		Str("seed", seed).
		Msg("Ingestion started")

	// URL discovery.
	mapResult, err := e.crawler.Map(ctx, seed, nil)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("URL discovery failed: %v", err))
		return nil, fmt.Errorf("URL discovery failed: %w", err)
	}
	urls := e.scopeMappedURLs(mapResult, baseDomain)
	if len(urls) == 0 {
		e.failJob(ctx, job, fmt.Sprintf("no URLs discovered under base domain %s", baseDomain))
		return nil, fmt.Errorf("no URLs discovered under base domain %s", baseDomain)
	}
	job.URLsDiscovered = len(urls)

	// Batch fetch. The batch id is persisted before waiting so a crashed run
	// can be recovered.
	batchID, err := e.crawler.BatchStart(ctx, urls, nil)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("batch fetch failed to start: %v", err))
		return nil, fmt.Errorf("batch fetch failed to start: %w", err)
	}
	job.CrawlBatchIDs = append(job.CrawlBatchIDs, batchID)
	if err := e.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		e.failJob(ctx, job, fmt.Sprintf("failed to persist batch id: %v", err))
		return nil, fmt.Errorf("failed to persist batch id: %w", err)
	}

	status, err := e.waitForBatch(ctx, job, batchID)
	if err != nil {
		e.failJob(ctx, job, fmt.Sprintf("batch fetch did not complete: %v", err))
		return nil, fmt.Errorf("batch fetch did not complete: %w", err)
	}
	if status.Status == interfaces.BatchStateFailed {
		e.failJob(ctx, job, fmt.Sprintf("batch fetch failed: %s", status.Error))
		return nil, fmt.Errorf("batch fetch failed: %s", status.Error)
	}

	// Persist results and finalize.
	written := e.persistScrapeResults(ctx, job, website, status.Data, pageLineage{
		ingestionJobID: job.ID,
		batchID:        batchID,
	})
	job.URLsUpdated = written

	if err := e.completeJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to finalize ingestion job: %w", err)
	}
	now := time.Now()
	website.LastFullCrawl = &now
	if err := e.storage.WebsiteStorage().UpdateWebsite(ctx, website); err != nil {
		e.logger.Warn().Str("website_id", website.ID).Err(err).Msg("Failed to update last full crawl")
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Int("discovered", len(urls)).
		Int("written", written).
		Int("errors", len(job.Errors)).
		Msg("Ingestion completed")

	return &IngestResult{
		WebsiteID:       website.ID,
		BaseDomain:      baseDomain,
		SearchStoreID:   website.SearchStoreID,
		PagesDiscovered: len(urls),
		PagesWritten:    written,
		Errors:          job.Errors,
		IngestionJobID:  job.ID,
	}, nil
}

// scopeMappedURLs normalizes, deduplicates and domain-filters a map result.
func (e *Engine) scopeMappedURLs(mapResult *interfaces.MapResult, baseDomain string) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, link := range mapResult.Links {
		normalized, err := common.NormalizeURL(common.EnsureScheme(link.URL))
		if err != nil {
			continue
		}
		if !common.IsURLInBaseDomain(normalized, baseDomain) {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		urls = append(urls, normalized)
	}
	return urls
}
