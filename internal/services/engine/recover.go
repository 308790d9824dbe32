package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
)

// RecoverIngestion resumes an ingestion whose process died mid-run. The
// persisted crawl batch id is the recovery handle: if the crawler finished
// the batch, the results are persisted and the job closed out as if the
// original run had returned; an in-progress batch reports still_running.
func (e *Engine) RecoverIngestion(ctx context.Context, ingestionJobID string) (*RecoveryResult, error) {
	job, err := e.storage.JobStorage().GetJob(ctx, ingestionJobID)
	if err != nil {
		return nil, err
	}
	if job.ProcessType != models.ProcessTypeIngestion {
		return nil, fmt.Errorf("job %s is not an ingestion job", ingestionJobID)
	}

	if job.Status != models.JobStatusRunning {
		return &RecoveryResult{
			Recovered: false,
			Status:    RecoveryStatusCannotRecover,
			Error:     fmt.Sprintf("job is %s, not running", job.Status),
		}, nil
	}

	if len(job.CrawlBatchIDs) == 0 {
		e.failJob(ctx, job, "no batch job id - cannot recover")
		return &RecoveryResult{
			Recovered: false,
			Status:    RecoveryStatusFailed,
			Error:     "no batch job id - cannot recover",
		}, nil
	}
	batchID := job.CrawlBatchIDs[0]

	website, err := e.storage.WebsiteStorage().GetWebsite(ctx, job.WebsiteID)
	if err != nil {
		return nil, err
	}

	status, err := e.crawler.BatchStatus(ctx, batchID)
	if err != nil {
		// The crawler no longer knows the batch (e.g. the crawler restarted);
		// the run cannot be resumed.
		e.failJob(ctx, job, fmt.Sprintf("batch %s unavailable: %v", batchID, err))
		return &RecoveryResult{
			Recovered: false,
			Status:    RecoveryStatusFailed,
			Error:     fmt.Sprintf("batch %s unavailable: %v", batchID, err),
		}, nil
	}

	switch status.Status {
	case interfaces.BatchStateCompleted:
		written := e.persistScrapeResults(ctx, job, website, status.Data, pageLineage{
			ingestionJobID: job.ID,
			batchID:        batchID,
		})
		job.URLsUpdated = written
		if job.URLsDiscovered == 0 {
			job.URLsDiscovered = status.Total
		}
		if err := e.completeJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to finalize recovered job: %w", err)
		}
		now := time.Now()
		website.LastFullCrawl = &now
		if err := e.storage.WebsiteStorage().UpdateWebsite(ctx, website); err != nil {
			e.logger.Warn().Str("website_id", website.ID).Err(err).Msg("Failed to update last full crawl")
		}

		e.logger.Info().
			Str("job_id", job.ID).
			Int("written", written).
			Msg("Ingestion recovered")

		return &RecoveryResult{
			Recovered: true,
			Status:    RecoveryStatusCompleted,
			Result: &IngestResult{
				WebsiteID:       website.ID,
				BaseDomain:      website.BaseDomain,
				SearchStoreID:   website.SearchStoreID,
				PagesDiscovered: job.URLsDiscovered,
				PagesWritten:    written,
				Errors:          job.Errors,
				IngestionJobID:  job.ID,
			},
		}, nil

	case interfaces.BatchStateFailed:
		e.failJob(ctx, job, fmt.Sprintf("crawl batch failed: %s", status.Error))
		return &RecoveryResult{
			Recovered: false,
			Status:    RecoveryStatusFailed,
			Error:     status.Error,
		}, nil

	default:
		// A healthy long-running batch also satisfies the stuck-job age check;
		// reporting still_running is the safeguard against double ingestion.
		job.SetProgress(status.Completed, status.Total)
		if err := e.storage.JobStorage().UpdateJob(ctx, job); err != nil {
			e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Progress write failed during recovery")
		}
		return &RecoveryResult{
			Recovered: false,
			Status:    RecoveryStatusStillRunning,
		}, nil
	}
}
