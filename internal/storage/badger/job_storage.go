package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, j *models.ProcessJob) error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.WebsiteID == "" {
		return fmt.Errorf("job website ID is required")
	}

	if j.Status == "" {
		j.Status = models.JobStatusRunning
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = time.Now()
	}
	if j.CrawlBatchIDs == nil {
		j.CrawlBatchIDs = []string{}
	}
	if j.Errors == nil {
		j.Errors = []models.JobError{}
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]any)
	}

	if err := s.db.Store().Insert(j.ID, j); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, j *models.ProcessJob) error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Upsert(j.ID, j); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.ProcessJob, error) {
	var j models.ProcessJob
	if err := s.db.Store().Get(id, &j); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

func (s *JobStorage) ListJobsByWebsite(ctx context.Context, websiteID string, opts *interfaces.JobListOptions) ([]*models.ProcessJob, error) {
	query := badgerhold.Where("WebsiteID").Eq(websiteID).Index("WebsiteID")
	if opts != nil && opts.ProcessType != "" {
		query = query.And("ProcessType").Eq(opts.ProcessType)
	}

	var jobs []models.ProcessJob
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Newest first.
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartedAt.After(jobs[k].StartedAt)
	})

	result := make([]*models.ProcessJob, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
		if opts != nil && opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}
