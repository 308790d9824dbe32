package models

import (
	"encoding/gob"
	"time"
)

func init() {
	// Concrete types carried inside ProcessJob.Metadata; gob needs them
	// registered to round-trip through the store.
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register(JobProgress{})
}

// ProcessType identifies a pipeline run kind. Modeled as a tagged enumeration
// over a single ProcessJob record rather than a type hierarchy.
type ProcessType string

const (
	ProcessTypeIngestion     ProcessType = "ingestion"
	ProcessTypeSync          ProcessType = "sync"
	ProcessTypeIndexing      ProcessType = "indexing"
	ProcessTypeManualReindex ProcessType = "manual_reindex"
)

// JobStatus is the terminal state machine of a process job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobError is one per-URL failure appended to a job's error list.
type JobError struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata keys the engine reads and writes on ProcessJob.Metadata.
const (
	MetaProgress        = "progress"
	MetaIngestionJobID  = "ingestionJobId"
	MetaSyncJobID       = "syncJobId"
	MetaDocumentStates  = "documentStates"
	MetaActiveCount     = "activeCount"
	MetaProcessingCount = "processingCount"
	MetaFailedCount     = "failedCount"
)

// JobProgress is stored under Metadata[MetaProgress] for UI polling.
type JobProgress struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// ProcessJob is one row per pipeline run. Append-only except for its own
// terminal update.
type ProcessJob struct {
	ID          string      `json:"id" badgerhold:"key"`
	WebsiteID   string      `json:"website_id" badgerhold:"index"`
	ProcessType ProcessType `json:"process_type" badgerhold:"index"`
	Status      JobStatus   `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	URLsDiscovered int `json:"urls_discovered"`
	URLsUpdated    int `json:"urls_updated"`
	URLsDeleted    int `json:"urls_deleted"`
	URLsErrored    int `json:"urls_errored"`

	// Ordered batch identifiers returned by the crawler; the first entry is
	// what crash recovery polls.
	CrawlBatchIDs []string `json:"firecrawl_batch_ids"`

	Errors   []JobError     `json:"errors"`
	Metadata map[string]any `json:"metadata"`
}

// AppendError records a per-URL failure without aborting the job.
func (j *ProcessJob) AppendError(url, msg string) {
	j.Errors = append(j.Errors, JobError{URL: url, Error: msg, Timestamp: time.Now()})
	j.URLsErrored++
}

// SetProgress writes the UI progress contract into job metadata.
func (j *ProcessJob) SetProgress(completed, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]any)
	}
	j.Metadata[MetaProgress] = JobProgress{Completed: completed, Total: total, Percentage: pct}
}
