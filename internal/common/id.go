package common

import (
	"github.com/google/uuid"
)

// NewWebsiteID generates a unique website ID with the "site_" prefix
func NewWebsiteID() string {
	return "site_" + uuid.New().String()
}

// NewPageID generates a unique page ID with the "page_" prefix
func NewPageID() string {
	return "page_" + uuid.New().String()
}

// NewJobID generates a unique process-job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBatchID generates a unique crawl-batch ID with the "batch_" prefix
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}
