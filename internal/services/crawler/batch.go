package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
)

// batch is one in-flight batch fetch. All fields behind mu.
type batch struct {
	mu        sync.Mutex
	state     interfaces.BatchState
	total     int
	completed int
	results   []*interfaces.ScrapeResult
	errMsg    string
	cancel    context.CancelFunc
}

func (b *batch) snapshot() *interfaces.BatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := make([]*interfaces.ScrapeResult, len(b.results))
	copy(data, b.results)
	return &interfaces.BatchStatus{
		Status:    b.state,
		Completed: b.completed,
		Total:     b.total,
		Data:      data,
		Error:     b.errMsg,
	}
}

// BatchStart launches a concurrent fetch of the given URLs and returns a batch
// identifier for polling. The batch runs detached from the caller's context so
// a caller timeout does not abort in-flight fetches.
func (s *Service) BatchStart(ctx context.Context, urls []string, opts *interfaces.ScrapeOptions) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("batch requires at least one URL")
	}

	batchCtx, cancel := context.WithCancel(context.Background())
	b := &batch{
		state:  interfaces.BatchStateScraping,
		total:  len(urls),
		cancel: cancel,
	}

	batchID := common.NewBatchID()
	s.batchesMu.Lock()
	s.batches[batchID] = b
	s.batchesMu.Unlock()

	s.logger.Info().
		Str("batch_id", batchID).
		Int("urls", len(urls)).
		Msg("Batch scrape started")

	common.SafeGo(s.logger, "crawler-batch-"+batchID, func() {
		s.runBatch(batchCtx, b, urls, opts)
	})

	return batchID, nil
}

func (s *Service) runBatch(ctx context.Context, b *batch, urls []string, opts *interfaces.ScrapeOptions) {
	concurrency := s.config.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, url := range urls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(url string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := s.Scrape(ctx, url, opts)

			b.mu.Lock()
			defer b.mu.Unlock()
			b.completed++
			if err != nil {
				// Transport failure: keep the slot with a status-less result so
				// consumers see the URL was attempted.
				b.results = append(b.results, &interfaces.ScrapeResult{
					URL:      url,
					Metadata: interfaces.ScrapeMetadata{SourceURL: url},
				})
				s.logger.Warn().Str("url", url).Err(err).Msg("Batch scrape URL failed")
				return
			}
			b.results = append(b.results, result)
		}(url)
	}

	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		b.state = interfaces.BatchStateFailed
		b.errMsg = "batch cancelled"
		return
	}
	b.state = interfaces.BatchStateCompleted
}

func (s *Service) lookupBatch(batchID string) (*batch, error) {
	s.batchesMu.RLock()
	defer s.batchesMu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("unknown batch: %s", batchID)
	}
	return b, nil
}

func (s *Service) BatchStatus(ctx context.Context, batchID string) (*interfaces.BatchStatus, error) {
	b, err := s.lookupBatch(batchID)
	if err != nil {
		return nil, err
	}
	return b.snapshot(), nil
}

// BatchWait polls the batch until it reaches a terminal state or the deadline
// expires. Deadline expiry returns the last observed status with an error.
func (s *Service) BatchWait(ctx context.Context, batchID string, opts *interfaces.BatchWaitOptions) (*interfaces.BatchStatus, error) {
	poll := 5 * time.Second
	maxWait := 10 * time.Minute
	var onProgress func(completed, total int)
	if opts != nil {
		if opts.PollInterval > 0 {
			poll = opts.PollInterval
		}
		if opts.MaxWait > 0 {
			maxWait = opts.MaxWait
		}
		onProgress = opts.OnProgress
	}

	deadline := time.Now().Add(maxWait)
	lastCompleted := -1

	for {
		status, err := s.BatchStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}

		if onProgress != nil && status.Completed != lastCompleted {
			lastCompleted = status.Completed
			onProgress(status.Completed, status.Total)
		}

		if status.Status == interfaces.BatchStateCompleted || status.Status == interfaces.BatchStateFailed {
			return status, nil
		}

		if time.Now().After(deadline) {
			return status, fmt.Errorf("batch %s did not complete within %s", batchID, maxWait)
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (s *Service) BatchCancel(ctx context.Context, batchID string) error {
	b, err := s.lookupBatch(batchID)
	if err != nil {
		return err
	}
	b.cancel()
	s.logger.Info().Str("batch_id", batchID).Msg("Batch cancelled")
	return nil
}
