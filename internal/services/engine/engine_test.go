package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/content"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
	"github.com/ternarybob/sitedex/internal/storage/badger"
)

// fakeCrawler serves canned map links and scrape results keyed by URL.
// Batches complete immediately; URLs without a canned page come back 404.
type fakeCrawler struct {
	mu       sync.Mutex
	mapLinks []string
	pages    map[string]*interfaces.ScrapeResult
	batches  map[string]*interfaces.BatchStatus
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		pages:   make(map[string]*interfaces.ScrapeResult),
		batches: make(map[string]*interfaces.BatchStatus),
	}
}

func (c *fakeCrawler) setPage(url, markdown string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[url] = &interfaces.ScrapeResult{
		URL:      url,
		Markdown: markdown,
		Metadata: interfaces.ScrapeMetadata{SourceURL: url, StatusCode: http.StatusOK, Title: "Page " + url},
	}
}

func (c *fakeCrawler) Map(ctx context.Context, seedURL string, opts *interfaces.MapOptions) (*interfaces.MapResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := &interfaces.MapResult{}
	for _, url := range c.mapLinks {
		result.Links = append(result.Links, interfaces.MapLink{URL: url})
	}
	return result, nil
}

func (c *fakeCrawler) Scrape(ctx context.Context, url string, opts *interfaces.ScrapeOptions) (*interfaces.ScrapeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page, ok := c.pages[url]; ok {
		return page, nil
	}
	return &interfaces.ScrapeResult{URL: url, Metadata: interfaces.ScrapeMetadata{SourceURL: url, StatusCode: http.StatusNotFound}}, nil
}

func (c *fakeCrawler) BatchStart(ctx context.Context, urls []string, opts *interfaces.ScrapeOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := &interfaces.BatchStatus{
		Status:    interfaces.BatchStateCompleted,
		Completed: len(urls),
		Total:     len(urls),
	}
	for _, url := range urls {
		if page, ok := c.pages[url]; ok {
			status.Data = append(status.Data, page)
		} else {
			status.Data = append(status.Data, &interfaces.ScrapeResult{
				URL:      url,
				Metadata: interfaces.ScrapeMetadata{SourceURL: url, StatusCode: http.StatusNotFound},
			})
		}
	}
	id := common.NewBatchID()
	c.batches[id] = status
	return id, nil
}

// seedBatch registers a pre-existing batch, as if started by a crashed run.
func (c *fakeCrawler) seedBatch(status *interfaces.BatchStatus) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := common.NewBatchID()
	c.batches[id] = status
	return id
}

func (c *fakeCrawler) BatchStatus(ctx context.Context, batchID string) (*interfaces.BatchStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("unknown batch: %s", batchID)
	}
	return status, nil
}

func (c *fakeCrawler) BatchWait(ctx context.Context, batchID string, opts *interfaces.BatchWaitOptions) (*interfaces.BatchStatus, error) {
	status, err := c.BatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.OnProgress != nil {
		opts.OnProgress(status.Completed, status.Total)
	}
	return status, nil
}

func (c *fakeCrawler) BatchCancel(ctx context.Context, batchID string) error { return nil }

// fakeSearchStore keeps documents in memory. Uploaded documents verify with
// uploadState (ACTIVE unless a test overrides it).
type fakeSearchStore struct {
	mu          sync.Mutex
	seq         int
	docs        map[string]*interfaces.Document
	uploadState string
	deleted     []string
}

func newFakeSearchStore() *fakeSearchStore {
	return &fakeSearchStore{docs: make(map[string]*interfaces.Document), uploadState: "ACTIVE"}
}

func (s *fakeSearchStore) CreateStore(ctx context.Context, displayName string) (*interfaces.StoreInfo, error) {
	return &interfaces.StoreInfo{ID: displayName, DisplayName: displayName, CreateTime: time.Now()}, nil
}

func (s *fakeSearchStore) GetStore(ctx context.Context, storeID string) (*interfaces.StoreInfo, error) {
	return &interfaces.StoreInfo{ID: storeID, DisplayName: storeID}, nil
}

func (s *fakeSearchStore) ListStores(ctx context.Context) ([]*interfaces.StoreInfo, error) {
	return nil, nil
}

func (s *fakeSearchStore) DeleteStore(ctx context.Context, storeID string) error { return nil }

func (s *fakeSearchStore) Upload(ctx context.Context, storeID, content string, meta interfaces.DocumentMetadata) (*interfaces.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	doc := &interfaces.Document{
		Name:        fmt.Sprintf("files/doc-%d", s.seq),
		DisplayName: storeID + "|" + meta.Path,
		MIMEType:    "text/markdown",
		SizeBytes:   int64(len(content)),
		CreateTime:  time.Now(),
		State:       s.uploadState,
	}
	s.docs[doc.Name] = doc
	return doc, nil
}

func (s *fakeSearchStore) GetDocument(ctx context.Context, name string) (*interfaces.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[name]
	if !ok {
		return nil, interfaces.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *fakeSearchStore) DeleteDocument(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, name)
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *fakeSearchStore) ListDocuments(ctx context.Context, storeID string) ([]*interfaces.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []*interfaces.Document
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *fakeSearchStore) Query(ctx context.Context, storeID, question string, opts *interfaces.QueryOptions) (*interfaces.QueryResult, error) {
	return &interfaces.QueryResult{Answer: "canned answer"}, nil
}

func (s *fakeSearchStore) documentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

type testHarness struct {
	engine  *Engine
	storage interfaces.StorageManager
	crawler *fakeCrawler
	search  *fakeSearchStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	mgr, err := badger.NewManager(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	crawler := newFakeCrawler()
	search := newFakeSearchStore()
	cfg := &common.EngineConfig{
		DeletionThreshold:     3,
		BatchPollInterval:     time.Millisecond,
		BatchMaxWait:          time.Second,
		ProgressWriteInterval: time.Millisecond,
		UploadConcurrency:     5,
		UploadRetryBackoff:    time.Millisecond,
		UploadMaxRetries:      3,
		VerifyDelay:           time.Millisecond,
		OperationPollInterval: time.Millisecond,
		OperationMaxWait:      time.Second,
		InterBatchPause:       time.Millisecond,
		IndexPageCap:          200,
		RecoveryAge:           time.Minute,
	}
	return &testHarness{
		engine:  NewEngine(mgr, crawler, search, cfg, common.GetLogger()),
		storage: mgr,
		crawler: crawler,
		search:  search,
	}
}

func (h *testHarness) pageByURL(t *testing.T, websiteID, url string) *models.Page {
	t.Helper()
	page, err := h.storage.PageStorage().GetPageByURL(context.Background(), websiteID, url)
	require.NoError(t, err)
	return page
}

// setupExampleSite configures the fake crawler with the canonical two-page
// site used across the scenarios.
func (h *testHarness) setupExampleSite() {
	h.crawler.mapLinks = []string{
		"https://www.example.com/",
		"https://www.example.com/about",
		"https://blog.example.com/post",
	}
	h.crawler.setPage("https://www.example.com", "# Home\n\nWelcome to example.")
	h.crawler.setPage("https://www.example.com/about", "# About\n\nWe make examples.")
}

func TestIngestFreshWebsite(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	result, err := h.engine.Ingest(ctx, "https://www.example.com/", "Example")
	require.NoError(t, err)

	assert.Equal(t, "example.com", result.BaseDomain)
	assert.NotEmpty(t, result.SearchStoreID)
	assert.Equal(t, 2, result.PagesDiscovered, "blog subdomain is out of scope")
	assert.Equal(t, 2, result.PagesWritten)
	assert.Empty(t, result.Errors)

	website, err := h.storage.WebsiteStorage().GetWebsiteByBaseDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, result.WebsiteID, website.ID)
	assert.Equal(t, result.IngestionJobID, website.CreatedByIngestionID)
	assert.NotNil(t, website.LastFullCrawl)

	for _, url := range []string{"https://www.example.com", "https://www.example.com/about"} {
		page := h.pageByURL(t, website.ID, url)
		assert.Equal(t, models.PageStatusReadyForIndexing, page.Status)
		assert.NotEmpty(t, page.MarkdownContent)
		assert.Equal(t, content.Hash(page.MarkdownContent), page.ContentHash)
		assert.Equal(t, result.IngestionJobID, page.CreatedByIngestionID)
		assert.NotEmpty(t, page.CrawlBatchID)
	}

	job, err := h.storage.JobStorage().GetJob(ctx, result.IngestionJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.URLsDiscovered)
	assert.Equal(t, 2, job.URLsUpdated)
	require.NotNil(t, job.CompletedAt)
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	first, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)

	second, err := h.engine.Ingest(ctx, "example.com", "")
	require.NoError(t, err)

	assert.Equal(t, first.WebsiteID, second.WebsiteID)
	assert.Equal(t, first.IngestionJobID, second.IngestionJobID, "no new job for a completed ingestion")
	assert.Equal(t, first.PagesWritten, second.PagesWritten)

	jobs, err := h.storage.JobStorage().ListJobsByWebsite(ctx, first.WebsiteID, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestIngestRejectsEmptyScope(t *testing.T) {
	h := newHarness(t)
	h.crawler.mapLinks = []string{"https://elsewhere.example.org/"}
	ctx := context.Background()

	_, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.Error(t, err)

	// The failure still terminated the job.
	website, err := h.storage.WebsiteStorage().GetWebsiteByBaseDomain(ctx, "example.com")
	require.NoError(t, err)
	jobs, err := h.storage.JobStorage().ListJobsByWebsite(ctx, website.ID, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
}

func TestIndexAfterIngestion(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	ingest, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)

	result, err := h.engine.Index(ctx, IndexOptions{
		WebsiteID:       ingest.WebsiteID,
		IngestionJobID:  ingest.IngestionJobID,
		AutoCreateStore: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesIndexed)
	assert.Empty(t, result.Errors)

	for _, url := range []string{"https://www.example.com", "https://www.example.com/about"} {
		page := h.pageByURL(t, ingest.WebsiteID, url)
		assert.Equal(t, models.PageStatusActive, page.Status)
		assert.NotEmpty(t, page.SearchFileID)
		assert.NotEmpty(t, page.ContentHash)
	}

	job, err := h.storage.JobStorage().GetJob(ctx, result.IndexingJobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Metadata[models.MetaActiveCount])
	assert.Equal(t, ingest.IngestionJobID, job.Metadata[models.MetaIngestionJobID])
}

func TestIndexFailedVerificationLeavesReadyState(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	ingest, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)

	h.search.uploadState = "STATE_FAILED"
	result, err := h.engine.Index(ctx, IndexOptions{WebsiteID: ingest.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)
	assert.Zero(t, result.PagesIndexed)
	assert.Len(t, result.Errors, 2)

	page := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	assert.Equal(t, models.PageStatusReadyForIndexing, page.Status, "failed page stays ready for the next run")
	assert.Empty(t, page.SearchFileID)
	assert.NotEmpty(t, page.ErrorMessage)
	assert.Zero(t, h.search.documentCount(), "failed documents are deleted")

	// The next run, with a healthy store, picks the pages back up.
	h.search.uploadState = "ACTIVE"
	result, err = h.engine.Index(ctx, IndexOptions{WebsiteID: ingest.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesIndexed)
}

func TestSyncUnchangedContent(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	ingest, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	_, err = h.engine.Index(ctx, IndexOptions{WebsiteID: ingest.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)

	syncResult, err := h.engine.Sync(ctx, ingest.WebsiteID)
	require.NoError(t, err)
	assert.Zero(t, syncResult.URLsUpdated)
	assert.Zero(t, syncResult.URLsDeleted)

	page := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	assert.Equal(t, models.PageStatusActive, page.Status, "unchanged pages never leave active")
	assert.Equal(t, 2, page.CrawlScrapeCount)
}

func TestSyncContentChange(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	ingest, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	_, err = h.engine.Index(ctx, IndexOptions{WebsiteID: ingest.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)

	before := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	oldFileID := before.SearchFileID
	oldHash := before.ContentHash
	require.NotEmpty(t, oldFileID)

	h.crawler.setPage("https://www.example.com/about", "# About\n\nWe make examples!")

	syncResult, err := h.engine.Sync(ctx, ingest.WebsiteID)
	require.NoError(t, err)
	assert.Equal(t, 1, syncResult.URLsUpdated)

	// The background indexing fired by sync re-indexes the changed page.
	require.Eventually(t, func() bool {
		page, err := h.storage.PageStorage().GetPageByURL(ctx, ingest.WebsiteID, "https://www.example.com/about")
		return err == nil && page.Status == models.PageStatusActive && page.SearchFileID != oldFileID
	}, 5*time.Second, 10*time.Millisecond, "changed page returns to active with a new document")

	after := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	assert.NotEqual(t, oldHash, after.ContentHash)
	assert.Contains(t, h.search.deleted, oldFileID, "old document was deleted before re-upload")
}

func TestSyncThresholdDeletion(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	ingest, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	_, err = h.engine.Index(ctx, IndexOptions{WebsiteID: ingest.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)

	aboutFileID := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about").SearchFileID
	require.NotEmpty(t, aboutFileID)

	// The about page disappears from the map.
	h.crawler.mapLinks = []string{"https://www.example.com/"}

	for i := 1; i <= 2; i++ {
		_, err := h.engine.Sync(ctx, ingest.WebsiteID)
		require.NoError(t, err)
		page := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
		assert.Equal(t, i, page.MissingCount)
		assert.Equal(t, models.PageStatusActive, page.Status)
	}

	syncResult, err := h.engine.Sync(ctx, ingest.WebsiteID)
	require.NoError(t, err)
	assert.Equal(t, 1, syncResult.URLsDeleted)

	// The background indexing pass removes the document and retires the row.
	require.Eventually(t, func() bool {
		page, err := h.storage.PageStorage().GetPageByURL(ctx, ingest.WebsiteID, "https://www.example.com/about")
		return err == nil && page.Status == models.PageStatusDeleted
	}, 5*time.Second, 10*time.Millisecond)

	after := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	assert.Empty(t, after.SearchFileID)
	assert.Contains(t, h.search.deleted, aboutFileID)
}

func TestReingestOverIndexedSite(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	first, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	_, err = h.engine.Index(ctx, IndexOptions{WebsiteID: first.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)

	oldFileID := h.pageByURL(t, first.WebsiteID, "https://www.example.com/about").SearchFileID
	require.NotEmpty(t, oldFileID)

	// A later ingestion attempt failed, so the next ingest starts fresh over
	// the already-indexed page set.
	failed := &models.ProcessJob{ID: common.NewJobID(), WebsiteID: first.WebsiteID, ProcessType: models.ProcessTypeIngestion}
	require.NoError(t, h.storage.JobStorage().CreateJob(ctx, failed))
	failed.Status = models.JobStatusFailed
	require.NoError(t, h.storage.JobStorage().UpdateJob(ctx, failed))

	second, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	require.NotEqual(t, first.IngestionJobID, second.IngestionJobID)

	// Indexed rows are staged for re-indexing with their store references
	// intact, under the new ingestion's lineage.
	staged := h.pageByURL(t, first.WebsiteID, "https://www.example.com/about")
	assert.Equal(t, models.PageStatusReadyForReIndexing, staged.Status)
	assert.Equal(t, oldFileID, staged.SearchFileID)
	assert.Equal(t, second.IngestionJobID, staged.CreatedByIngestionID)

	result, err := h.engine.Index(ctx, IndexOptions{
		WebsiteID:       first.WebsiteID,
		IngestionJobID:  second.IngestionJobID,
		AutoCreateStore: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesIndexed)

	after := h.pageByURL(t, first.WebsiteID, "https://www.example.com/about")
	assert.Equal(t, models.PageStatusActive, after.Status)
	assert.NotEqual(t, oldFileID, after.SearchFileID)
	assert.Contains(t, h.search.deleted, oldFileID, "stale document was deleted before re-upload")
}

func TestSyncRetriesStuckPages(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	ingest, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	_, err = h.engine.Index(ctx, IndexOptions{WebsiteID: ingest.WebsiteID, AutoCreateStore: true})
	require.NoError(t, err)

	// One page stranded in error with content and no store document, one
	// stranded in processing with its document still referenced.
	empty := ""
	errStatus := models.PageStatusError
	about := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	_, err = h.storage.PageStorage().UpdatePage(ctx, about.ID, &interfaces.PagePatch{
		Status:         &errStatus,
		SearchFileID:   &empty,
		SearchFileName: &empty,
	})
	require.NoError(t, err)

	home := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com")
	homeFileID := home.SearchFileID
	require.NotEmpty(t, homeFileID)
	procStatus := models.PageStatusProcessing
	_, err = h.storage.PageStorage().UpdatePage(ctx, home.ID, &interfaces.PagePatch{Status: &procStatus})
	require.NoError(t, err)

	syncResult, err := h.engine.Sync(ctx, ingest.WebsiteID)
	require.NoError(t, err)

	// Both rows were requeued under this sync's lineage, so the background
	// indexing run brings them back to active.
	require.Eventually(t, func() bool {
		about, aErr := h.storage.PageStorage().GetPageByURL(ctx, ingest.WebsiteID, "https://www.example.com/about")
		home, hErr := h.storage.PageStorage().GetPageByURL(ctx, ingest.WebsiteID, "https://www.example.com")
		return aErr == nil && hErr == nil &&
			about.Status == models.PageStatusActive && about.SearchFileID != "" &&
			home.Status == models.PageStatusActive
	}, 5*time.Second, 10*time.Millisecond, "stuck pages return to active")

	requeued := h.pageByURL(t, ingest.WebsiteID, "https://www.example.com/about")
	assert.Equal(t, syncResult.SyncJobID, requeued.LastUpdatedBySyncID)
	assert.Contains(t, h.search.deleted, homeFileID, "stale document was deleted before re-upload")
}

func TestSyncRequiresIngestedWebsite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	website := &models.Website{ID: common.NewWebsiteID(), SeedURL: "https://example.com", BaseDomain: "example.com", SearchStoreID: "store-1"}
	require.NoError(t, h.storage.WebsiteStorage().CreateWebsite(ctx, website))

	_, err := h.engine.Sync(ctx, website.ID)
	assert.ErrorContains(t, err, "no pages")
}

func TestRecoverCompletedBatch(t *testing.T) {
	h := newHarness(t)
	h.setupExampleSite()
	ctx := context.Background()

	// Simulate a crashed ingestion: website + running job with a persisted
	// batch id, no pages written.
	website := &models.Website{
		ID:            common.NewWebsiteID(),
		SeedURL:       "https://www.example.com",
		BaseDomain:    "example.com",
		SearchStoreID: "store-1",
	}
	require.NoError(t, h.storage.WebsiteStorage().CreateWebsite(ctx, website))

	batchID := h.crawler.seedBatch(&interfaces.BatchStatus{
		Status:    interfaces.BatchStateCompleted,
		Completed: 2,
		Total:     2,
		Data: []*interfaces.ScrapeResult{
			{URL: "https://www.example.com", Markdown: "# Home\n\nWelcome.", Metadata: interfaces.ScrapeMetadata{SourceURL: "https://www.example.com", StatusCode: 200}},
			{URL: "https://www.example.com/about", Markdown: "# About\n\nUs.", Metadata: interfaces.ScrapeMetadata{SourceURL: "https://www.example.com/about", StatusCode: 200}},
		},
	})

	job := &models.ProcessJob{
		ID:             common.NewJobID(),
		WebsiteID:      website.ID,
		ProcessType:    models.ProcessTypeIngestion,
		StartedAt:      time.Now().Add(-5 * time.Minute),
		CrawlBatchIDs:  []string{batchID},
		URLsDiscovered: 2,
	}
	require.NoError(t, h.storage.JobStorage().CreateJob(ctx, job))
	website.CreatedByIngestionID = job.ID
	require.NoError(t, h.storage.WebsiteStorage().UpdateWebsite(ctx, website))

	// A new ingest of the same seed recovers instead of starting over.
	result, err := h.engine.Ingest(ctx, "https://www.example.com/", "")
	require.NoError(t, err)
	assert.Equal(t, job.ID, result.IngestionJobID)
	assert.Equal(t, 2, result.PagesWritten)

	recovered, err := h.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, recovered.Status)

	jobs, err := h.storage.JobStorage().ListJobsByWebsite(ctx, website.ID, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "recovery creates no new job")

	page := h.pageByURL(t, website.ID, "https://www.example.com/about")
	assert.Equal(t, models.PageStatusReadyForIndexing, page.Status)
}

func TestRecoverWithoutBatchIDFailsJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	website := &models.Website{ID: common.NewWebsiteID(), SeedURL: "https://example.com", BaseDomain: "example.com"}
	require.NoError(t, h.storage.WebsiteStorage().CreateWebsite(ctx, website))

	job := &models.ProcessJob{ID: common.NewJobID(), WebsiteID: website.ID, ProcessType: models.ProcessTypeIngestion}
	require.NoError(t, h.storage.JobStorage().CreateJob(ctx, job))

	result, err := h.engine.RecoverIngestion(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, result.Recovered)
	assert.Equal(t, RecoveryStatusFailed, result.Status)

	failed, err := h.storage.JobStorage().GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
}

func TestRecoverStillRunning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	website := &models.Website{ID: common.NewWebsiteID(), SeedURL: "https://example.com", BaseDomain: "example.com"}
	require.NoError(t, h.storage.WebsiteStorage().CreateWebsite(ctx, website))

	batchID := h.crawler.seedBatch(&interfaces.BatchStatus{
		Status:    interfaces.BatchStateScraping,
		Completed: 1,
		Total:     4,
	})
	job := &models.ProcessJob{
		ID:            common.NewJobID(),
		WebsiteID:     website.ID,
		ProcessType:   models.ProcessTypeIngestion,
		StartedAt:     time.Now().Add(-5 * time.Minute),
		CrawlBatchIDs: []string{batchID},
	}
	require.NoError(t, h.storage.JobStorage().CreateJob(ctx, job))

	result, err := h.engine.RecoverIngestion(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, RecoveryStatusStillRunning, result.Status)

	// A healthy long-running batch must not be double-ingested.
	_, err = h.engine.Ingest(ctx, "https://example.com", "")
	assert.ErrorContains(t, err, "already in progress")
}

func TestIngestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Ingest(ctx, "", "")
	assert.Error(t, err)

	long := make([]byte, 513)
	for i := range long {
		long[i] = 'x'
	}
	_, err = h.engine.Ingest(ctx, "https://example.com", string(long))
	assert.Error(t, err)
}
