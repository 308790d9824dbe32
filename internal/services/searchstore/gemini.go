package searchstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"google.golang.org/genai"
)

const documentMIMEType = "text/markdown"

// GeminiSearchStore implements the SearchStore interface on the Gemini Files
// API plus grounded generation. Stores are display-name namespaces over the
// flat file list; see naming.go for the encoding.
type GeminiSearchStore struct {
	config *common.GeminiConfig
	logger arbor.ILogger
	client *genai.Client
	retry  *RetryConfig
}

// NewGeminiSearchStore creates a Gemini-backed search store.
func NewGeminiSearchStore(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (interfaces.SearchStore, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set SITEDEX_GEMINI_API_KEY or gemini.api_key in config)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Info().
		Str("query_model", config.QueryModel).
		Int("query_document_limit", config.QueryDocumentLimit).
		Msg("Gemini search store initialized")

	return &GeminiSearchStore{
		config: config,
		logger: logger,
		client: client,
		retry:  NewDefaultRetryConfig(),
	}, nil
}

// CreateStore registers a new namespace. The files service has no store
// object, so creation is purely a naming act.
func (s *GeminiSearchStore) CreateStore(ctx context.Context, displayName string) (*interfaces.StoreInfo, error) {
	if displayName == "" {
		return nil, fmt.Errorf("store display name is required")
	}
	if strings.Contains(displayName, displayNameSeparator) {
		return nil, fmt.Errorf("store display name must not contain %q", displayNameSeparator)
	}

	s.logger.Debug().Str("store", displayName).Msg("Creating search store namespace")

	return &interfaces.StoreInfo{
		ID:          displayName,
		DisplayName: displayName,
		CreateTime:  time.Now(),
	}, nil
}

func (s *GeminiSearchStore) GetStore(ctx context.Context, storeID string) (*interfaces.StoreInfo, error) {
	if storeID == "" {
		return nil, fmt.Errorf("store id is required")
	}
	return &interfaces.StoreInfo{ID: storeID, DisplayName: storeID}, nil
}

// ListStores enumerates the distinct namespaces present in the file list.
func (s *GeminiSearchStore) ListStores(ctx context.Context) ([]*interfaces.StoreInfo, error) {
	earliest := make(map[string]time.Time)
	for f, err := range s.client.Files.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list stores: %w", err)
		}
		storeID, _, ok := SplitDisplayName(f.DisplayName)
		if !ok {
			continue
		}
		if first, seen := earliest[storeID]; !seen || f.CreateTime.Before(first) {
			earliest[storeID] = f.CreateTime
		}
	}

	stores := make([]*interfaces.StoreInfo, 0, len(earliest))
	for id, created := range earliest {
		stores = append(stores, &interfaces.StoreInfo{ID: id, DisplayName: id, CreateTime: created})
	}
	sort.Slice(stores, func(i, k int) bool { return stores[i].ID < stores[k].ID })
	return stores, nil
}

// DeleteStore removes every document in the namespace.
func (s *GeminiSearchStore) DeleteStore(ctx context.Context, storeID string) error {
	docs, err := s.ListDocuments(ctx, storeID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.DeleteDocument(ctx, doc.Name); err != nil {
			return err
		}
	}
	s.logger.Info().Str("store", storeID).Int("documents", len(docs)).Msg("Search store deleted")
	return nil
}

// Upload sends a page's markdown as a store document. The metadata header
// block is prepended so grounded answers can cite the source URL.
func (s *GeminiSearchStore) Upload(ctx context.Context, storeID, content string, meta interfaces.DocumentMetadata) (*interfaces.Document, error) {
	if storeID == "" {
		return nil, fmt.Errorf("store id is required")
	}
	body := BuildDocumentContent(content, meta)
	displayName := DocumentDisplayName(storeID, meta.Path)

	var file *genai.File
	err := s.withRetry(ctx, "upload", func() error {
		var uploadErr error
		file, uploadErr = s.client.Files.Upload(ctx, strings.NewReader(body), &genai.UploadFileConfig{
			MIMEType:    documentMIMEType,
			DisplayName: displayName,
		})
		return uploadErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload document for %s: %w", meta.URL, err)
	}

	s.logger.Debug().
		Str("store", storeID).
		Str("path", meta.Path).
		Str("file", file.Name).
		Msg("Document uploaded")

	return toDocument(file), nil
}

func (s *GeminiSearchStore) GetDocument(ctx context.Context, name string) (*interfaces.Document, error) {
	file, err := s.client.Files.Get(ctx, name, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, interfaces.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", name, err)
	}
	return toDocument(file), nil
}

// DeleteDocument removes a document. A missing document counts as success;
// the desired state is reached either way.
func (s *GeminiSearchStore) DeleteDocument(ctx context.Context, name string) error {
	err := s.withRetry(ctx, "delete", func() error {
		_, deleteErr := s.client.Files.Delete(ctx, name, nil)
		return deleteErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete document %s: %w", name, err)
	}
	return nil
}

func (s *GeminiSearchStore) ListDocuments(ctx context.Context, storeID string) ([]*interfaces.Document, error) {
	prefix := storeID + displayNameSeparator
	var docs []*interfaces.Document
	for f, err := range s.client.Files.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list documents for %s: %w", storeID, err)
		}
		if !strings.HasPrefix(f.DisplayName, prefix) {
			continue
		}
		docs = append(docs, toDocument(f))
	}
	return docs, nil
}

// Query runs grounded generation over the store's active documents and
// returns the answer with any grounding citations the model surfaced.
func (s *GeminiSearchStore) Query(ctx context.Context, storeID, question string, opts *interfaces.QueryOptions) (*interfaces.QueryResult, error) {
	files, err := s.collectQueryFiles(ctx, storeID, opts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("store %s has no active documents to query", storeID)
	}

	queryCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(`You are answering questions about a single website using only the attached documents.
Each document starts with a metadata header; the Source-URL line is the page's canonical address.
Answer the question below using only the attached content. When you state a fact, cite the Source-URL of the document it came from.
If the documents do not contain the answer, say so plainly.

Question: %s`, question)

	parts := make([]*genai.Part, 0, len(files)+1)
	for _, f := range files {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	var resp *genai.GenerateContentResponse
	err = s.withRetry(queryCtx, "query", func() error {
		var genErr error
		resp, genErr = s.client.Models.GenerateContent(queryCtx, s.config.QueryModel, contents, nil)
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("grounded query failed: %w", err)
	}

	result := &interfaces.QueryResult{}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var answer strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				answer.WriteString(part.Text)
			}
		}
		result.Answer = answer.String()

		if gm := resp.Candidates[0].GroundingMetadata; gm != nil {
			for _, chunk := range gm.GroundingChunks {
				if chunk.Web != nil {
					result.Grounding = append(result.Grounding, interfaces.GroundingChunk{
						URI:   chunk.Web.URI,
						Title: chunk.Web.Title,
					})
				}
				if chunk.RetrievedContext != nil {
					result.Grounding = append(result.Grounding, interfaces.GroundingChunk{
						URI:   chunk.RetrievedContext.URI,
						Title: chunk.RetrievedContext.Title,
						Text:  chunk.RetrievedContext.Text,
					})
				}
			}
		}
	}

	s.logger.Debug().
		Str("store", storeID).
		Int("documents", len(files)).
		Int("grounding_chunks", len(result.Grounding)).
		Msg("Grounded query completed")

	return result, nil
}

// collectQueryFiles gathers the store's ACTIVE files for grounding, newest
// first, honoring the optional path-prefix filter and document limit.
func (s *GeminiSearchStore) collectQueryFiles(ctx context.Context, storeID string, opts *interfaces.QueryOptions) ([]*genai.File, error) {
	prefix := storeID + displayNameSeparator

	var files []*genai.File
	for f, err := range s.client.Files.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list documents for %s: %w", storeID, err)
		}
		if !strings.HasPrefix(f.DisplayName, prefix) {
			continue
		}
		if interfaces.ParseDocumentState(string(f.State)) != interfaces.DocumentStateActive {
			continue
		}
		if opts != nil && opts.PathPrefix != "" {
			_, path, ok := SplitDisplayName(f.DisplayName)
			if !ok || !strings.HasPrefix(path, opts.PathPrefix) {
				continue
			}
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, k int) bool { return files[i].CreateTime.After(files[k].CreateTime) })

	limit := s.config.QueryDocumentLimit
	if opts != nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// withRetry wraps one API call with rate-limit-aware retries. Non-rate-limit
// errors get a short linear backoff; rate limits honor the API-provided delay.
func (s *GeminiSearchStore) withRetry(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if isNotFound(lastErr) || attempt == s.retry.MaxRetries {
			return lastErr
		}

		var backoff time.Duration
		if IsRateLimitError(lastErr) {
			apiDelay := ExtractRetryDelay(lastErr)
			backoff = s.retry.CalculateBackoff(attempt, apiDelay)
			s.logger.Warn().
				Str("op", op).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Rate limit hit, waiting before retry")
		} else {
			backoff = time.Duration(attempt+1) * 2 * time.Second
			s.logger.Warn().
				Str("op", op).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying search store call")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

func toDocument(f *genai.File) *interfaces.Document {
	doc := &interfaces.Document{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		MIMEType:    f.MIMEType,
		CreateTime:  f.CreateTime,
		State:       string(f.State),
	}
	if f.SizeBytes != nil {
		doc.SizeBytes = *f.SizeBytes
	}
	return doc
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404
	}
	errStr := err.Error()
	return strings.Contains(errStr, "404") || strings.Contains(errStr, "NOT_FOUND")
}
