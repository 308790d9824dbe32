package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"golang.org/x/time/rate"
)

// Service implements the Crawler interface with an in-process HTTP fetcher.
// Fetches are rate limited per host and batches run as background goroutines
// tracked in memory; batch identifiers do not survive a restart, which is why
// crash recovery treats an unknown batch as failed.
type Service struct {
	config *common.CrawlerConfig
	logger arbor.ILogger
	client *http.Client

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	batchesMu sync.RWMutex
	batches   map[string]*batch
}

// NewService creates the in-process crawler.
func NewService(config *common.CrawlerConfig, logger arbor.ILogger) interfaces.Crawler {
	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		limiters: make(map[string]*rate.Limiter),
		batches:  make(map[string]*batch),
	}
}

// hostLimiter returns the shared token bucket for a host.
func (s *Service) hostLimiter(host string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	limiter, ok := s.limiters[host]
	if !ok {
		rps := s.config.RequestsPerSecond
		if rps <= 0 {
			rps = 2
		}
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
		s.limiters[host] = limiter
	}
	return limiter
}

// fetch performs one rate-limited GET and returns the final URL (after
// redirects), the status code, content type and the capped body.
func (s *Service) fetch(ctx context.Context, rawURL string) (finalURL string, statusCode int, contentType, body string, err error) {
	if host, hostErr := common.ExtractDomain(rawURL); hostErr == nil {
		if err := s.hostLimiter(host).Wait(ctx); err != nil {
			return "", 0, "", "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, "", "", fmt.Errorf("invalid request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, "", "", fmt.Errorf("fetch failed for %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	maxBody := s.config.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", 0, "", "", fmt.Errorf("read failed for %s: %w", rawURL, err)
	}

	return resp.Request.URL.String(), resp.StatusCode, resp.Header.Get("Content-Type"), string(data), nil
}

// isHTML reports whether a response body should go through extraction. An
// absent content type is treated as HTML; servers that omit it usually serve
// pages.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml+xml")
}

// Scrape fetches and extracts a single URL. Non-2xx responses are reported
// through Metadata.StatusCode rather than an error so batch callers can record
// per-URL outcomes; errors are reserved for transport failures.
func (s *Service) Scrape(ctx context.Context, rawURL string, opts *interfaces.ScrapeOptions) (*interfaces.ScrapeResult, error) {
	onlyMain := s.config.OnlyMainContent
	if opts != nil {
		onlyMain = opts.OnlyMainContent
	}
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	finalURL, status, contentType, body, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	result := &interfaces.ScrapeResult{
		URL: rawURL,
		Metadata: interfaces.ScrapeMetadata{
			SourceURL:  finalURL,
			StatusCode: status,
		},
	}

	if status < 200 || status >= 300 {
		s.logger.Debug().Str("url", rawURL).Int("status", status).Msg("Non-success response")
		return result, nil
	}
	if !isHTML(contentType) {
		s.logger.Debug().Str("url", rawURL).Str("content_type", contentType).Msg("Skipping non-HTML response")
		return result, nil
	}

	page, err := ExtractPage(body, finalURL, onlyMain)
	if err != nil {
		return nil, err
	}

	result.Markdown = page.Markdown
	result.HTML = body
	result.Metadata = page.Metadata
	result.Metadata.StatusCode = status
	result.Metadata.SourceURL = finalURL
	return result, nil
}

// Map discovers same-site URLs by breadth-first link traversal from the seed.
// Hosts outside the seed's base domain are skipped; www and the apex count as
// the same site.
func (s *Service) Map(ctx context.Context, seedURL string, opts *interfaces.MapOptions) (*interfaces.MapResult, error) {
	seed, err := common.NormalizeURL(common.EnsureScheme(seedURL))
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}
	seedHost, err := common.ExtractDomain(seed)
	if err != nil {
		return nil, fmt.Errorf("cannot derive base domain from %s: %w", seed, err)
	}
	baseDomain := common.ExtractBaseDomain(seedHost)

	limit := s.config.MapLimit
	if opts != nil && opts.Limit > 0 {
		limit = opts.Limit
	}
	if limit <= 0 {
		limit = 5000
	}
	maxDepth := s.config.MapMaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}
	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type queued struct {
		url   string
		depth int
	}

	visited := map[string]struct{}{seed: {}}
	result := &interfaces.MapResult{Links: []interfaces.MapLink{{URL: seed}}}
	queue := []queued{{url: seed, depth: 0}}

	for len(queue) > 0 && len(result.Links) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			continue
		}

		finalURL, status, contentType, body, err := s.fetch(ctx, item.url)
		if err != nil {
			s.logger.Debug().Str("url", item.url).Err(err).Msg("Map fetch failed, skipping")
			continue
		}
		if status < 200 || status >= 300 || !isHTML(contentType) {
			continue
		}

		page, err := ExtractPage(body, finalURL, false)
		if err != nil {
			continue
		}

		for _, link := range page.Links {
			normalized, err := common.NormalizeURL(link)
			if err != nil {
				continue
			}
			if !s.inScope(normalized, baseDomain, opts) {
				continue
			}
			if opts != nil && opts.Search != "" &&
				!strings.Contains(strings.ToLower(normalized), strings.ToLower(opts.Search)) {
				continue
			}
			if _, seen := visited[normalized]; seen {
				continue
			}
			visited[normalized] = struct{}{}

			result.Links = append(result.Links, interfaces.MapLink{URL: normalized})
			if len(result.Links) >= limit {
				break
			}
			queue = append(queue, queued{url: normalized, depth: item.depth + 1})
		}
	}

	s.logger.Info().
		Str("seed", seed).
		Str("base_domain", baseDomain).
		Int("urls", len(result.Links)).
		Msg("URL discovery completed")

	return result, nil
}

func (s *Service) inScope(normalizedURL, baseDomain string, opts *interfaces.MapOptions) bool {
	if common.IsURLInBaseDomain(normalizedURL, baseDomain) {
		return true
	}
	if opts != nil && opts.IncludeSubdomains {
		host, err := common.ExtractDomain(normalizedURL)
		if err != nil {
			return false
		}
		return strings.HasSuffix(host, "."+baseDomain)
	}
	return false
}
