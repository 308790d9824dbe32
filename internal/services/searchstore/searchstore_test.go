package searchstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/sitedex/internal/interfaces"
)

func TestDocumentDisplayNameRoundTrip(t *testing.T) {
	name := DocumentDisplayName("website-example-com-1", "/docs/getting-started")
	storeID, path, ok := SplitDisplayName(name)
	assert.True(t, ok)
	assert.Equal(t, "website-example-com-1", storeID)
	assert.Equal(t, "/docs/getting-started", path)

	_, _, ok = SplitDisplayName("no-namespace-here")
	assert.False(t, ok)
}

func TestBuildDocumentContent(t *testing.T) {
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	body := BuildDocumentContent("# Docs\n\nwelcome", interfaces.DocumentMetadata{
		URL:         "https://example.com/docs",
		Title:       "Docs",
		Path:        "/docs",
		LastUpdated: updated,
	})

	assert.Contains(t, body, "Source-URL: https://example.com/docs\n")
	assert.Contains(t, body, "Title: Docs\n")
	assert.Contains(t, body, "Path: /docs\n")
	assert.Contains(t, body, "Last-Updated: 2026-08-01T12:00:00Z\n")
	assert.Contains(t, body, "\n\n# Docs\n\nwelcome")
}

func TestBuildDocumentContentSkipsEmptyTitle(t *testing.T) {
	body := BuildDocumentContent("x", interfaces.DocumentMetadata{URL: "https://e.com/a", Path: "/a"})
	assert.NotContains(t, body, "Title:")
}

func TestParseDocumentState(t *testing.T) {
	tests := []struct {
		raw  string
		want interfaces.DocumentState
	}{
		{"ACTIVE", interfaces.DocumentStateActive},
		{"STATE_ACTIVE", interfaces.DocumentStateActive},
		{"active", interfaces.DocumentStateActive},
		{"FAILED", interfaces.DocumentStateFailed},
		{"STATE_FAILED", interfaces.DocumentStateFailed},
		{"PROCESSING", interfaces.DocumentStateProcessing},
		{"", interfaces.DocumentStateProcessing},
		{"SOMETHING_NEW", interfaces.DocumentStateProcessing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, interfaces.ParseDocumentState(tt.raw), "raw=%q", tt.raw)
	}
}

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, IsRateLimitError(nil))
	assert.False(t, IsRateLimitError(errors.New("connection refused")))
	assert.True(t, IsRateLimitError(errors.New("Error 429: too many requests")))
	assert.True(t, IsRateLimitError(errors.New("status RESOURCE_EXHAUSTED")))
	assert.True(t, IsRateLimitError(errors.New("quota exceeded for model")))
}

func TestExtractRetryDelay(t *testing.T) {
	err := errors.New("Error 429, Message: rate limited. Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED")
	got := ExtractRetryDelay(err)
	assert.InDelta(t, 45.387, got.Seconds(), 0.01)

	assert.Zero(t, ExtractRetryDelay(errors.New("no delay here")))
	assert.Zero(t, ExtractRetryDelay(nil))

	got = ExtractRetryDelay(errors.New("retryDelay: 12s"))
	assert.Equal(t, 12*time.Second, got)
}

func TestCalculateBackoff(t *testing.T) {
	cfg := NewDefaultRetryConfig()

	// No API hint: starts at InitialBackoff and grows.
	first := cfg.CalculateBackoff(0, 0)
	second := cfg.CalculateBackoff(1, 0)
	assert.Equal(t, DefaultInitialBackoff, first)
	assert.Greater(t, second, first)

	// API-provided delay wins over the configured base.
	hinted := cfg.CalculateBackoff(0, 10*time.Second)
	assert.Equal(t, 11*time.Second, hinted)

	// Capped at MaxBackoff.
	capped := cfg.CalculateBackoff(10, 30*time.Second)
	assert.Equal(t, DefaultMaxBackoff, capped)
}
