package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"root trailing slash stripped", "https://example.com/", "https://example.com", false},
		{"scheme lowercased", "HTTPS://example.com", "https://example.com", false},
		{"host lowercased", "https://EXAMPLE.com/About", "https://example.com/About", false},
		{"path case preserved", "https://example.com/Docs/API", "https://example.com/Docs/API", false},
		{"default https port stripped", "https://example.com:443/x", "https://example.com/x", false},
		{"default http port stripped", "http://example.com:80/x", "http://example.com/x", false},
		{"non-default port kept", "https://example.com:8443/x", "https://example.com:8443/x", false},
		{"fragment removed", "https://example.com/page#section", "https://example.com/page", false},
		{"query preserved", "https://example.com/search?q=go&page=2", "https://example.com/search?q=go&page=2", false},
		{"bare domain rejected", "example.com", "", true},
		{"empty rejected", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"https://Example.COM/",
		"http://example.com:80/About?x=1#frag",
		"https://www.example.com/a/b/",
	}
	for _, in := range inputs {
		once, err := NormalizeURL(in)
		require.NoError(t, err)
		twice, err := NormalizeURL(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalize must be idempotent for %s", in)
	}
}

func TestExtractBaseDomain(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"www.example.com", "example.com"},
		{"example.com", "example.com"},
		{"blog.example.com", "blog.example.com"},
		{"www.blog.example.com", "www.blog.example.com"}, // four labels: unchanged
		{"WWW.Example.Com", "example.com"},
		{"localhost", "localhost"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractBaseDomain(tt.host), "host %s", tt.host)
	}
}

func TestExtractBaseDomainIdempotent(t *testing.T) {
	hosts := []string{"www.example.com", "x.a.b", "a.b", "www.a.b.c"}
	for _, h := range hosts {
		once := ExtractBaseDomain(h)
		assert.Equal(t, once, ExtractBaseDomain(once))
	}
}

func TestIsURLInBaseDomain(t *testing.T) {
	assert.True(t, IsURLInBaseDomain("https://a.b/", "a.b"))
	assert.True(t, IsURLInBaseDomain("https://www.a.b/", "a.b"))
	assert.False(t, IsURLInBaseDomain("https://x.a.b/", "a.b"))
	assert.False(t, IsURLInBaseDomain("https://a.b.evil.com/", "a.b"))
	assert.False(t, IsURLInBaseDomain("not a url", "a.b"))
}

func TestFilterByDomain(t *testing.T) {
	urls := []string{
		"https://www.example.com/",
		"https://www.example.com/about",
		"https://blog.example.com/post",
		"https://example.com/contact",
		"https://other.com/",
	}

	var got []string
	for u := range FilterByDomain(urls, "example.com") {
		got = append(got, u)
	}

	assert.Equal(t, []string{
		"https://www.example.com/",
		"https://www.example.com/about",
		"https://example.com/contact",
	}, got)
}

func TestEnsureScheme(t *testing.T) {
	assert.Equal(t, "https://example.com", EnsureScheme("example.com"))
	assert.Equal(t, "http://example.com", EnsureScheme("http://example.com"))
	assert.Equal(t, "https://example.com", EnsureScheme("  example.com "))
}
