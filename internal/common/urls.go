package common

import (
	"fmt"
	"iter"
	"net"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL: lowercase scheme and host, default ports
// stripped, the bare root path dropped, fragment removed. Path case and the
// query string are preserved. The result is stable under re-normalization.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %q", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
		if (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
			host = h
		}
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "/" {
		u.Path = ""
	}

	return u.String(), nil
}

// EnsureScheme accepts a fully qualified URL or a bare domain and returns an
// absolute URL, defaulting to https for bare domains.
func EnsureScheme(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ref
	}
	if strings.Contains(ref, "://") {
		return ref
	}
	return "https://" + ref
}

// ExtractDomain returns the exact host of a URL, lowercased, without any
// default port.
func ExtractDomain(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// ExtractBaseDomain strips a leading "www." label from a host with exactly
// three labels: www.a.b -> a.b. Every other host, including deeper www
// prefixes and non-www subdomains, is returned unchanged.
func ExtractBaseDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	labels := strings.Split(host, ".")
	if len(labels) == 3 && labels[0] == "www" {
		return strings.Join(labels[1:], ".")
	}
	return host
}

// IsURLInBaseDomain reports whether the URL's host is the base domain itself
// or its www. alias. All other subdomain prefixes are excluded.
func IsURLInBaseDomain(rawURL, baseDomain string) bool {
	host, err := ExtractDomain(rawURL)
	if err != nil {
		return false
	}
	baseDomain = strings.ToLower(baseDomain)
	return host == baseDomain || host == "www."+baseDomain
}

// FilterByDomain yields the URLs whose host passes IsURLInBaseDomain.
func FilterByDomain(urls []string, baseDomain string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, u := range urls {
			if !IsURLInBaseDomain(u, baseDomain) {
				continue
			}
			if !yield(u) {
				return
			}
		}
	}
}
