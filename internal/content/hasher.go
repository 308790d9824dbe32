// Package content provides the markdown fingerprinting and title helpers
// shared by the ingestion and sync pipelines.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// utf8BOM is stripped before hashing so byte-identical markdown hashes the
// same regardless of BOM presence. No other canonicalization is applied; the
// crawler's raw markdown is the unit of change detection.
const utf8BOM = "\xEF\xBB\xBF"

// Hash returns the hex sha256 fingerprint of a page's markdown body.
func Hash(markdown string) string {
	markdown = strings.TrimPrefix(markdown, utf8BOM)
	sum := sha256.Sum256([]byte(markdown))
	return hex.EncodeToString(sum[:])
}

// Changed computes the markdown's fingerprint and reports whether it differs
// from the stored hash. An empty stored hash always counts as changed.
func Changed(markdown, storedHash string) (newHash string, changed bool) {
	newHash = Hash(markdown)
	return newHash, newHash != storedHash
}
