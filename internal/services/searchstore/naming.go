package searchstore

import (
	"strings"
	"time"

	"github.com/ternarybob/sitedex/internal/interfaces"
)

// Documents in the external files service are flat; store membership is
// encoded in the display name as "<storeID>|<path>". The separator never
// appears in store identifiers (see StoreDisplayName) and URLs paths keep
// their own escaping, so the first separator splits unambiguously.
const displayNameSeparator = "|"

// DocumentDisplayName composes the namespaced display name for a page.
func DocumentDisplayName(storeID, path string) string {
	return storeID + displayNameSeparator + path
}

// SplitDisplayName returns the store id and path encoded in a display name.
// The second return is false for names that carry no namespace.
func SplitDisplayName(displayName string) (storeID, path string, ok bool) {
	idx := strings.Index(displayName, displayNameSeparator)
	if idx <= 0 {
		return "", "", false
	}
	return displayName[:idx], displayName[idx+1:], true
}

// BuildDocumentContent prepends the metadata header block the grounded query
// prompt relies on for citations, then the markdown body.
func BuildDocumentContent(content string, meta interfaces.DocumentMetadata) string {
	var b strings.Builder
	b.WriteString("Source-URL: " + meta.URL + "\n")
	if meta.Title != "" {
		b.WriteString("Title: " + meta.Title + "\n")
	}
	b.WriteString("Path: " + meta.Path + "\n")
	if !meta.LastUpdated.IsZero() {
		b.WriteString("Last-Updated: " + meta.LastUpdated.UTC().Format(time.RFC3339) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}
