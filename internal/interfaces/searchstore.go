package interfaces

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrDocumentNotFound is returned by GetDocument when the external store no
// longer holds the document. DeleteDocument treats the condition as success.
var ErrDocumentNotFound = errors.New("search store: document not found")

// DocumentState is the three-valued state the core derives from the external
// store's state string. It lives in job metadata, never on the page row.
type DocumentState string

const (
	DocumentStateActive     DocumentState = "ACTIVE"
	DocumentStateProcessing DocumentState = "PROCESSING"
	DocumentStateFailed     DocumentState = "FAILED"
)

// ParseDocumentState maps an external state string onto the three-valued
// enumeration. Matching is case-insensitive and accepts both STATE_* and bare
// variants; unknown strings map to PROCESSING so the next indexing run
// re-verifies instead of deleting.
func ParseDocumentState(raw string) DocumentState {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "STATE_")
	switch s {
	case "ACTIVE":
		return DocumentStateActive
	case "FAILED":
		return DocumentStateFailed
	default:
		return DocumentStateProcessing
	}
}

// StoreInfo describes one file-search store.
type StoreInfo struct {
	ID          string
	DisplayName string
	CreateTime  time.Time
}

// DocumentMetadata is attached to every uploaded document.
type DocumentMetadata struct {
	URL         string
	Title       string
	Path        string
	LastUpdated time.Time
}

// Document is the external store's view of an uploaded page.
type Document struct {
	Name        string
	DisplayName string
	MIMEType    string
	SizeBytes   int64
	CreateTime  time.Time
	State       string // raw state string; use ParseDocumentState
}

// GroundingChunk is one cited source of a grounded answer. URI may be empty;
// callers fall back to extracting a URL token from Text.
type GroundingChunk struct {
	URI   string
	Title string
	Text  string
}

// QueryResult is a grounded answer with its citations.
type QueryResult struct {
	Answer    string
	Grounding []GroundingChunk
}

// QueryOptions carries optional metadata filtering, e.g. a path prefix that
// restricts grounding to pages under `path LIKE "<prefix>%"`.
type QueryOptions struct {
	PathPrefix string
	Limit      int
}

// SearchStore is the semantic search collaborator: file-search stores,
// document upload/get/delete, and grounded querying.
type SearchStore interface {
	CreateStore(ctx context.Context, displayName string) (*StoreInfo, error)
	GetStore(ctx context.Context, storeID string) (*StoreInfo, error)
	ListStores(ctx context.Context) ([]*StoreInfo, error)
	DeleteStore(ctx context.Context, storeID string) error

	Upload(ctx context.Context, storeID, content string, meta DocumentMetadata) (*Document, error)
	GetDocument(ctx context.Context, name string) (*Document, error)
	DeleteDocument(ctx context.Context, name string) error
	ListDocuments(ctx context.Context, storeID string) ([]*Document, error)

	Query(ctx context.Context, storeID, question string, opts *QueryOptions) (*QueryResult, error)
}
