package models

import "time"

// Website represents a registered base domain and its external search store.
// BaseDomain is stored with a leading "www." stripped so that example.com and
// www.example.com resolve to the same record; every other subdomain is a
// distinct website.
type Website struct {
	ID         string `json:"id" badgerhold:"key"`
	SeedURL    string `json:"seed_url"`
	BaseDomain string `json:"base_domain" badgerhold:"unique"`
	Name       string `json:"name"`

	// External search store identity. SearchStoreID is immutable once set.
	SearchStoreID   string `json:"search_store_id,omitempty"`
	SearchStoreName string `json:"search_store_name,omitempty"`

	LastFullCrawl        *time.Time `json:"last_full_crawl,omitempty"`
	CreatedByIngestionID string     `json:"created_by_ingestion_id,omitempty"`

	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
