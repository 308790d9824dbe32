package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WebsiteStorage implements the WebsiteStorage interface for Badger
type WebsiteStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWebsiteStorage creates a new WebsiteStorage instance
func NewWebsiteStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WebsiteStorage {
	return &WebsiteStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WebsiteStorage) CreateWebsite(ctx context.Context, w *models.Website) error {
	if w.ID == "" {
		return fmt.Errorf("website ID is required")
	}
	if w.BaseDomain == "" {
		return fmt.Errorf("website base domain is required")
	}

	// Base domain is unique across the table.
	existing, err := s.GetWebsiteByBaseDomain(ctx, w.BaseDomain)
	if err == nil && existing != nil {
		return fmt.Errorf("website already exists for base domain %s", w.BaseDomain)
	}

	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now

	if err := s.db.Store().Insert(w.ID, w); err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}
	return nil
}

func (s *WebsiteStorage) GetWebsite(ctx context.Context, id string) (*models.Website, error) {
	var w models.Website
	if err := s.db.Store().Get(id, &w); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("website not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get website: %w", err)
	}
	return &w, nil
}

func (s *WebsiteStorage) GetWebsiteByBaseDomain(ctx context.Context, baseDomain string) (*models.Website, error) {
	var sites []models.Website
	err := s.db.Store().Find(&sites, badgerhold.Where("BaseDomain").Eq(baseDomain).And("Deleted").Eq(false))
	if err != nil {
		return nil, fmt.Errorf("failed to find website: %w", err)
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("website not found for base domain: %s", baseDomain)
	}
	return &sites[0], nil
}

func (s *WebsiteStorage) UpdateWebsite(ctx context.Context, w *models.Website) error {
	if w.ID == "" {
		return fmt.Errorf("website ID is required")
	}

	// The search-store identifier is immutable once assigned.
	var current models.Website
	if err := s.db.Store().Get(w.ID, &current); err == nil {
		if current.SearchStoreID != "" && w.SearchStoreID != current.SearchStoreID {
			return fmt.Errorf("search store id is immutable for website %s", w.ID)
		}
	}

	w.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(w.ID, w); err != nil {
		return fmt.Errorf("failed to update website: %w", err)
	}
	return nil
}

func (s *WebsiteStorage) ListWebsites(ctx context.Context) ([]*models.Website, error) {
	var sites []models.Website
	if err := s.db.Store().Find(&sites, badgerhold.Where("Deleted").Eq(false).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}

	result := make([]*models.Website, len(sites))
	for i := range sites {
		result[i] = &sites[i]
	}
	return result, nil
}

func (s *WebsiteStorage) SoftDeleteWebsite(ctx context.Context, id string) error {
	w, err := s.GetWebsite(ctx, id)
	if err != nil {
		return err
	}
	w.Deleted = true
	w.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(w.ID, w); err != nil {
		return fmt.Errorf("failed to soft delete website: %w", err)
	}
	return nil
}
