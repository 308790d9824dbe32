package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
	"github.com/ternarybob/sitedex/internal/services/crawler"
	"github.com/ternarybob/sitedex/internal/services/engine"
	"github.com/ternarybob/sitedex/internal/services/query"
	"github.com/ternarybob/sitedex/internal/services/searchstore"
	"github.com/ternarybob/sitedex/internal/storage/badger"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	Crawler        interfaces.Crawler
	SearchStore    interfaces.SearchStore

	Engine *engine.Engine
	Query  *query.Facade
}

// New wires the application: storage, crawler, search store, job engine and
// query facade.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	storageManager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	crawlerService := crawler.NewService(&config.Crawler, logger)

	search, err := searchstore.NewGeminiSearchStore(ctx, &config.Gemini, logger)
	if err != nil {
		_ = storageManager.Close()
		return nil, fmt.Errorf("failed to initialize search store: %w", err)
	}

	jobEngine := engine.NewEngine(storageManager, crawlerService, search, &config.Engine, logger)
	facade := query.NewFacade(storageManager, search, logger)

	logger.Info().
		Str("storage_path", config.Storage.Badger.Path).
		Str("query_model", config.Gemini.QueryModel).
		Msg("Application initialized")

	return &App{
		Config:         config,
		Logger:         logger,
		StorageManager: storageManager,
		Crawler:        crawlerService,
		SearchStore:    search,
		Engine:         jobEngine,
		Query:          facade,
	}, nil
}

// Close releases application resources.
func (a *App) Close() error {
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
			return err
		}
	}
	a.Logger.Info().Msg("Application closed")
	return nil
}
