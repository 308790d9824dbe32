package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitedex/internal/common"
	"github.com/ternarybob/sitedex/internal/interfaces"
)

// Manager owns the Badger connection and hands out the typed storages.
type Manager struct {
	db       *BadgerDB
	websites interfaces.WebsiteStorage
	pages    interfaces.PageStorage
	jobs     interfaces.JobStorage
}

// NewManager opens the database and wires the storages over it.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return &Manager{
		db:       db,
		websites: NewWebsiteStorage(db, logger),
		pages:    NewPageStorage(db, logger),
		jobs:     NewJobStorage(db, logger),
	}, nil
}

func (m *Manager) WebsiteStorage() interfaces.WebsiteStorage { return m.websites }

func (m *Manager) PageStorage() interfaces.PageStorage { return m.pages }

func (m *Manager) JobStorage() interfaces.JobStorage { return m.jobs }

func (m *Manager) Close() error {
	return m.db.Close()
}
