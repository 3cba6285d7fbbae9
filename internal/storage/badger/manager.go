package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// Manager owns the Badger connection and every storage implementation.
type Manager struct {
	db            *BadgerDB
	logger        arbor.ILogger
	jobStorage    interfaces.JobStorage
	queueStorage  interfaces.QueueStorage
	pageStorage   interfaces.PageStorage
	eventStorage  interfaces.EventStorage
	kvStorage     interfaces.KeyValueStorage
	userStorage   interfaces.UserStorage
	jobLogStorage interfaces.JobLogStorage
}

// NewManager opens the database and wires up all storages.
func NewManager(logger arbor.ILogger, config *common.Config) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger: %w", err)
	}

	return &Manager{
		db:            db,
		logger:        logger,
		jobStorage:    NewJobStorage(db, logger),
		queueStorage:  NewQueueStorage(db, logger),
		pageStorage:   NewPageStorage(db, logger),
		eventStorage:  NewEventStorage(db, logger),
		kvStorage:     NewKVStorage(db, logger),
		userStorage:   NewUserStorage(db, logger),
		jobLogStorage: NewJobLogStorage(db, logger),
	}, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobStorage
}

func (m *Manager) QueueStorage() interfaces.QueueStorage {
	return m.queueStorage
}

func (m *Manager) PageStorage() interfaces.PageStorage {
	return m.pageStorage
}

func (m *Manager) EventStorage() interfaces.EventStorage {
	return m.eventStorage
}

func (m *Manager) KVStorage() interfaces.KeyValueStorage {
	return m.kvStorage
}

func (m *Manager) UserStorage() interfaces.UserStorage {
	return m.userStorage
}

func (m *Manager) JobLogStorage() interfaces.JobLogStorage {
	return m.jobLogStorage
}

// DB exposes the underlying connection for maintenance tasks.
func (m *Manager) DB() interface{} {
	return m.db
}

// Close shuts down the database connection.
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage manager")
	return m.db.Close()
}

var _ interfaces.StorageManager = (*Manager)(nil)
