// Package badger is the default durable backend: an embedded badger
// database accessed through badgerhold.
package badger

import (
	"fmt"
	"os"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// Manager owns the open badger database and the KV view over it.
type Manager struct {
	store  *badgerhold.Store
	kv     *KVStorage
	logger *common.Logger
	path   string
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager opens (creating if needed) the database directory at cfg.Path.
// Badger holds an exclusive lock on the directory until Close.
func NewManager(logger *common.Logger, cfg *config.BadgerConfig) (interfaces.StorageManager, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", cfg.Path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", cfg.Path, err)
	}

	logger.Debug().Str("path", cfg.Path).Msg("badger storage opened")

	return &Manager{
		store:  store,
		kv:     NewKVStorage(store, logger),
		logger: logger,
		path:   cfg.Path,
	}, nil
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

func (m *Manager) Backend() string {
	return "badger"
}

// Close releases the directory lock. It is safe to call more than once.
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	if err != nil {
		return fmt.Errorf("failed to close badger database at %s: %w", m.path, err)
	}
	m.logger.Debug().Str("path", m.path).Msg("badger storage closed")
	return nil
}
