package storage

import (
	"fmt"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/bobmcallan/quant-portal/internal/storage/badger"
	"github.com/bobmcallan/quant-portal/internal/storage/memory"
	"github.com/bobmcallan/quant-portal/internal/storage/redis"
	"github.com/bobmcallan/quant-portal/internal/storage/sqlite"
)

// NewStorageManager creates the storage manager selected by cfg.Storage.Backend.
func NewStorageManager(logger *common.Logger, cfg *config.Config) (interfaces.StorageManager, error) {
	switch cfg.Storage.Backend {
	case "", "badger":
		return badger.NewManager(logger, &cfg.Storage.Badger)
	case "redis":
		return redis.NewManager(logger, &cfg.Storage.Redis)
	case "sqlite":
		return sqlite.NewManager(logger, &cfg.Storage.SQLite)
	case "memory":
		logger.Warn().Msg("memory storage backend selected, report history will not survive a restart")
		return memory.NewManager(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
