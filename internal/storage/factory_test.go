package storage

import (
	"path/filepath"
	"testing"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
)

func TestNewStorageManager_Backends(t *testing.T) {
	logger := common.NewSilentLogger()

	for _, backend := range []string{"badger", "sqlite", "memory"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.Storage.Backend = backend
			cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "badger")
			cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "kv.db")

			m, err := NewStorageManager(logger, cfg)
			if err != nil {
				t.Fatalf("NewStorageManager(%s) failed: %v", backend, err)
			}
			defer m.Close()

			if m.Backend() != backend {
				t.Errorf("expected backend %s, got %s", backend, m.Backend())
			}
		})
	}
}

func TestNewStorageManager_Unknown(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Backend = "floppy"

	if _, err := NewStorageManager(common.NewSilentLogger(), cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}
