// Package sqlite stores key-value pairs in a single-file SQLite database
// using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/interfaces"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// KVStorage implements interfaces.KeyValueStorage on a sqlite table.
type KVStorage struct {
	db     *sql.DB
	logger *common.Logger
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string, logger *common.Logger) (*KVStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	// Writers in other processes wait for the lock instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	logger.Debug().Str("path", path).Msg("sqlite database initialized")

	return &KVStorage{db: db, logger: logger}, nil
}

// Get retrieves a value by key. Absent keys return an error wrapping interfaces.ErrNotFound.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

// Set stores a key-value pair, replacing any previous value.
func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Update runs fn inside a BEGIN IMMEDIATE transaction, which takes the
// database write lock before reading, so concurrent writers in any process
// are serialised.
func (s *KVStorage) Update(ctx context.Context, key string, fn interfaces.UpdateFunc) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sqlite connection: %w", err)
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("failed to begin update of %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	var current string
	found := true
	if err = conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&current); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get key %s: %w", key, err)
		}
		found = false
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	if _, err = conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, next); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	if _, err = conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("failed to commit update of %s: %w", key, err)
	}
	return nil
}

// Delete removes a key-value pair. Deleting an absent key is not an error.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// GetAll retrieves all key-value pairs.
func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all keys: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kv rows: %w", err)
	}
	return result, nil
}

// Close closes the database.
func (s *KVStorage) Close() error {
	return s.db.Close()
}

// Manager implements interfaces.StorageManager for sqlite.
type Manager struct {
	kv *KVStorage
}

// NewManager opens the sqlite database named in cfg.
func NewManager(logger *common.Logger, cfg *config.SQLiteConfig) (interfaces.StorageManager, error) {
	kv, err := Open(cfg.Path, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{kv: kv}, nil
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage { return m.kv }
func (m *Manager) Backend() string                            { return "sqlite" }
func (m *Manager) Close() error                               { return m.kv.Close() }
