// Package memory provides an in-process key-value backend. Nothing survives
// a restart; it backs tests and throwaway runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobmcallan/quant-portal/internal/interfaces"
)

// KVStorage is a map guarded by a RWMutex.
type KVStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

// NewKVStorage creates an empty store.
func NewKVStorage() *KVStorage {
	return &KVStorage{items: make(map[string]string)}
}

func (s *KVStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return v, nil
}

func (s *KVStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = value
	return nil
}

func (s *KVStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *KVStorage) Update(_ context.Context, key string, fn interfaces.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, found := s.items[key]
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	s.items[key] = next
	return nil
}

func (s *KVStorage) GetAll(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string, len(s.items))
	for k, v := range s.items {
		result[k] = v
	}
	return result, nil
}

// Manager implements interfaces.StorageManager for the memory backend.
type Manager struct {
	kv *KVStorage
}

// NewManager creates a manager over a fresh in-memory store.
func NewManager() *Manager {
	return &Manager{kv: NewKVStorage()}
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage { return m.kv }
func (m *Manager) Backend() string                            { return "memory" }
func (m *Manager) Close() error                               { return nil }
