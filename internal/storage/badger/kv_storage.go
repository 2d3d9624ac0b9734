package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// blob is one stored value. The report history is a single blob under its
// history key; UpdatedAt records the last write for inspection with badger tools.
type blob struct {
	Key       string `badgerhold:"key"`
	Value     string
	UpdatedAt time.Time
}

// KVStorage implements interfaces.KeyValueStorage over a badgerhold store.
// Badger holds an exclusive lock on its directory, so this process is the only
// writer and mu is enough to make Update atomic.
type KVStorage struct {
	mu     sync.Mutex
	store  *badgerhold.Store
	logger *common.Logger
	now    func() time.Time
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

// NewKVStorage wraps an open badgerhold store.
func NewKVStorage(store *badgerhold.Store, logger *common.Logger) *KVStorage {
	return &KVStorage{store: store, logger: logger, now: time.Now}
}

// Get returns the value under key, or an error wrapping interfaces.ErrNotFound.
func (s *KVStorage) Get(_ context.Context, key string) (string, error) {
	var b blob
	if err := s.store.Get(key, &b); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return "", fmt.Errorf("badger get %s: %w", key, err)
	}
	return b.Value, nil
}

// Set replaces the value under key in one transaction.
func (s *KVStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, value)
}

func (s *KVStorage) put(key, value string) error {
	b := blob{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	if err := s.store.Upsert(key, &b); err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(value)).Msg("badger value written")
	return nil
}

// Delete removes key. A missing key is not an error.
func (s *KVStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(key, blob{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Update reads key, applies fn and writes the result while holding the write lock.
func (s *KVStorage) Update(ctx context.Context, key string, fn interfaces.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, key)
	found := err == nil
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	return s.put(key, next)
}

// GetAll returns every stored value by key.
func (s *KVStorage) GetAll(_ context.Context) (map[string]string, error) {
	var blobs []blob
	if err := s.store.Find(&blobs, nil); err != nil {
		return nil, fmt.Errorf("badger scan: %w", err)
	}
	out := make(map[string]string, len(blobs))
	for _, b := range blobs {
		out[b.Key] = b.Value
	}
	return out, nil
}
