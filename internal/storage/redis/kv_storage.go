// Package redis stores key-value pairs in a redis server, letting several
// portal instances share one report history. Update uses WATCH/MULTI, so
// concurrent read-modify-write cycles from different instances do not lose
// each other's changes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	goredis "github.com/go-redis/redis/v8"
)

const (
	scanBatch = 100
	// maxUpdateAttempts bounds WATCH retries when other writers keep changing the key.
	maxUpdateAttempts = 10
)

// KVStorage implements interfaces.KeyValueStorage on a redis client.
// Every key is stored under prefix.
type KVStorage struct {
	client *goredis.Client
	prefix string
	logger *common.Logger
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)

// NewKVStorage wraps an existing client.
func NewKVStorage(client *goredis.Client, prefix string, logger *common.Logger) *KVStorage {
	return &KVStorage{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get retrieves a value by key. Absent keys return an error wrapping interfaces.ErrNotFound.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores a key-value pair with no expiry.
func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Update applies fn under WATCH and writes the result in a MULTI/EXEC block.
// If the key changes between the read and EXEC, fn is run again on the new value.
func (s *KVStorage) Update(ctx context.Context, key string, fn interfaces.UpdateFunc) error {
	full := s.prefix + key

	txf := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, full).Result()
		found := true
		if err != nil {
			if !errors.Is(err, goredis.Nil) {
				return fmt.Errorf("failed to get key %s: %w", key, err)
			}
			found = false
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, full, next, 0)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, full)
		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		s.logger.Debug().Str("key", key).Int("attempt", attempt).Msg("redis key changed during update, retrying")
	}
	return fmt.Errorf("failed to update key %s: still contended after %d attempts", key, maxUpdateAttempts)
}

// Delete removes a key-value pair. Deleting an absent key is not an error.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// GetAll returns every key under the prefix, with the prefix stripped.
func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get all keys: %w", err)
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		result[strings.TrimPrefix(keys[i], s.prefix)] = str
	}
	return result, nil
}

// Manager implements interfaces.StorageManager for redis.
type Manager struct {
	client *goredis.Client
	kv     *KVStorage
	logger *common.Logger
}

// NewManager connects to redis and verifies the connection with PING.
func NewManager(logger *common.Logger, cfg *config.RedisConfig) (interfaces.StorageManager, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Debug().Str("addr", cfg.Addr).Str("prefix", cfg.Prefix).Msg("redis storage manager initialized")

	return &Manager{
		client: client,
		kv:     NewKVStorage(client, cfg.Prefix, logger),
		logger: logger,
	}, nil
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage { return m.kv }
func (m *Manager) Backend() string                            { return "redis" }

// Close closes the redis client.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
