package badger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// kvRecord is the stored form of a key/value pair.
type kvRecord struct {
	Key       string `badgerhold:"key"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KVStorage implements the KeyValueStorage interface for Badger
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey lowercases and trims a key so lookups are case-insensitive.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	pair, err := s.GetPair(ctx, key)
	if err != nil {
		return "", err
	}
	return pair.Value, nil
}

func (s *KVStorage) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	key = normalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	var record kvRecord
	if err := s.db.Store().Get(key, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	return &interfaces.KeyValuePair{
		Key:       record.Key,
		Value:     record.Value,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}, nil
}

func (s *KVStorage) Set(ctx context.Context, key string, value string) error {
	key = normalizeKey(key)
	if key == "" {
		return fmt.Errorf("key is required")
	}

	now := time.Now().UTC()
	record := kvRecord{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Preserve CreatedAt across updates
	var existing kvRecord
	if err := s.db.Store().Get(key, &existing); err == nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	key = normalizeKey(key)
	if err := s.db.Store().Delete(key, &kvRecord{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	var records []kvRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	pairs := make([]interfaces.KeyValuePair, len(records))
	for i, r := range records {
		pairs[i] = interfaces.KeyValuePair{
			Key:       r.Key,
			Value:     r.Value,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].UpdatedAt.After(pairs[j].UpdatedAt)
	})
	return pairs, nil
}

func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	prefix = normalizeKey(prefix)

	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var pairs []interfaces.KeyValuePair
	for _, p := range all {
		if strings.HasPrefix(p.Key, prefix) {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func (s *KVStorage) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	pairs, err := s.ListByPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, p := range pairs {
		if err := s.db.Store().Delete(p.Key, &kvRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return deleted, fmt.Errorf("failed to delete key %s: %w", p.Key, err)
		}
		deleted++
	}
	return deleted, nil
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)
