// Package cache provides the shared per-URL crawl cache. Entries live in
// the key/value store under "crawl:"-prefixed keys so multiple jobs can
// reuse pages fetched by earlier crawls of the same site.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// keyPrefix namespaces cache entries inside the shared key/value store.
const keyPrefix = "crawl:"

// DefaultTTL is how long a cached page stays fresh when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Service implements interfaces.CacheService over generic key/value storage.
// Storage failures degrade to cache misses; a broken cache never fails a crawl.
type Service struct {
	kv     interfaces.KeyValueStorage
	ttl    time.Duration
	logger arbor.ILogger
}

var _ interfaces.CacheService = (*Service)(nil)

// NewService creates a URL cache with the given freshness window.
// A non-positive ttl falls back to DefaultTTL.
func NewService(kv interfaces.KeyValueStorage, ttl time.Duration, logger arbor.ILogger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// Key derives the storage key for a normalized URL: the first 16 hex
// characters of its SHA-256, prefixed with "crawl:". Callers must pass
// normalized URLs or equivalent pages will cache under different keys.
func Key(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return keyPrefix + hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached entry for a URL. Misses, expired entries, storage
// errors and undecodable payloads all return found=false. Expired entries
// are deleted on read so the store does not accumulate stale pages.
func (s *Service) Get(ctx context.Context, url string) (*models.CacheEntry, bool) {
	key := Key(url)

	value, err := s.kv.Get(ctx, key)
	if err != nil {
		if err != interfaces.ErrKeyNotFound {
			s.logger.Warn().Err(err).Str("url", url).Msg("Cache read failed, treating as miss")
		}
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("Corrupt cache entry, treating as miss")
		return nil, false
	}

	if s.expired(entry.CachedAt, time.Now()) {
		if err := s.kv.Delete(ctx, key); err != nil && err != interfaces.ErrKeyNotFound {
			s.logger.Warn().Err(err).Str("url", url).Msg("Failed to delete expired cache entry")
		}
		s.logger.Debug().
			Str("url", url).
			Str("cached_at", entry.CachedAt.Format(time.RFC3339)).
			Msg("Cache entry expired")
		return nil, false
	}

	return &entry, true
}

// Put stores an entry under the URL's cache key, stamping CachedAt.
func (s *Service) Put(ctx context.Context, url string, entry *models.CacheEntry) error {
	if entry == nil {
		return nil
	}
	entry.CachedAt = time.Now().UTC()

	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, Key(url), string(value)); err != nil {
		return err
	}

	s.logger.Debug().
		Str("url", url).
		Int("word_count", entry.WordCount).
		Int("links", len(entry.Links)).
		Msg("Cached page")
	return nil
}

// Delete removes the entry for a URL if present.
func (s *Service) Delete(ctx context.Context, url string) error {
	err := s.kv.Delete(ctx, Key(url))
	if err == interfaces.ErrKeyNotFound {
		return nil
	}
	return err
}

// Sweep deletes expired entries and returns how many were removed. Entries
// that fail to decode are removed too since Get can never serve them.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	pairs, err := s.kv.ListByPrefix(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, pair := range pairs {
		var entry models.CacheEntry
		corrupt := json.Unmarshal([]byte(pair.Value), &entry) != nil
		if !corrupt && !s.expired(entry.CachedAt, now) {
			continue
		}
		if err := s.kv.Delete(ctx, pair.Key); err != nil {
			if err == interfaces.ErrKeyNotFound {
				continue
			}
			s.logger.Warn().Err(err).Str("key", pair.Key).Msg("Failed to delete cache entry during sweep")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Int("scanned", len(pairs)).
			Msg("Cache sweep complete")
	}
	return removed, nil
}

func (s *Service) expired(cachedAt time.Time, now time.Time) bool {
	if cachedAt.IsZero() {
		return true
	}
	return now.Sub(cachedAt) > s.ttl
}
