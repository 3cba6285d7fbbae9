package interfaces

import (
	"context"

	"github.com/ternarybob/doceo/internal/models"
)

// CacheService is the per-URL crawl cache. Failures of the underlying
// store surface as cache misses; a broken cache must never fail a crawl.
type CacheService interface {
	// Get returns the cached entry for an exact URL, or found=false on
	// miss, expiry or storage error. An expired entry is deleted on read.
	Get(ctx context.Context, url string) (entry *models.CacheEntry, found bool)

	// Put stores an entry under the URL's cache key, stamping CachedAt.
	Put(ctx context.Context, url string, entry *models.CacheEntry) error

	// Delete removes the entry for a URL if present.
	Delete(ctx context.Context, url string) error

	// Sweep deletes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}
