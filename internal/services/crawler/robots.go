package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/ternarybob/arbor"
)

const (
	robotsPath        = "/robots.txt"
	robotsMaxBody     = 512 * 1024
	robotsCacheExpiry = time.Hour
)

// RobotsChecker fetches and caches robots.txt rules per host. A missing,
// unreadable or non-2xx robots.txt allows everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	logger    arbor.ILogger
	mu        sync.RWMutex
	entries   map[string]*robotsEntry
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	allowAll  bool
}

func NewRobotsChecker(client *http.Client, userAgent string, logger arbor.ILogger) *RobotsChecker {
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		entries:   make(map[string]*robotsEntry),
	}
}

// Allowed reports whether the crawler may fetch rawURL under the host's
// robots.txt rules.
func (r *RobotsChecker) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}

	entry := r.lookup(ctx, parsed.Scheme, strings.ToLower(parsed.Host))
	if entry.allowAll {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return entry.data.TestAgent(path, r.userAgent)
}

// Sitemaps returns the sitemap URLs declared in the host's robots.txt.
func (r *RobotsChecker) Sitemaps(ctx context.Context, rawURL string) []string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	entry := r.lookup(ctx, parsed.Scheme, strings.ToLower(parsed.Host))
	if entry.data == nil {
		return nil
	}
	return entry.data.Sitemaps
}

// lookup returns the cached entry for host, fetching robots.txt when the
// cache is cold or stale.
func (r *RobotsChecker) lookup(ctx context.Context, scheme, host string) *robotsEntry {
	r.mu.RLock()
	entry, ok := r.entries[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheExpiry {
		return entry
	}

	entry = r.fetch(ctx, scheme, host)

	r.mu.Lock()
	r.entries[host] = entry
	r.mu.Unlock()
	return entry
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) *robotsEntry {
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + host + robotsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &robotsEntry{fetchedAt: time.Now(), allowAll: true}
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Str("host", host).Err(err).Msg("robots.txt fetch failed, allowing all")
		return &robotsEntry{fetchedAt: time.Now(), allowAll: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &robotsEntry{fetchedAt: time.Now(), allowAll: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBody))
	if err != nil {
		return &robotsEntry{fetchedAt: time.Now(), allowAll: true}
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		r.logger.Debug().Str("host", host).Err(err).Msg("robots.txt parse failed, allowing all")
		return &robotsEntry{fetchedAt: time.Now(), allowAll: true}
	}

	r.logger.Debug().Str("host", host).Int("sitemaps", len(data.Sitemaps)).Msg("Loaded robots.txt")
	return &robotsEntry{data: data, fetchedAt: time.Now()}
}
