package models

import (
	"fmt"
	"time"
)

// CrawlConfig carries the per-job crawl options. Zero values on optional
// fields mean "use the server default"; ApplyDefaults resolves them before
// the job is persisted so stored jobs always carry concrete settings.
type CrawlConfig struct {
	MaxDepth              int  `json:"max_depth" toml:"max_depth" validate:"min=0,max=10"`
	MaxPages              int  `json:"max_pages" toml:"max_pages" validate:"min=1,max=1000"`
	IncludeCodeBlocks     bool `json:"include_code_blocks" toml:"include_code_blocks"`
	ExcludeNavigation     bool `json:"exclude_navigation" toml:"exclude_navigation"`
	FollowExternalLinks   bool `json:"follow_external_links" toml:"follow_external_links"`
	IncludeAnchors        bool `json:"include_anchors" toml:"include_anchors"`
	TimeoutMs             int  `json:"timeout_ms" toml:"timeout_ms" validate:"min=0"`
	PageTimeoutMs         int  `json:"page_timeout_ms" toml:"page_timeout_ms" validate:"min=0"`
	RateLimitMs           int  `json:"rate_limit_ms" toml:"rate_limit_ms" validate:"min=0"`
	MaxConcurrentRequests int  `json:"max_concurrent_requests" toml:"max_concurrent_requests" validate:"min=0,max=10"`
	MaxRetries            int  `json:"max_retries" toml:"max_retries" validate:"min=0,max=10"`
	QualityThreshold      int  `json:"quality_threshold" toml:"quality_threshold" validate:"min=0,max=100"`
	ForceRefresh          bool `json:"force_refresh" toml:"force_refresh"`
	RespectRobots         bool `json:"respect_robots" toml:"respect_robots"`
	UseSitemap            bool `json:"use_sitemap" toml:"use_sitemap"`
}

// CrawlConfigDefaults is the server-side source for unset options.
type CrawlConfigDefaults struct {
	MaxDepth              int
	MaxPages              int
	TimeoutMs             int
	PageTimeoutMs         int
	RateLimitMs           int
	MaxConcurrentRequests int
	MaxRetries            int
	QualityThreshold      int
	RespectRobots         bool
	UseSitemap            bool
}

// CrawlConfigRequest is the wire shape accepted on job creation. Booleans
// are pointers so "absent" and "false" survive JSON decoding.
type CrawlConfigRequest struct {
	MaxDepth              *int  `json:"max_depth,omitempty"`
	MaxPages              *int  `json:"max_pages,omitempty"`
	IncludeCodeBlocks     *bool `json:"include_code_blocks,omitempty"`
	ExcludeNavigation     *bool `json:"exclude_navigation,omitempty"`
	FollowExternalLinks   *bool `json:"follow_external_links,omitempty"`
	IncludeAnchors        *bool `json:"include_anchors,omitempty"`
	TimeoutMs             *int  `json:"timeout_ms,omitempty"`
	PageTimeoutMs         *int  `json:"page_timeout_ms,omitempty"`
	RateLimitMs           *int  `json:"rate_limit_ms,omitempty"`
	MaxConcurrentRequests *int  `json:"max_concurrent_requests,omitempty"`
	MaxRetries            *int  `json:"max_retries,omitempty"`
	QualityThreshold      *int  `json:"quality_threshold,omitempty"`
	ForceRefresh          *bool `json:"force_refresh,omitempty"`
	RespectRobots         *bool `json:"respect_robots,omitempty"`
	UseSitemap            *bool `json:"use_sitemap,omitempty"`
}

// CrawlRequest is the POST /api/jobs body.
type CrawlRequest struct {
	URL    string              `json:"url" validate:"required,url"`
	Config *CrawlConfigRequest `json:"config,omitempty"`
}

// ResolveCrawlConfig merges a request config over the server defaults,
// clamping every numeric option into its valid range.
func ResolveCrawlConfig(req *CrawlConfigRequest, defaults CrawlConfigDefaults) CrawlConfig {
	cfg := CrawlConfig{
		MaxDepth:              defaults.MaxDepth,
		MaxPages:              defaults.MaxPages,
		IncludeCodeBlocks:     true,
		ExcludeNavigation:     true,
		FollowExternalLinks:   false,
		IncludeAnchors:        false,
		TimeoutMs:             defaults.TimeoutMs,
		PageTimeoutMs:         defaults.PageTimeoutMs,
		RateLimitMs:           defaults.RateLimitMs,
		MaxConcurrentRequests: defaults.MaxConcurrentRequests,
		MaxRetries:            defaults.MaxRetries,
		QualityThreshold:      defaults.QualityThreshold,
		ForceRefresh:          false,
		RespectRobots:         defaults.RespectRobots,
		UseSitemap:            defaults.UseSitemap,
	}
	if req != nil {
		if req.MaxDepth != nil {
			cfg.MaxDepth = *req.MaxDepth
		}
		if req.MaxPages != nil {
			cfg.MaxPages = *req.MaxPages
		}
		if req.IncludeCodeBlocks != nil {
			cfg.IncludeCodeBlocks = *req.IncludeCodeBlocks
		}
		if req.ExcludeNavigation != nil {
			cfg.ExcludeNavigation = *req.ExcludeNavigation
		}
		if req.FollowExternalLinks != nil {
			cfg.FollowExternalLinks = *req.FollowExternalLinks
		}
		if req.IncludeAnchors != nil {
			cfg.IncludeAnchors = *req.IncludeAnchors
		}
		if req.TimeoutMs != nil {
			cfg.TimeoutMs = *req.TimeoutMs
		}
		if req.PageTimeoutMs != nil {
			cfg.PageTimeoutMs = *req.PageTimeoutMs
		}
		if req.RateLimitMs != nil {
			cfg.RateLimitMs = *req.RateLimitMs
		}
		if req.MaxConcurrentRequests != nil {
			cfg.MaxConcurrentRequests = *req.MaxConcurrentRequests
		}
		if req.MaxRetries != nil {
			cfg.MaxRetries = *req.MaxRetries
		}
		if req.QualityThreshold != nil {
			cfg.QualityThreshold = *req.QualityThreshold
		}
		if req.ForceRefresh != nil {
			cfg.ForceRefresh = *req.ForceRefresh
		}
		if req.RespectRobots != nil {
			cfg.RespectRobots = *req.RespectRobots
		}
		if req.UseSitemap != nil {
			cfg.UseSitemap = *req.UseSitemap
		}
	}
	cfg.Clamp()
	return cfg
}

// Clamp forces every numeric option into its documented range.
func (c *CrawlConfig) Clamp() {
	c.MaxDepth = clampInt(c.MaxDepth, 0, 10)
	c.MaxPages = clampInt(c.MaxPages, 1, 1000)
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 300000
	}
	if c.PageTimeoutMs <= 0 {
		c.PageTimeoutMs = 8000
	}
	if c.RateLimitMs < 0 {
		c.RateLimitMs = 0
	}
	c.MaxConcurrentRequests = clampInt(c.MaxConcurrentRequests, 1, 10)
	c.MaxRetries = clampInt(c.MaxRetries, 0, 10)
	c.QualityThreshold = clampInt(c.QualityThreshold, 0, 100)
}

// Validate reports the first out-of-range option.
func (c *CrawlConfig) Validate() error {
	if c.MaxDepth < 0 || c.MaxDepth > 10 {
		return fmt.Errorf("max_depth must be between 0 and 10, got %d", c.MaxDepth)
	}
	if c.MaxPages < 1 || c.MaxPages > 1000 {
		return fmt.Errorf("max_pages must be between 1 and 1000, got %d", c.MaxPages)
	}
	if c.MaxConcurrentRequests < 1 || c.MaxConcurrentRequests > 10 {
		return fmt.Errorf("max_concurrent_requests must be between 1 and 10, got %d", c.MaxConcurrentRequests)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10, got %d", c.MaxRetries)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return fmt.Errorf("quality_threshold must be between 0 and 100, got %d", c.QualityThreshold)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be non-negative, got %d", c.TimeoutMs)
	}
	if c.PageTimeoutMs < 0 {
		return fmt.Errorf("page_timeout_ms must be non-negative, got %d", c.PageTimeoutMs)
	}
	return nil
}

// JobTimeout converts timeout_ms into a duration.
func (c *CrawlConfig) JobTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PageTimeout converts page_timeout_ms into a duration.
func (c *CrawlConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutMs) * time.Millisecond
}

// RateLimit converts rate_limit_ms into the minimum per-host request gap.
func (c *CrawlConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitMs) * time.Millisecond
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
