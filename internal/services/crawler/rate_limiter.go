package crawler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces at most one request per delay interval per host.
// It survives across jobs; all jobs crawling the same host share a limiter.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultDelay time.Duration
}

// NewRateLimiter creates a rate limiter with the default per-host delay.
func NewRateLimiter(defaultDelay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultDelay: defaultDelay,
	}
}

// Wait blocks until the host's rate limit admits a request, or until ctx
// is cancelled. URLs without a parseable host pass through unlimited.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	host := extractHost(rawURL)
	if host == "" {
		return nil
	}
	return rl.limiterFor(host, rl.defaultDelay).Wait(ctx)
}

// WaitWithDelay is Wait with a per-call interval, for jobs that override
// rate_limit_ms. The first caller for a host fixes its limiter's rate.
func (rl *RateLimiter) WaitWithDelay(ctx context.Context, rawURL string, delay time.Duration) error {
	host := extractHost(rawURL)
	if host == "" {
		return nil
	}
	if delay <= 0 {
		delay = rl.defaultDelay
	}
	return rl.limiterFor(host, delay).Wait(ctx)
}

func (rl *RateLimiter) limiterFor(host string, delay time.Duration) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.limiters[host]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.limiters[host]; ok {
		return limiter
	}

	if delay <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	} else {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	rl.limiters[host] = limiter
	return limiter
}

// SetHostDelay overrides the interval for one host.
func (rl *RateLimiter) SetHostDelay(host string, delay time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if delay <= 0 {
		rl.limiters[host] = rate.NewLimiter(rate.Inf, 1)
		return
	}
	rl.limiters[host] = rate.NewLimiter(rate.Every(delay), 1)
}

func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
