package crawler

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/models"
)

// CrawlerUserAgent identifies the crawler to target sites and robots.txt.
const CrawlerUserAgent = "Documentation Crawler — Friendly Bot"

const defaultMaxBodySize = 10 * 1024 * 1024

// Fetcher downloads pages with per-host rate limiting, robots.txt
// enforcement and retry with exponential backoff. One Fetcher is shared
// across all jobs; per-job behavior comes from the config passed to Fetch.
type Fetcher struct {
	client      *http.Client
	limiter     *RateLimiter
	robots      *RobotsChecker
	logger      arbor.ILogger
	userAgent   string
	maxBodySize int64
}

// NewFetcher builds the shared fetcher. Empty userAgent and non-positive
// maxBodySize fall back to the defaults.
func NewFetcher(userAgent string, maxBodySize int64, logger arbor.ILogger) *Fetcher {
	if userAgent == "" {
		userAgent = CrawlerUserAgent
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Fetcher{
		client:      client,
		limiter:     NewRateLimiter(time.Second),
		robots:      NewRobotsChecker(client, userAgent, logger),
		logger:      logger,
		userAgent:   userAgent,
		maxBodySize: maxBodySize,
	}
}

// Robots exposes the shared robots.txt cache for sitemap discovery.
func (f *Fetcher) Robots() *RobotsChecker {
	return f.robots
}

// Fetch downloads rawURL honoring the job's rate limit, page timeout and
// retry budget. Network errors, timeouts and 5xx responses are retried
// with exponential backoff; any other non-2xx status fails immediately.
// Failures always come back as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, cfg *models.CrawlConfig) (*FetchResult, error) {
	if cfg.RespectRobots && !f.robots.Allowed(ctx, rawURL) {
		return nil, &FetchError{Kind: FetchErrRobots}
	}

	if err := f.limiter.WaitWithDelay(ctx, rawURL, cfg.RateLimit()); err != nil {
		return nil, classifyFetchError(0, err)
	}

	var result *FetchResult
	policy := NewRetryPolicy(cfg.MaxRetries)
	status, err := policy.ExecuteWithRetry(ctx, f.logger, func() (int, error) {
		res, attemptErr := f.doRequest(ctx, rawURL, cfg.PageTimeout())
		if attemptErr != nil {
			return 0, attemptErr
		}
		if res.Status < 200 || res.Status >= 300 {
			return res.Status, nil
		}
		result = res
		return res.Status, nil
	})

	if err != nil {
		return nil, classifyFetchError(status, err)
	}
	if result == nil {
		return nil, classifyFetchError(status, nil)
	}
	return result, nil
}

func (f *Fetcher) doRequest(ctx context.Context, rawURL string, timeout time.Duration) (*FetchResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// classifyFetchError maps a raw failure onto the fetch error taxonomy.
// Network errors, timeouts and 5xx responses are retryable; 4xx and
// robots denials are not.
func classifyFetchError(status int, err error) *FetchError {
	if status == http.StatusTooManyRequests {
		return &FetchError{Kind: FetchErrRateLimited, Status: status, Err: err}
	}
	if status >= 500 {
		return &FetchError{Kind: FetchErrHTTPStatus, Status: status, Retryable: true, Err: err}
	}
	if status >= 400 {
		return &FetchError{Kind: FetchErrHTTPStatus, Status: status, Err: err}
	}
	if status >= 300 {
		return &FetchError{Kind: FetchErrHTTPStatus, Status: status, Err: err}
	}

	if err == nil {
		return &FetchError{Kind: FetchErrNetwork}
	}
	if isTimeoutError(err) {
		return &FetchError{Kind: FetchErrTimeout, Retryable: true, Err: err}
	}
	return &FetchError{Kind: FetchErrNetwork, Retryable: true, Err: err}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
