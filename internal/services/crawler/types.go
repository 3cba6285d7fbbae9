package crawler

import (
	"fmt"

	"github.com/ternarybob/doceo/internal/models"
)

// FetchErrorKind classifies fetch failures. The names appear in queue
// item errors and url_failed events.
type FetchErrorKind string

const (
	FetchErrNetwork     FetchErrorKind = "network"
	FetchErrTimeout     FetchErrorKind = "timeout"
	FetchErrHTTPStatus  FetchErrorKind = "http_status"
	FetchErrRobots      FetchErrorKind = "robots_denied"
	FetchErrRateLimited FetchErrorKind = "rate_limited"
)

// FetchError carries the failure class, the HTTP status when applicable
// and whether the queue may retry the URL.
type FetchError struct {
	Kind      FetchErrorKind
	Status    int
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchErrHTTPStatus:
		return fmt.Sprintf("http_status(%d)", e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return string(e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchResult is a successful fetch.
type FetchResult struct {
	URL         string
	Status      int
	Body        []byte
	ContentType string
}

// ExtractResult is the outcome of content extraction for one page.
type ExtractResult struct {
	Title       string
	Markdown    string
	ContentHash string
	WordCount   int
	HasCode     bool
	IsDocPage   bool
	Hierarchy   models.PageHierarchy
	Anchor      string
	Links       []string
}

// deniedPathPrefixes are administrative and asset paths never worth
// crawling on a documentation site.
var deniedPathPrefixes = []string{
	"/cdn-cgi/",
	"/wp-admin/",
	"/wp-content/",
	"/wp-includes/",
	"/assets/",
	"/static/",
	"/dist/",
	"/login",
	"/signup",
	"/register",
	"/account/",
}

// binaryExtensions are file suffixes that cannot yield documentation HTML.
var binaryExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".css", ".js", ".xml", ".pdf",
}

// docHintPaths mark URLs that are documentation with high confidence.
var docHintPaths = []string{
	"/docs/",
	"/documentation/",
	"/guide/",
	"/reference/",
	"/manual/",
	"/learn/",
	"/tutorial/",
	"/api/",
	"/getting-started",
	"/quickstart",
	"/introduction",
}

// mainContentSelectors is the probe order for locating the content root.
var mainContentSelectors = []string{
	`article[role="main"]`,
	`main[role="main"]`,
	`div[role="main"]`,
	"main",
	"article",
	".content",
	".article-content",
	".markdown-body",
	"#content",
	"#main",
}

// strippedSelectors are removed from the content tree before conversion.
var strippedSelectors = []string{
	"script",
	"style",
	"iframe",
	"form",
	".advertisement",
	"#disqus_thread",
	".comments",
	".social-share",
}

// navigationSelectors are candidates for the {{ NAVIGATION }} placeholder
// when exclude_navigation is on.
var navigationSelectors = []string{
	"nav",
	`[role="navigation"]`,
	".navigation",
	".menu",
}

// navigationPlaceholder replaces the innerHTML of matched navigation
// containers. The literal text is part of the output contract.
const navigationPlaceholder = "{{ NAVIGATION }}"
