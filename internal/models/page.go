package models

import (
	"fmt"
	"strings"
	"time"
)

// PageStatus marks the outcome of crawling a single URL.
type PageStatus string

const (
	PageStatusComplete PageStatus = "complete"
	PageStatusError    PageStatus = "error"
	PageStatusSkipped  PageStatus = "skipped"
	PageStatusFiltered PageStatus = "filtered"
)

// PageHierarchy captures the first heading seen at each level inside the
// main content region, lvl0 through lvl5 mapping h1 through h6.
type PageHierarchy struct {
	Lvl0 string `json:"lvl0,omitempty"`
	Lvl1 string `json:"lvl1,omitempty"`
	Lvl2 string `json:"lvl2,omitempty"`
	Lvl3 string `json:"lvl3,omitempty"`
	Lvl4 string `json:"lvl4,omitempty"`
	Lvl5 string `json:"lvl5,omitempty"`
}

// IsEmpty reports whether no heading was captured at any level.
func (h PageHierarchy) IsEmpty() bool {
	return h == PageHierarchy{}
}

// PageResult is the persistent record of one crawled page.
type PageResult struct {
	ID           string        `json:"result_id" badgerhold:"key"`
	JobID        string        `json:"job_id" badgerhold:"index"`
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Markdown     string        `json:"markdown"`
	ContentHash  string        `json:"content_hash"`
	Depth        int           `json:"depth"`
	Seq          int64         `json:"seq"`
	Status       PageStatus    `json:"status"`
	Error        string        `json:"error,omitempty"`
	WordCount    int           `json:"word_count"`
	HasCode      bool          `json:"has_code"`
	QualityScore int           `json:"quality_score"`
	FromCache    bool          `json:"from_cache"`
	IsDocPage    bool          `json:"is_doc_page"`
	Hierarchy    PageHierarchy `json:"hierarchy"`
	Anchor       string        `json:"anchor,omitempty"`
	FetchedAt    time.Time     `json:"fetched_at"`
	ElapsedMs    int64         `json:"elapsed_ms"`
}

// CacheEntry is the per-URL crawl cache record stored in the key/value
// store under "crawl:"-prefixed keys.
type CacheEntry struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Markdown     string    `json:"markdown"`
	ContentHash  string    `json:"content_hash"`
	WordCount    int       `json:"word_count"`
	HasCode      bool      `json:"has_code"`
	IsDocPage    bool      `json:"is_doc_page"`
	QualityScore int       `json:"quality_score"`
	Links        []string  `json:"links"`
	CachedAt     time.Time `json:"cached_at"`
}

const pageBanner = "================================================================"

// SerializePage renders the bit-stable textual envelope used for cache
// payloads and download assembly. Callers must not alter field order or
// spacing; consumers parse this format byte for byte.
func SerializePage(title, url, contentHash string, wordCount int, hasCode bool, markdown string) string {
	yesNo := "No"
	if hasCode {
		yesNo = "Yes"
	}
	var b strings.Builder
	b.Grow(len(markdown) + 512)
	b.WriteString(pageBanner + "\n")
	b.WriteString("Documentation Page\n")
	b.WriteString(pageBanner + "\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "URL: %s\n", url)
	b.WriteString("Type: Documentation\n")
	b.WriteString("Format: Markdown\n")
	fmt.Fprintf(&b, "Content-Hash: %s\n", contentHash)
	fmt.Fprintf(&b, "Word Count: %d\n", wordCount)
	fmt.Fprintf(&b, "Has Code: %s\n", yesNo)
	b.WriteString("\n")
	b.WriteString(pageBanner + "\n")
	b.WriteString("Content\n")
	b.WriteString(pageBanner + "\n")
	b.WriteString("\n")
	b.WriteString(markdown)
	b.WriteString("\n\n")
	b.WriteString(pageBanner + "\n")
	return b.String()
}

// Serialize renders the envelope for this result.
func (p *PageResult) Serialize() string {
	return SerializePage(p.Title, p.URL, p.ContentHash, p.WordCount, p.HasCode, p.Markdown)
}
