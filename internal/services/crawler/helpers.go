package crawler

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// newItemID generates a queue item identifier.
func newItemID() string {
	return "item_" + uuid.New().String()
}

// newPageID generates a page result identifier.
func newPageID() string {
	return "page_" + uuid.New().String()
}

// hostOf returns the lowercase host of a URL, or "" when unparseable.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// originOf returns scheme://host for a URL, or "" when unparseable.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + strings.ToLower(u.Host)
}
