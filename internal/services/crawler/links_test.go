package crawler

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestExtractLinksResolvesAndDedups(t *testing.T) {
	doc := parseDoc(t, `<html><body>
		<a href="/docs/install">Install</a>
		<a href="usage">Usage</a>
		<a href="/docs/install">Install again</a>
		<a href="https://other.example.com/page">External</a>
	</body></html>`)
	base := mustParseURL(t, "https://docs.example.com/docs/")

	links := ExtractLinks(doc, base)
	assert.Equal(t, []string{
		"https://docs.example.com/docs/install",
		"https://docs.example.com/docs/usage",
		"https://other.example.com/page",
	}, links)
}

func TestExtractLinksSkipsNonCrawlable(t *testing.T) {
	doc := parseDoc(t, `<html><body>
		<a href="#section">Anchor</a>
		<a href="javascript:void(0)">JS</a>
		<a href="mailto:docs@example.com">Mail</a>
		<a href="tel:+1555">Phone</a>
		<a href="data:text/plain,hi">Data</a>
		<a href="ftp://example.com/file">FTP</a>
		<a href="">Empty</a>
		<a>No href</a>
		<a href="/real">Real</a>
	</body></html>`)
	base := mustParseURL(t, "https://docs.example.com/")

	links := ExtractLinks(doc, base)
	assert.Equal(t, []string{"https://docs.example.com/real"}, links)
}

func TestExtractLinksNavigationCounts(t *testing.T) {
	// Links are collected from the whole document, including navigation
	// that later gets blanked from the content.
	doc := parseDoc(t, `<html><body>
		<nav><a href="/docs/a">A</a></nav>
		<main><a href="/docs/b">B</a></main>
		<footer><a href="/docs/c">C</a></footer>
	</body></html>`)
	base := mustParseURL(t, "https://docs.example.com/")

	links := ExtractLinks(doc, base)
	assert.Len(t, links, 3)
}

func TestExtractLinksProtocolRelative(t *testing.T) {
	doc := parseDoc(t, `<a href="//cdn.example.com/docs/page">CDN</a>`)
	base := mustParseURL(t, "https://docs.example.com/")

	links := ExtractLinks(doc, base)
	assert.Equal(t, []string{"https://cdn.example.com/docs/page"}, links)
}
