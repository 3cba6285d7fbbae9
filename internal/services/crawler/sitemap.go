package crawler

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	sitemapTimeBudget = 15 * time.Second
	sitemapMaxBody    = 10 * 1024 * 1024
	sitemapMaxIndexes = 10
)

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc string `xml:"loc"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// SitemapFetcher downloads XML sitemaps and collects page URLs. Sitemap
// index files are followed one level deep.
type SitemapFetcher struct {
	client    *http.Client
	userAgent string
	logger    arbor.ILogger
}

func NewSitemapFetcher(client *http.Client, userAgent string, logger arbor.ILogger) *SitemapFetcher {
	return &SitemapFetcher{client: client, userAgent: userAgent, logger: logger}
}

// FetchAll collects up to limit page URLs from the given sitemap URLs.
// The whole operation is time-boxed so a huge or slow sitemap cannot stall
// job startup; whatever was collected before the deadline is returned.
func (s *SitemapFetcher) FetchAll(ctx context.Context, sitemapURLs []string, limit int) []string {
	if len(sitemapURLs) == 0 || limit <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, sitemapTimeBudget)
	defer cancel()

	seen := make(map[string]bool)
	var pages []string

	queue := append([]string(nil), sitemapURLs...)
	indexesFollowed := 0

	for len(queue) > 0 && len(pages) < limit {
		if ctx.Err() != nil {
			break
		}

		smURL := queue[0]
		queue = queue[1:]
		if seen[smURL] {
			continue
		}
		seen[smURL] = true

		body, err := s.download(ctx, smURL)
		if err != nil {
			s.logger.Debug().Str("sitemap", smURL).Err(err).Msg("Sitemap fetch failed")
			continue
		}

		urls, children := parseSitemap(body)
		for _, u := range urls {
			if len(pages) >= limit {
				break
			}
			pages = append(pages, u)
		}

		if len(children) > 0 && indexesFollowed < sitemapMaxIndexes {
			indexesFollowed++
			queue = append(queue, children...)
		}
	}

	s.logger.Debug().Int("urls", len(pages)).Int("sitemaps", len(seen)).Msg("Sitemap seeding complete")
	return pages
}

func (s *SitemapFetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: FetchErrHTTPStatus, Status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, sitemapMaxBody))
}

// parseSitemap decodes either a urlset or a sitemapindex document and
// returns the page URLs and any child sitemap URLs.
func parseSitemap(body []byte) (pages []string, children []string) {
	var urlset xmlURLSet
	if err := xml.Unmarshal(body, &urlset); err == nil && len(urlset.URLs) > 0 {
		for _, u := range urlset.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				pages = append(pages, loc)
			}
		}
		return pages, nil
	}

	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil {
		for _, sm := range index.Sitemaps {
			if loc := strings.TrimSpace(sm.Loc); loc != "" {
				children = append(children, loc)
			}
		}
	}
	return nil, children
}
