package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"golang.org/x/net/html"

	"github.com/ternarybob/doceo/internal/models"
)

const (
	fallbackMinTextLength = 200
	docPageMinBodyLength  = 500
	defaultPageTitle      = "Untitled Page"
)

var (
	langClassPrefixes  = []string{"language-", "lang-", "highlight-"}
	excessBlankLines   = regexp.MustCompile(`\n{4,}`)
	emptyListItemLine  = regexp.MustCompile(`(?m)^\s*[-*+]\s*$\n?`)
	hierarchyHeadings  = []string{"h1", "h2", "h3", "h4", "h5", "h6"}
	markdownConversion = &md.Options{
		HeadingStyle:     "atx",
		CodeBlockStyle:   "fenced",
		Fence:            "```",
		BulletListMarker: "-",
		EmDelimiter:      "_",
		StrongDelimiter:  "**",
	}
)

// Extractor turns fetched HTML into Markdown plus the page metadata used
// for dedup, quality scoring and search hierarchy.
type Extractor struct {
	logger arbor.ILogger
}

func NewExtractor(logger arbor.ILogger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract locates the main content region, cleans it and converts it to
// Markdown. Links are collected from the whole document before cleanup so
// navigation links still feed discovery.
func (e *Extractor) Extract(body []byte, baseURL string, cfg *models.CrawlConfig) (*ExtractResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	links := ExtractLinks(doc, base)

	main := selectMainContent(doc)
	cleanContent(main)

	if cfg.ExcludeNavigation {
		blankNavigation(main)
	}
	if !cfg.IncludeCodeBlocks {
		main.Find("pre").Remove()
	}
	annotateCodeLanguages(main)

	title := extractTitle(doc, main)
	hierarchy := extractHierarchy(main)
	isDoc := isDocPage(doc, main)
	hasCode := main.Find("pre code, pre, code").Length() > 0

	anchor := ""
	if cfg.IncludeAnchors {
		anchor = findAnchor(main)
	}

	markdown := e.convertToMarkdown(main, base)
	markdown = postProcessMarkdown(markdown)

	return &ExtractResult{
		Title:       title,
		Markdown:    markdown,
		ContentHash: ContentHash(markdown),
		WordCount:   len(strings.Fields(markdown)),
		HasCode:     hasCode,
		IsDocPage:   isDoc,
		Hierarchy:   hierarchy,
		Anchor:      anchor,
		Links:       links,
	}, nil
}

// selectMainContent probes the selector priority list and falls back to
// the longest div or section that looks like article text. The document
// body is the last resort.
func selectMainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range mainContentSelectors {
		var match *goquery.Selection
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.TrimSpace(s.Text()) != "" {
				match = s
				return false
			}
			return true
		})
		if match != nil {
			return match
		}
	}

	var best *goquery.Selection
	bestLen := fallbackMinTextLength
	doc.Find("div, section").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, h1, h2, h3, h4, h5, h6").Length() == 0 {
			return
		}
		if textLen := len(strings.TrimSpace(s.Text())); textLen > bestLen {
			best = s
			bestLen = textLen
		}
	})
	if best != nil {
		return best
	}

	if body := doc.Find("body"); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

func cleanContent(main *goquery.Selection) {
	for _, selector := range strippedSelectors {
		main.Find(selector).Remove()
	}
}

// blankNavigation replaces navigation containers that carry no real
// content with the placeholder marker.
func blankNavigation(main *goquery.Selection) {
	for _, selector := range navigationSelectors {
		main.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if s.Find("p, h1, h2, h3, h4, h5, h6").Length() > 0 {
				return
			}
			s.SetHtml(navigationPlaceholder)
		})
	}
}

// annotateCodeLanguages normalizes code blocks so the Markdown converter
// emits fenced blocks tagged with their language.
func annotateCodeLanguages(main *goquery.Selection) {
	main.Find("pre code").Each(func(_ int, code *goquery.Selection) {
		lang := codeLanguage(code)
		if lang == "" {
			lang = codeLanguage(code.Parent())
		}
		if lang != "" {
			code.SetAttr("class", "language-"+lang)
		}
	})
}

func codeLanguage(s *goquery.Selection) string {
	if class, ok := s.Attr("class"); ok {
		for _, field := range strings.Fields(class) {
			for _, prefix := range langClassPrefixes {
				if strings.HasPrefix(field, prefix) && len(field) > len(prefix) {
					return strings.TrimPrefix(field, prefix)
				}
			}
		}
	}
	if lang, ok := s.Attr("data-language"); ok && lang != "" {
		return lang
	}
	if lang, ok := s.Attr("data-lang"); ok && lang != "" {
		return lang
	}
	return ""
}

// extractTitle resolves the page title: first h1 inside the main region,
// then any h1, then the <title> tag up to a pipe separator.
func extractTitle(doc *goquery.Document, main *goquery.Selection) string {
	if h1 := strings.TrimSpace(main.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	if title := doc.Find("title").First().Text(); title != "" {
		first := strings.SplitN(title, "|", 2)[0]
		if trimmed := strings.TrimSpace(first); trimmed != "" {
			return trimmed
		}
	}
	return defaultPageTitle
}

func extractHierarchy(main *goquery.Selection) models.PageHierarchy {
	var levels [6]string
	for i, tag := range hierarchyHeadings {
		levels[i] = strings.TrimSpace(main.Find(tag).First().Text())
	}
	return models.PageHierarchy{
		Lvl0: levels[0],
		Lvl1: levels[1],
		Lvl2: levels[2],
		Lvl3: levels[3],
		Lvl4: levels[4],
		Lvl5: levels[5],
	}
}

// isDocPage applies the documentation heuristic: a top-level heading, a
// code block, or a substantial body of text.
func isDocPage(doc *goquery.Document, main *goquery.Selection) bool {
	if main.Find("h1, h2, h3").Length() > 0 {
		return true
	}
	if main.Find("pre code").Length() > 0 {
		return true
	}
	return len(strings.TrimSpace(doc.Find("body").Text())) > docPageMinBodyLength
}

// findAnchor walks the DOM for the nearest id or name attribute: the
// element itself, its bottom-most child carrying one, previous siblings
// bottom-up, then the parent, repeating until the root.
func findAnchor(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	for cur := sel.Nodes[0]; cur != nil; cur = cur.Parent {
		if anchor := nodeAnchor(cur); anchor != "" {
			return anchor
		}
		for child := cur.LastChild; child != nil; child = child.PrevSibling {
			if child.Type != html.ElementNode {
				continue
			}
			if anchor := nodeAnchor(child); anchor != "" {
				return anchor
			}
		}
		for sib := cur.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type != html.ElementNode {
				continue
			}
			if anchor := nodeAnchor(sib); anchor != "" {
				return anchor
			}
		}
	}
	return ""
}

func nodeAnchor(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	var name string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "id":
			if attr.Val != "" {
				return attr.Val
			}
		case "name":
			name = attr.Val
		}
	}
	return name
}

// convertToMarkdown runs the HTML-to-Markdown conversion over the main
// content region. Conversion failures degrade to stripped text rather
// than failing the page.
func (e *Extractor) convertToMarkdown(main *goquery.Selection, base *url.URL) string {
	converter := md.NewConverter(base.Scheme+"://"+base.Host, true, markdownConversion)

	markdown := converter.Convert(main)
	if strings.TrimSpace(markdown) != "" {
		return markdown
	}

	e.logger.Debug().Str("url", base.String()).Msg("Markdown conversion empty, falling back to text")
	return strings.TrimSpace(main.Text())
}

// postProcessMarkdown tidies converter output: caps blank-line runs at
// two, drops empty list items, trims blank padding inside fences and
// trims the document.
func postProcessMarkdown(markdown string) string {
	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")
	markdown = excessBlankLines.ReplaceAllString(markdown, "\n\n\n")
	markdown = emptyListItemLine.ReplaceAllString(markdown, "")
	markdown = normalizeFenceBlanks(markdown)
	return strings.TrimSpace(markdown)
}

// normalizeFenceBlanks removes blank lines that hug the inside of fenced
// code blocks.
func normalizeFenceBlanks(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				inFence = true
				out = append(out, line)
				continue
			}
			// closing fence: drop blank lines collected just before it
			for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" && !strings.HasPrefix(strings.TrimSpace(out[len(out)-1]), "```") {
				out = out[:len(out)-1]
			}
			inFence = false
			out = append(out, line)
			continue
		}
		if inFence && trimmed == "" && len(out) > 0 && strings.HasPrefix(strings.TrimSpace(out[len(out)-1]), "```") {
			// blank line right after the opening fence
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
