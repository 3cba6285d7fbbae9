package export

import (
	"bytes"
	"fmt"
	"html"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/ternarybob/doceo/internal/interfaces"
)

// Service renders assembled crawl markdown into the download formats.
type Service struct {
	md     goldmark.Markdown
	logger arbor.ILogger
}

var _ interfaces.ExportService = (*Service)(nil)

// NewService creates the export service. The goldmark instance is shared
// between the HTML renderer and the PDF AST walk; Convert and Parser are
// safe for concurrent use.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		logger: logger,
	}
}

// htmlShell wraps rendered markdown in a minimal self-contained page.
const htmlShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1f2328; }
pre { background: #f6f8fa; padding: 1rem; overflow-x: auto; border-radius: 6px; }
code { font-family: ui-monospace, "SF Mono", Consolas, monospace; font-size: 0.9em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #d1d9e0; padding: 0.4rem 0.8rem; }
th { background: #f6f8fa; }
hr { border: 0; border-top: 1px solid #d1d9e0; margin: 2rem 0; }
blockquote { border-left: 4px solid #d1d9e0; margin-left: 0; padding-left: 1rem; color: #59636e; }
</style>
</head>
<body>
%s</body>
</html>
`

// RenderHTML converts markdown into a standalone HTML document.
func (s *Service) RenderHTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, htmlShell, html.EscapeString(title), body.String())

	s.logger.Debug().
		Str("title", title).
		Int("markdown_len", len(markdown)).
		Int("html_len", out.Len()).
		Msg("Rendered HTML export")

	return out.Bytes(), nil
}
