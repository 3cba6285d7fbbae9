package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pdfBodyFont = "Helvetica"
	pdfCodeFont = "Courier"
	pdfBodySize = 10.0
	pdfLineHt   = 5.0
	pdfMargin   = 15.0
	// A4 portrait is 210mm wide
	pdfTextWidth = 210.0 - 2*pdfMargin
)

// RenderPDF converts markdown into a PDF document by walking the
// goldmark AST into fpdf primitives. Layout is intentionally plain:
// headings, paragraphs, emphasis, code, bullets, rules and tables.
func (s *Service) RenderPDF(title, markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.AddPage()
	pdf.SetFont(pdfBodyFont, "", pdfBodySize)

	source := []byte(markdown)
	doc := s.md.Parser().Parse(text.NewReader(source))

	walker := &pdfWalker{pdf: pdf, source: source}
	if err := ast.Walk(doc, walker.walk); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	s.logger.Debug().
		Str("title", title).
		Int("markdown_len", len(markdown)).
		Int("pdf_len", buf.Len()).
		Msg("Rendered PDF export")

	return buf.Bytes(), nil
}

// pdfWalker carries font state through the AST walk. Inline nodes flip
// bold/italic; block nodes own their vertical spacing.
type pdfWalker struct {
	pdf    *fpdf.Fpdf
	source []byte

	bold      bool
	italic    bool
	listDepth int
}

func (w *pdfWalker) bodyFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont(pdfBodyFont, style, pdfBodySize)
}

func (w *pdfWalker) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		w.heading(node, entering)
	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(pdfLineHt + 2)
		}
	case *ast.Text:
		if entering {
			w.pdf.Write(pdfLineHt, string(node.Text(w.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				w.pdf.Write(pdfLineHt, " ")
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.bodyFont()
	case *ast.CodeSpan:
		return w.codeSpan(node, entering)
	case *ast.FencedCodeBlock:
		if entering {
			w.codeBlock(node.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *ast.CodeBlock:
		if entering {
			w.codeBlock(node.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *ast.List:
		if entering {
			w.listDepth++
		} else {
			w.listDepth--
			if w.listDepth == 0 {
				w.pdf.Ln(pdfLineHt)
			}
		}
	case *ast.ListItem:
		if entering {
			w.pdf.Ln(pdfLineHt)
			w.pdf.SetX(pdfMargin + float64(w.listDepth)*4)
			w.pdf.Write(pdfLineHt, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			w.pdf.Ln(3)
			y := w.pdf.GetY()
			w.pdf.Line(pdfMargin, y, 210-pdfMargin, y)
			w.pdf.Ln(3)
		}
	case *ast.Blockquote:
		// Quotes render italic; good enough for crawl output
		w.italic = entering
		w.bodyFont()
	case *extast.Table:
		if entering {
			w.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (w *pdfWalker) heading(n *ast.Heading, entering bool) {
	if entering {
		w.pdf.Ln(4)
		size := pdfBodySize + 1
		switch n.Level {
		case 1:
			size = 16
		case 2:
			size = 13
		case 3:
			size = 11.5
		}
		w.pdf.SetFont(pdfBodyFont, "B", size)
		return
	}
	w.pdf.Ln(pdfLineHt + 4)
	w.bodyFont()
}

func (w *pdfWalker) codeSpan(n *ast.CodeSpan, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	w.pdf.SetFont(pdfCodeFont, "", pdfBodySize)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if textNode, ok := c.(*ast.Text); ok {
			w.pdf.Write(pdfLineHt, string(textNode.Segment.Value(w.source)))
		}
	}
	w.bodyFont()
	return ast.WalkSkipChildren, nil
}

func (w *pdfWalker) codeBlock(lines *text.Segments) {
	w.pdf.Ln(2)
	w.pdf.SetFont(pdfCodeFont, "", pdfBodySize-1)
	w.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		line := strings.TrimRight(string(segment.Value(w.source)), "\n")
		w.pdf.MultiCell(pdfTextWidth, pdfLineHt-0.5, line, "", "L", true)
	}
	w.pdf.SetFillColor(255, 255, 255)
	w.bodyFont()
	w.pdf.Ln(2)
}

// table draws equal-width columns with a shaded header row. Cell text is
// clipped to one line; crawl tables are reference material, not layout.
func (w *pdfWalker) table(n *extast.Table) {
	rows := tableRows(n, w.source)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	colWidth := pdfTextWidth / float64(len(rows[0]))
	w.pdf.Ln(pdfLineHt)

	for i, row := range rows {
		if i == 0 {
			w.pdf.SetFont(pdfBodyFont, "B", pdfBodySize-1.5)
			w.pdf.SetFillColor(230, 230, 230)
		} else {
			w.pdf.SetFont(pdfBodyFont, "", pdfBodySize-1.5)
			w.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			w.pdf.CellFormat(colWidth, pdfLineHt+1, w.clip(cell, colWidth-2), "1", 0, "L", i == 0, 0, "")
		}
		w.pdf.Ln(pdfLineHt + 1)
	}

	w.pdf.SetFillColor(255, 255, 255)
	w.bodyFont()
	w.pdf.Ln(2)
}

// clip shortens text to fit width, appending an ellipsis when truncated.
func (w *pdfWalker) clip(s string, width float64) string {
	if w.pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 1 && w.pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}

// tableRows flattens header and body rows into cell text.
func tableRows(n *extast.Table, source []byte) [][]string {
	var rows [][]string

	collect := func(rowNode ast.Node) {
		var row []string
		for cell := rowNode.FirstChild(); cell != nil; cell = cell.NextSibling() {
			row = append(row, string(cell.Text(source)))
		}
		rows = append(rows, row)
	}

	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch rowNode := child.(type) {
		case *extast.TableHeader:
			collect(rowNode)
		case *extast.TableRow:
			collect(rowNode)
		}
	}
	return rows
}
