package interfaces

// ExportService renders a completed job's final markdown into the
// downloadable formats offered by the download endpoint. Markdown
// itself needs no rendering; the orchestrator's finalizer assembled it.
type ExportService interface {
	// RenderHTML converts markdown into a standalone HTML document.
	RenderHTML(title, markdown string) ([]byte, error)

	// RenderPDF converts markdown into a PDF document.
	RenderPDF(title, markdown string) ([]byte, error)
}
