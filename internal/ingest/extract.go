package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// ExtractFile reads a source document and returns its plain text. The
// format is chosen by extension: .pdf, .html/.htm, and .txt/.md are
// supported.
func ExtractFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return ExtractHTML(f)
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported document format %q", filepath.Ext(path))
	}
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text from %s: %w", path, err)
	}
	return buf.String(), nil
}

// ExtractHTML returns the visible text of an HTML document, skipping
// script and style content.
func ExtractHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String()), nil
}

// classifyChunk labels a chunk as text, table or figure from content
// heuristics. The label rides along with each indexed record and informs
// the grouping prompt.
func classifyChunk(text string) string {
	content := strings.ToLower(text)

	figureKeywords := []string{"diagram", "figure", "fig.", "image", "chart", "graph", "flow"}
	for _, kw := range figureKeywords {
		if strings.Contains(content, kw) {
			return "figure"
		}
	}

	tableKeywords := []string{"table", "|", "---", "parameter", "value"}
	hits := 0
	for _, kw := range tableKeywords {
		if strings.Contains(content, kw) {
			hits++
		}
	}
	if hits >= 2 {
		return "table"
	}

	return "text"
}
