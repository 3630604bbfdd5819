package ingest

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"docchat/internal/pkg/pdfextract"
)

// Chunk is one page-level passage. Page is 1-based.
type Chunk struct {
	Page int
	Text string
}

// PageParser splits PDFs per page and plain text on form feeds.
type PageParser struct{}

// Parse returns the non-empty pages of res in order along with the total
// page count, empty pages included.
func (PageParser) Parse(res *Resource) (chunks []Chunk, total int, err error) {
	switch detectType(res) {
	case "application/pdf":
		return parsePDF(res.Body)
	case "text/plain":
		return parseText(res.Body)
	default:
		return nil, 0, fmt.Errorf("unsupported content type %q", res.ContentType)
	}
}

func detectType(res *Resource) string {
	if bytes.HasPrefix(res.Body, []byte("%PDF-")) {
		return "application/pdf"
	}
	if mediaType, _, err := mime.ParseMediaType(res.ContentType); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(res.Body))
	return sniffed
}

func parsePDF(body []byte) (chunks []Chunk, total int, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			chunks, total, err = nil, 0, fmt.Errorf("parse pdf panicked: %v", r)
		}
	}()

	pages, err := pdfextract.ExtractPages(body)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		chunks = append(chunks, Chunk{Page: p.Number, Text: p.Text})
	}
	return chunks, len(pages), nil
}

func parseText(body []byte) ([]Chunk, int, error) {
	pages := strings.Split(string(body), "\f")
	var chunks []Chunk
	for i, p := range pages {
		text := strings.TrimSpace(p)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{Page: i + 1, Text: text})
	}
	return chunks, len(pages), nil
}
