package textextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrNotPDF = errors.New("not a PDF document")

type ExtractedText struct {
	// Pages holds the embedded text of each page in document order.
	Pages []string
}

// Content joins every page's text, page 1 first.
func (e *ExtractedText) Content() string {
	return strings.Join(e.Pages, "\n")
}

// PDFBytes extracts embedded text from an in-memory PDF.
func PDFBytes(data []byte) (*ExtractedText, error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	return PDF(bytes.NewReader(data), int64(len(data)))
}

// PDF extracts embedded text from every page. The parser panics on some
// malformed inputs; those panics are returned as errors.
func PDF(data io.ReaderAt, size int64) (result *ExtractedText, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("parse PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		pages = append(pages, text)
	}

	return &ExtractedText{Pages: pages}, nil
}

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-"))
}
