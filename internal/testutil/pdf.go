// Package testutil builds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"testing"

	"github.com/go-pdf/fpdf"
)

// PDF renders an A4 document with one page per entry; each entry's lines are
// written top to bottom in Helvetica.
func PDF(t testing.TB, pages ...[]string) []byte {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	for _, lines := range pages {
		doc.AddPage()
		doc.SetFont("Helvetica", "", 12)
		for _, line := range lines {
			doc.CellFormat(0, 10, line, "", 1, "L", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("render test PDF: %v", err)
	}
	return buf.Bytes()
}

// Page is a convenience for a single page of lines.
func Page(lines ...string) []string {
	return lines
}
