package document

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/pkg/textextract"
)

// datePattern matches dd/mm/yyyy with optional whitespace around the slashes.
var datePattern = regexp.MustCompile(`\d{2}\s*/\s*\d{2}\s*/\s*\d{4}`)

// TextDateExtractor reads the signing date from a PDF's embedded text.
type TextDateExtractor struct{}

func NewTextDateExtractor() *TextDateExtractor {
	return &TextDateExtractor{}
}

// ExtractSigningDate returns the last date-shaped token in document order with
// whitespace removed, or nil when the document contains none.
func (e *TextDateExtractor) ExtractSigningDate(ctx context.Context, data []byte) (*string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := textextract.PDFBytes(data)
	if err != nil {
		if errors.Is(err, textextract.ErrNotPDF) {
			return nil, apperr.DocumentFormat(err, "uploaded file is not a PDF")
		}
		return nil, apperr.DocumentFormat(err, "extract PDF text")
	}

	return LastDate(text.Content()), nil
}

// LastDate applies the signing-date policy to already extracted text.
func LastDate(text string) *string {
	matches := datePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	date := stripSpace(matches[len(matches)-1])
	return &date
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
