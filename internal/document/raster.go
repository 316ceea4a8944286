package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"iter"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/pkg/textextract"
)

// DefaultDPI is the rasterization resolution used when none is requested.
const DefaultDPI = 200

// pointsPerInch is the PDF user-space unit.
const pointsPerInch = 72.0

var ErrSequenceConsumed = errors.New("page sequence already consumed")

// RasterImage is one rendered page. Pixels are fully opaque.
type RasterImage struct {
	Page  int // zero-based
	DPI   int
	Image *image.RGBA
}

func (r *RasterImage) Width() int  { return r.Image.Bounds().Dx() }
func (r *RasterImage) Height() int { return r.Image.Bounds().Dy() }

func (r *RasterImage) JPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, r.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *RasterImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Image); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Rasterizer renders PDF pages with MuPDF.
type Rasterizer struct {
	defaultDPI int
}

func NewRasterizer(defaultDPI int) *Rasterizer {
	if defaultDPI <= 0 {
		defaultDPI = DefaultDPI
	}
	return &Rasterizer{defaultDPI: defaultDPI}
}

func (r *Rasterizer) DefaultDPI() int { return r.defaultDPI }

// Rasterize renders the page at pageIndex (zero-based) at dpi, scaling by
// dpi/72 in both axes.
func (r *Rasterizer) Rasterize(data []byte, pageIndex, dpi int) (*RasterImage, error) {
	doc, err := openPDF(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return nil, apperr.DocumentFormat(nil, "page %d out of range (document has %d pages)", pageIndex+1, doc.NumPage())
	}
	return renderPage(doc, pageIndex, r.dpi(dpi))
}

// RasterizeAll opens the document and returns a sequence rendering each page
// lazily in page order. The sequence can be ranged over once; Close releases
// the document if iteration is abandoned.
func (r *Rasterizer) RasterizeAll(data []byte, dpi int) (*PageSequence, error) {
	doc, err := openPDF(data)
	if err != nil {
		return nil, err
	}
	return &PageSequence{doc: doc, dpi: r.dpi(dpi), pages: doc.NumPage()}, nil
}

func (r *Rasterizer) dpi(dpi int) int {
	if dpi <= 0 {
		return r.defaultDPI
	}
	return dpi
}

// PageSequence is a finite, single-use sequence of rendered pages.
type PageSequence struct {
	doc   *fitz.Document
	dpi   int
	pages int

	mu       sync.Mutex
	consumed bool
	closed   bool
}

func (s *PageSequence) Len() int { return s.pages }

func (s *PageSequence) All() iter.Seq2[*RasterImage, error] {
	return func(yield func(*RasterImage, error) bool) {
		s.mu.Lock()
		if s.consumed || s.closed {
			s.mu.Unlock()
			yield(nil, ErrSequenceConsumed)
			return
		}
		s.consumed = true
		s.mu.Unlock()
		defer s.Close()

		for i := 0; i < s.pages; i++ {
			img, err := renderPage(s.doc, i, s.dpi)
			if !yield(img, err) || err != nil {
				return
			}
		}
	}
}

func (s *PageSequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.doc.Close()
}

func openPDF(data []byte) (doc *fitz.Document, err error) {
	if !textextract.IsPDF(data) {
		return nil, apperr.DocumentFormat(textextract.ErrNotPDF, "uploaded file is not a PDF")
	}

	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = apperr.DocumentFormat(fmt.Errorf("%v", r), "open PDF")
		}
	}()

	doc, err = fitz.NewFromMemory(data)
	if err != nil {
		return nil, apperr.DocumentFormat(err, "open PDF")
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, apperr.DocumentFormat(nil, "PDF has no pages")
	}
	return doc, nil
}

func renderPage(doc *fitz.Document, pageIndex, dpi int) (*RasterImage, error) {
	rgba, err := doc.ImageDPI(pageIndex, float64(dpi))
	if err != nil {
		return nil, apperr.DocumentFormat(err, "render page %d", pageIndex+1)
	}
	return &RasterImage{Page: pageIndex, DPI: dpi, Image: flatten(rgba)}, nil
}

// flatten composites img over white so every pixel is opaque RGB.
func flatten(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}

// ExpectedSize is the pixel size of a page of the given size in points
// rendered at dpi.
func ExpectedSize(widthPt, heightPt float64, dpi int) (int, int) {
	scale := float64(dpi) / pointsPerInch
	return int(widthPt*scale + 0.5), int(heightPt*scale + 0.5)
}
