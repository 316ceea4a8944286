package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/internal/multimodal"
	"github.com/nikhilbhutani/docintel/pkg/textextract"
)

// Strategy selects which extractor handles a document.
type Strategy string

const (
	StrategySignDate Strategy = "sign-date"
	StrategyDates    Strategy = "dob-dod"
	StrategyOCR      Strategy = "pdf-ocr"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategySignDate, StrategyDates, StrategyOCR:
		return true
	}
	return false
}

// Request is one uploaded document and how to read it. Language applies to
// OCR; DPI to OCR and the vision model. Zero values use the defaults.
type Request struct {
	Strategy Strategy
	Document []byte
	Language string
	DPI      int
}

// Result holds exactly one populated field, matching Strategy. For
// StrategySignDate a nil SignDate means no date was found.
type Result struct {
	Strategy Strategy
	Dates    *multimodal.DatePair
	SignDate *string
	Text     string
}

type SigningDateExtractor interface {
	ExtractSigningDate(ctx context.Context, data []byte) (*string, error)
}

type DateExtractor interface {
	ExtractDates(ctx context.Context, data []byte, dpi int) (*multimodal.DatePair, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, language string, dpi int) (string, error)
}

type Service struct {
	signDate SigningDateExtractor
	dates    DateExtractor
	ocr      TextExtractor
	pool     *Pool
	logger   *slog.Logger
}

func NewService(signDate SigningDateExtractor, dates DateExtractor, ocr TextExtractor, pool *Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pool == nil {
		pool = NewPool(0, logger)
	}
	return &Service{signDate: signDate, dates: dates, ocr: ocr, pool: pool, logger: logger}
}

// Extract rejects non-PDF input, then runs the strategy's extractor on the
// worker pool. Errors carry an apperr kind.
func (s *Service) Extract(ctx context.Context, req Request) (*Result, error) {
	if !req.Strategy.Valid() {
		return nil, apperr.BadRequest("unknown extraction strategy %q", req.Strategy)
	}
	if len(req.Document) == 0 {
		return nil, apperr.DocumentFormat(nil, "uploaded file is empty")
	}
	if !textextract.IsPDF(req.Document) {
		return nil, apperr.DocumentFormat(textextract.ErrNotPDF, "uploaded file is not a PDF")
	}

	start := time.Now()
	res, err := Do(ctx, s.pool, func(ctx context.Context) (*Result, error) {
		return s.run(ctx, req)
	})
	if err != nil {
		s.logger.Warn("extraction failed",
			"strategy", string(req.Strategy),
			"status", apperr.Status(err),
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	s.logger.Info("extraction completed",
		"strategy", string(req.Strategy),
		"bytes", len(req.Document),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Strategy: req.Strategy}
	switch req.Strategy {
	case StrategySignDate:
		date, err := s.signDate.ExtractSigningDate(ctx, req.Document)
		if err != nil {
			return nil, err
		}
		res.SignDate = date
	case StrategyDates:
		pair, err := s.dates.ExtractDates(ctx, req.Document, req.DPI)
		if err != nil {
			return nil, err
		}
		res.Dates = pair
	case StrategyOCR:
		text, err := s.ocr.ExtractText(ctx, req.Document, req.Language, req.DPI)
		if err != nil {
			return nil, err
		}
		res.Text = text
	default:
		return nil, fmt.Errorf("unhandled strategy %q", req.Strategy)
	}
	return res, nil
}
