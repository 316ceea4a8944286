package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nikhilbhutani/docintel/internal/apperr"
)

// DefaultLanguage is the tesseract traineddata used when none is requested.
const DefaultLanguage = "fra"

var languagePattern = regexp.MustCompile(`^[A-Za-z_]+(\+[A-Za-z_]+)*$`)

// ValidLanguage reports whether lang is a tesseract language spec such as
// "fra" or "fra+eng".
func ValidLanguage(lang string) bool {
	return languagePattern.MatchString(lang)
}

// Runner executes an external command with stdin and returns its output.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type OCRService struct {
	tesseractPath string
	language      string
	raster        *Rasterizer
	runner        Runner
	logger        *slog.Logger
}

type OCROption func(*OCRService)

func WithRunner(r Runner) OCROption {
	return func(o *OCRService) { o.runner = r }
}

func WithOCRLogger(l *slog.Logger) OCROption {
	return func(o *OCRService) {
		if l != nil {
			o.logger = l
		}
	}
}

func NewOCRService(tesseractPath, language string, raster *Rasterizer, opts ...OCROption) *OCRService {
	if tesseractPath == "" {
		tesseractPath = "tesseract"
	}
	if path, err := exec.LookPath(tesseractPath); err == nil {
		tesseractPath = path
	}
	if language == "" {
		language = DefaultLanguage
	}
	o := &OCRService{
		tesseractPath: tesseractPath,
		language:      language,
		raster:        raster,
		runner:        ExecRunner{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OCRService) Language() string { return o.language }

// IsAvailable reports whether the tesseract binary can be executed.
func (o *OCRService) IsAvailable(ctx context.Context) bool {
	_, _, err := o.runner.Run(ctx, nil, o.tesseractPath, "--version")
	return err == nil
}

// ExtractText OCRs every page in page order and concatenates the engine's
// output as is. Any page failure fails the whole document.
func (o *OCRService) ExtractText(ctx context.Context, data []byte, language string, dpi int) (string, error) {
	if language == "" {
		language = o.language
	}
	if !ValidLanguage(language) {
		return "", apperr.BadRequest("invalid OCR language %q", language)
	}

	pages, err := o.raster.RasterizeAll(data, dpi)
	if err != nil {
		return "", err
	}
	defer pages.Close()

	start := time.Now()
	var sb strings.Builder
	for img, err := range pages.All() {
		if err != nil {
			return "", err
		}
		text, err := o.recognize(ctx, img, language)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}

	o.logger.Info("ocr completed",
		"pages", pages.Len(),
		"language", language,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sb.String(), nil
}

func (o *OCRService) recognize(ctx context.Context, img *RasterImage, language string) (string, error) {
	encoded, err := img.PNG()
	if err != nil {
		return "", apperr.OCREngine(err, "encode page %d", img.Page+1)
	}

	stdout, stderr, err := o.runner.Run(ctx, bytes.NewReader(encoded), o.tesseractPath, "stdin", "stdout", "-l", language)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", apperr.OCREngine(err, "tesseract unavailable")
		}
		detail := strings.TrimSpace(string(stderr))
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return "", apperr.OCREngine(err, "tesseract failed on page %d", img.Page+1)
	}
	return string(stdout), nil
}
