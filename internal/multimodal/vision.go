package multimodal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/internal/document"
	"github.com/nikhilbhutani/docintel/internal/llm"
)

const (
	DefaultMaxTokens   = 300
	DefaultTimeout     = 60 * time.Second
	DefaultJPEGQuality = 90
)

// dateInstruction is sent with the first page of the document.
const dateInstruction = `This image is the first page of a civil-status document.
Find the date of birth and the date of death of the person it concerns.
Reply with a JSON object with exactly two string fields:
"dob": the date of birth formatted dd/mm/yyyy, or "" if it does not appear;
"dod": the date of death formatted dd/mm/yyyy, or "" if it does not appear.`

var fullDate = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// DatePair holds a date of birth and a date of death. An empty field means
// the date was not found.
type DatePair struct {
	DOB string `json:"dob"`
	DOD string `json:"dod"`
}

// VisionService extracts dates from page images with a vision-capable model.
type VisionService struct {
	gateway   llm.Gateway
	raster    *document.Rasterizer
	provider  string
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

type VisionOption func(*VisionService)

func WithProvider(name string) VisionOption {
	return func(v *VisionService) { v.provider = name }
}

func WithMaxTokens(n int) VisionOption {
	return func(v *VisionService) {
		if n > 0 {
			v.maxTokens = n
		}
	}
}

func WithTimeout(d time.Duration) VisionOption {
	return func(v *VisionService) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) VisionOption {
	return func(v *VisionService) {
		if l != nil {
			v.logger = l
		}
	}
}

func NewVisionService(gw llm.Gateway, raster *document.Rasterizer, model string, opts ...VisionOption) *VisionService {
	if model == "" {
		model = "gpt-4o"
	}
	v := &VisionService{
		gateway:   gw,
		raster:    raster,
		model:     model,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// KnownModel reports whether the gateway lists the configured model for the
// configured provider. An empty provider matches any.
func (v *VisionService) KnownModel() bool {
	for _, m := range v.gateway.ListModels() {
		if m.Model == v.model && (v.provider == "" || m.Provider == v.provider) {
			return true
		}
	}
	return false
}

// ExtractDates rasterizes the first page at dpi and asks the model for the
// date of birth and date of death shown on it.
func (v *VisionService) ExtractDates(ctx context.Context, data []byte, dpi int) (*DatePair, error) {
	page, err := v.raster.Rasterize(data, 0, dpi)
	if err != nil {
		return nil, err
	}
	jpg, err := page.JPEG(DefaultJPEGQuality)
	if err != nil {
		return nil, apperr.DocumentFormat(err, "encode first page")
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.gateway.Chat(ctx, llm.ChatRequest{
		Provider:     v.provider,
		Model:        v.model,
		MaxTokens:    v.maxTokens,
		JSONResponse: true,
		Messages: []llm.Message{{
			Role:    "user",
			Content: dateInstruction,
			Images: []llm.Image{{
				Base64:   base64.StdEncoding.EncodeToString(jpg),
				MimeType: "image/jpeg",
			}},
		}},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Upstream(err, "vision model timed out after %s", v.timeout)
		}
		return nil, apperr.Upstream(err, "vision model request failed")
	}

	v.logger.Info("vision reply received",
		"provider", resp.Provider,
		"model", resp.Model,
		"dpi", page.DPI,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"cost_usd", resp.CostUSD,
		"latency_ms", resp.LatencyMs,
	)

	return ParseDatePair(resp.Content)
}

// ParseDatePair decodes a model reply strictly as a JSON object. Missing or
// null fields, and strings that are not a full dd/mm/yyyy date, become "".
// Any other field type is an error.
func ParseDatePair(reply string) (*DatePair, error) {
	dec := json.NewDecoder(strings.NewReader(reply))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.ExtractionModel(err, "model reply is not a JSON object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, apperr.ExtractionModel(err, "model reply has trailing data after the JSON object")
	}
	if raw == nil {
		return nil, apperr.ExtractionModel(nil, "model reply is null")
	}

	dob, err := dateField(raw, "dob")
	if err != nil {
		return nil, err
	}
	dod, err := dateField(raw, "dod")
	if err != nil {
		return nil, err
	}
	return &DatePair{DOB: dob, DOD: dod}, nil
}

func dateField(raw map[string]any, key string) (string, error) {
	switch val := raw[key].(type) {
	case nil:
		return "", nil
	case string:
		val = strings.TrimSpace(val)
		if !fullDate.MatchString(val) {
			return "", nil
		}
		return val, nil
	default:
		return "", apperr.ExtractionModel(nil, "model reply field %q has type %T, want string", key, val)
	}
}
