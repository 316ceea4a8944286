package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nikhilbhutani/docintel/internal/apperr"
	"github.com/nikhilbhutani/docintel/internal/document"
	"github.com/nikhilbhutani/docintel/internal/extraction"
)

const defaultMaxUpload = 32 << 20

// Extractor runs one extraction request.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

type uploadParams struct {
	DPI      int    `validate:"omitempty,min=36,max=600"`
	Language string `validate:"omitempty,max=64,ocrlang"`
}

type ExtractionHandler struct {
	svc       Extractor
	validate  *validator.Validate
	maxUpload int64
}

func NewExtractionHandler(svc Extractor, maxUpload int64) *ExtractionHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("ocrlang", func(fl validator.FieldLevel) bool {
		return document.ValidLanguage(fl.Field().String())
	})
	return &ExtractionHandler{svc: svc, validate: v, maxUpload: maxUpload}
}

// OCR returns the full document text read by the local OCR engine.
func (h *ExtractionHandler) OCR(w http.ResponseWriter, r *http.Request) {
	res, ok := h.extract(w, r, extraction.StrategyOCR)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": res.Text})
}

// Dates returns the date of birth and date of death read from page 1 by the
// vision model.
func (h *ExtractionHandler) Dates(w http.ResponseWriter, r *http.Request) {
	res, ok := h.extract(w, r, extraction.StrategyDates)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Dates)
}

// SignDate returns the last date in the document's embedded text, or null.
func (h *ExtractionHandler) SignDate(w http.ResponseWriter, r *http.Request) {
	res, ok := h.extract(w, r, extraction.StrategySignDate)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]*string{"sign_date": res.SignDate})
}

func (h *ExtractionHandler) extract(w http.ResponseWriter, r *http.Request, strategy extraction.Strategy) (*extraction.Result, bool) {
	req, err := h.parseUpload(w, r)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	req.Strategy = strategy

	res, err := h.svc.Extract(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return res, true
}

func (h *ExtractionHandler) parseUpload(w http.ResponseWriter, r *http.Request) (extraction.Request, error) {
	var req extraction.Request

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, apperr.BadRequest("upload exceeds %d bytes", h.maxUpload)
		}
		return req, apperr.BadRequest("invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		return req, apperr.BadRequest("file required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, apperr.BadRequest("read uploaded file")
	}

	params := uploadParams{Language: strings.TrimSpace(r.FormValue("language"))}
	if raw := firstNonEmpty(r.FormValue("dpi"), r.FormValue("resolution")); raw != "" {
		params.DPI, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return req, apperr.BadRequest("dpi must be an integer")
		}
	}
	if err := h.validate.Struct(params); err != nil {
		return req, apperr.BadRequest("%s", validationMessage(err))
	}

	req.Document = data
	req.DPI = params.DPI
	req.Language = params.Language
	return req, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid parameters"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "DPI":
		return "dpi must be between 36 and 600"
	case "Language":
		return "invalid OCR language"
	}
	return "invalid parameter " + strings.ToLower(fe.Field())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
